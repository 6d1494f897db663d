package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "agent",
		Short:        "Lab reservation session agent",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reservation agent",
		RunE:  runAgent,
	}

	runCmd.Flags().String("rpc", "", "ledger RPC URL")
	runCmd.Flags().String("contract", "", "rental contract address")
	runCmd.Flags().String("session", "", "session account address")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for the reservation list")
	runCmd.Flags().String("reservations-file", "", "JSONL reservation list path")
	runCmd.Flags().Uint64("start-block", 0, "start block (0 means follow the head)")
	runCmd.Flags().Uint64("confirmations", 3, "blocks to trail behind the head")
	runCmd.Flags().Duration("watch-interval", 5*time.Second, "log poll cadence")
	runCmd.Flags().Uint64("max-block-span", 2000, "blocks per log query")
	runCmd.Flags().Int("max-retries", 3, "maximum RPC retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("cursor-file", "", "watcher cursor file path (empty disables persistence)")
	runCmd.Flags().Bool("backup-poller", false, "enable the backup status poller")
	runCmd.Flags().Duration("poll-interval", 10*time.Second, "backup poller cadence")
	runCmd.Flags().Duration("pending-timeout", 2*time.Minute, "age at which unresolved actions are dropped")
	runCmd.Flags().Duration("sweep-interval", 10*time.Second, "overlay sweep cadence")
	runCmd.Flags().Duration("pending-max-age", 2*time.Minute, "pending overlay lifetime")
	runCmd.Flags().Duration("completed-grace", 15*time.Minute, "completed overlay grace period")
	runCmd.Flags().Duration("cache-fresh-for", 30*time.Second, "cache freshness window")
	runCmd.Flags().Duration("cache-evict-after", 10*time.Minute, "cache eviction age")
	runCmd.Flags().Duration("refresh-interval", 60*time.Second, "reservation list refresh cadence")
	runCmd.Flags().Float64("rpc-rate-limit", 10, "RPC requests per second (0 disables)")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	lookupCmd := &cobra.Command{
		Use:   "lookup",
		Short: "Read one reservation from the contract",
		RunE:  runLookup,
	}

	lookupCmd.Flags().String("rpc", "", "ledger RPC URL")
	lookupCmd.Flags().String("contract", "", "rental contract address")
	lookupCmd.Flags().String("key", "", "reservation key (decimal or 0x hex)")
	lookupCmd.Flags().Float64("rpc-rate-limit", 10, "RPC requests per second (0 disables)")
	lookupCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(lookupCmd)

	reservationsCmd := &cobra.Command{
		Use:   "reservations",
		Short: "List reservations for a renter",
		RunE:  runReservations,
	}

	reservationsCmd.Flags().String("renter", "", "renter address (defaults to the session address)")
	reservationsCmd.Flags().Bool("force", false, "bypass the freshness window")
	reservationsCmd.Flags().String("session", "", "session account address")
	reservationsCmd.Flags().String("pg-dsn", "", "Postgres DSN for the reservation list")
	reservationsCmd.Flags().String("reservations-file", "", "JSONL reservation list path")
	reservationsCmd.Flags().Duration("cache-fresh-for", 30*time.Second, "cache freshness window")
	reservationsCmd.Flags().Duration("cache-evict-after", 10*time.Minute, "cache eviction age")
	reservationsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(reservationsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
