package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// AgentConfig holds configuration values loaded from flags, env, or
// config file.
type AgentConfig struct {
	RPCURL           string
	Contract         string
	SessionAddress   string
	PGDSN            string
	ReservationsFile string

	StartBlock    uint64
	Confirmations uint64
	WatchInterval time.Duration
	MaxBlockSpan  uint64
	MaxRetries    int
	RetryBackoff  time.Duration
	CursorFile    string

	BackupPoller   bool
	PollInterval   time.Duration
	PendingTimeout time.Duration

	SweepInterval  time.Duration
	PendingMaxAge  time.Duration
	CompletedGrace time.Duration

	CacheFreshFor   time.Duration
	CacheEvictAfter time.Duration
	RefreshInterval time.Duration

	RPCRateLimit float64
	LogLevel     string
}

// Load merges config file, environment variables, and flags into
// AgentConfig.
func Load(cfgFile string, flags *pflag.FlagSet) (AgentConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("confirmations", uint64(3))
	v.SetDefault("watch-interval", 5*time.Second)
	v.SetDefault("max-block-span", uint64(2000))
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("backup-poller", false)
	v.SetDefault("poll-interval", 10*time.Second)
	v.SetDefault("pending-timeout", 2*time.Minute)
	v.SetDefault("sweep-interval", 10*time.Second)
	v.SetDefault("pending-max-age", 2*time.Minute)
	v.SetDefault("completed-grace", 15*time.Minute)
	v.SetDefault("cache-fresh-for", 30*time.Second)
	v.SetDefault("cache-evict-after", 10*time.Minute)
	v.SetDefault("refresh-interval", 60*time.Second)
	v.SetDefault("rpc-rate-limit", 10.0)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return AgentConfig{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return AgentConfig{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return AgentConfig{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := AgentConfig{
		RPCURL:           v.GetString("rpc"),
		Contract:         v.GetString("contract"),
		SessionAddress:   v.GetString("session"),
		PGDSN:            v.GetString("pg-dsn"),
		ReservationsFile: v.GetString("reservations-file"),
		StartBlock:       v.GetUint64("start-block"),
		Confirmations:    v.GetUint64("confirmations"),
		WatchInterval:    v.GetDuration("watch-interval"),
		MaxBlockSpan:     v.GetUint64("max-block-span"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		CursorFile:       v.GetString("cursor-file"),
		BackupPoller:     v.GetBool("backup-poller"),
		PollInterval:     v.GetDuration("poll-interval"),
		PendingTimeout:   v.GetDuration("pending-timeout"),
		SweepInterval:    v.GetDuration("sweep-interval"),
		PendingMaxAge:    v.GetDuration("pending-max-age"),
		CompletedGrace:   v.GetDuration("completed-grace"),
		CacheFreshFor:    v.GetDuration("cache-fresh-for"),
		CacheEvictAfter:  v.GetDuration("cache-evict-after"),
		RefreshInterval:  v.GetDuration("refresh-interval"),
		RPCRateLimit:     v.GetFloat64("rpc-rate-limit"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the fields the long-running agent cannot start
// without. One-shot commands validate their own narrower subsets.
func (c AgentConfig) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	if c.SessionAddress == "" {
		return fmt.Errorf("session address is required")
	}
	if c.PGDSN == "" && c.ReservationsFile == "" {
		return fmt.Errorf("either pg-dsn or reservations-file is required")
	}
	return nil
}
