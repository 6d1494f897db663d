package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"labScope/internal/cache"
	"labScope/internal/chain"
	"labScope/internal/config"
	"labScope/internal/fetch"
	"labScope/internal/rental"
	"labScope/internal/session"
	"labScope/internal/storage"
	"labScope/internal/storage/postgres"
)

func runAgent(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.RPCRateLimit)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("query chain id: %w", err)
	}

	reader, err := rental.NewReader(cfg.Contract, chainClient)
	if err != nil {
		return err
	}

	cacheStore := cache.New(cfg.CacheFreshFor, cfg.CacheEvictAfter)

	state := session.NewState(session.Config{
		SweepInterval:  cfg.SweepInterval,
		PendingMaxAge:  cfg.PendingMaxAge,
		CompletedGrace: cfg.CompletedGrace,
	}, logger)
	defer state.Close()

	engine := session.NewEngine(session.EngineConfig{
		SessionAddress: cfg.SessionAddress,
	}, state, cacheStore, reader, session.NewLogNotifier(logger), logger)

	source, err := newReservationSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	refresher := fetch.NewRefresher(source, cacheStore, fetch.NewScheduler(), logger)
	defer refresher.Close()

	watcher, err := rental.NewWatcher(rental.WatchConfig{
		Contract:      cfg.Contract,
		StartBlock:    cfg.StartBlock,
		Confirmations: cfg.Confirmations,
		PollInterval:  cfg.WatchInterval,
		MaxBlockSpan:  cfg.MaxBlockSpan,
		MaxRetries:    cfg.MaxRetries,
		RetryBackoff:  cfg.RetryBackoff,
		CursorPath:    cfg.CursorFile,
	}, chainClient, nil, engine.HandleEvent, logger)
	if err != nil {
		return err
	}

	logger.Info("agent start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", chainID.String()),
		zap.String("contract", cfg.Contract),
		zap.String("session", cfg.SessionAddress),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("reservations_file", cfg.ReservationsFile),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Uint64("confirmations", cfg.Confirmations),
		zap.Bool("backup_poller", cfg.BackupPoller),
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		state.RunSweeper(ctx)
	}()

	if cfg.BackupPoller {
		poller := session.NewPoller(session.PollerConfig{
			Interval:     cfg.PollInterval,
			EntryTimeout: cfg.PendingTimeout,
		}, state, engine, reader, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("backup poller stopped", zap.Error(err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		drainSignals(ctx, state.Bus, logger)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runPeriodicRefresh(ctx, refresher, cfg.SessionAddress, cfg.RefreshInterval, logger)
	}()

	err = watcher.Run(ctx)
	stop()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("agent stopped")
	return nil
}

func newReservationSource(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (storage.ReservationSource, error) {
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store, nil
	}
	return storage.NewJSONLSource(cfg.ReservationsFile, logger), nil
}

// drainSignals keeps the bus flowing and gives operators a trace of
// every reconciliation, including replays that fired no notification.
func drainSignals(ctx context.Context, bus *session.Bus, logger *zap.Logger) {
	ch := bus.Subscribe(64)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			fields := []zap.Field{
				zap.String("signal", sig.Name),
				zap.String("reservation_key", sig.ReservationKey),
				zap.Bool("notified", sig.Notified),
			}
			if sig.TokenID != "" {
				fields = append(fields, zap.String("token_id", sig.TokenID))
			}
			if sig.Reason != nil {
				fields = append(fields, zap.Uint8("reason", *sig.Reason))
			}
			logger.Info("reservation signal", fields...)
		}
	}
}

func runPeriodicRefresh(ctx context.Context, refresher *fetch.Refresher, renter string, every time.Duration, logger *zap.Logger) {
	if renter == "" || every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := refresher.Reservations(ctx, renter, false); err != nil {
				logger.Debug("scheduled reservation refresh failed", zap.Error(err))
			}
		}
	}
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
