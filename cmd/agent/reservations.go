package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"labScope/internal/cache"
	"labScope/internal/config"
	"labScope/internal/fetch"
)

func runReservations(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	renter, _ := cmd.Flags().GetString("renter")
	force, _ := cmd.Flags().GetBool("force")

	if renter == "" {
		renter = cfg.SessionAddress
	}
	if renter == "" {
		return fmt.Errorf("renter address is required")
	}
	if cfg.PGDSN == "" && cfg.ReservationsFile == "" {
		return fmt.Errorf("pg-dsn or reservations-file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := newReservationSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	cacheStore := cache.New(cfg.CacheFreshFor, cfg.CacheEvictAfter)
	refresher := fetch.NewRefresher(source, cacheStore, fetch.NewScheduler(), logger)
	defer refresher.Close()

	reservations, err := refresher.Reservations(ctx, renter, force)
	if err != nil {
		var throttled *fetch.ThrottledError
		if errors.As(err, &throttled) {
			return fmt.Errorf("refresh throttled, retry after %s", throttled.RetryAt.Format(time.RFC3339))
		}
		return err
	}

	return printJSON(reservations)
}
