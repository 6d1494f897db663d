package rental

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"labScope/internal/model"
)

// maxSeenEntries caps the duplicate-suppression map. The cursor only
// moves forward, so old entries are safe to drop wholesale.
const maxSeenEntries = 4096

// LogSource is the slice of the chain client the watcher needs.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Handler receives each decoded reservation event in log order.
type Handler func(ctx context.Context, ev model.ReservationEvent)

// WatchConfig holds runtime settings for the event watcher.
type WatchConfig struct {
	Contract      string
	StartBlock    uint64
	Confirmations uint64
	PollInterval  time.Duration
	MaxBlockSpan  uint64
	MaxRetries    int
	RetryBackoff  time.Duration
	// CursorPath persists sync progress across restarts. Empty
	// disables persistence.
	CursorPath string
}

func (c *WatchConfig) fillDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxBlockSpan == 0 {
		c.MaxBlockSpan = 2000
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Watcher tails the rental contract's logs and feeds decoded events to
// a handler. It trails the head by a confirmation depth so reorged
// logs are never delivered.
type Watcher struct {
	cfg      WatchConfig
	contract common.Address
	source   LogSource
	decoder  *EventDecoder
	handler  Handler
	logger   *zap.Logger

	seen    map[string]struct{}
	cursor  uint64
	cursors *CursorStore
}

// NewWatcher builds a watcher for one rental contract.
func NewWatcher(cfg WatchConfig, source LogSource, decoder *EventDecoder, handler Handler, logger *zap.Logger) (*Watcher, error) {
	cfg.fillDefaults()
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.Contract)
	}
	if source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is nil")
	}
	if decoder == nil {
		var err error
		decoder, err = NewEventDecoder()
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cfg:      cfg,
		contract: common.HexToAddress(cfg.Contract),
		source:   source,
		decoder:  decoder,
		handler:  handler,
		logger:   logger.Named("watcher"),
		seen:     make(map[string]struct{}),
		cursors:  NewCursorStore(cfg.CursorPath),
	}, nil
}

// Run tails the contract until the context is cancelled. Transient
// sync failures are logged and retried on the next tick; only
// cancellation ends the loop.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.resolveStart(ctx); err != nil {
		return err
	}
	w.logger.Info("watching rental contract",
		zap.String("contract", w.contract.Hex()),
		zap.Uint64("from_block", w.cursor),
		zap.Uint64("confirmations", w.cfg.Confirmations))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.sync(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Warn("sync failed", zap.Error(err))
			}
		}
	}
}

// resolveStart picks the first block to sync: the stored cursor when
// one exists, otherwise the configured start block, otherwise just
// past the current safe head.
func (w *Watcher) resolveStart(ctx context.Context) error {
	w.cursor = w.cfg.StartBlock
	if cur, ok, err := w.cursors.Load(w.cfg.Contract); err != nil {
		w.logger.Warn("cursor load failed", zap.Error(err))
	} else if ok && cur.LastProcessedBlock+1 > w.cursor {
		w.cursor = cur.LastProcessedBlock + 1
	}
	if w.cursor == 0 {
		latest, err := w.latestWithRetry(ctx)
		if err != nil {
			return fmt.Errorf("resolve start block: %w", err)
		}
		w.cursor = safeHead(latest, w.cfg.Confirmations) + 1
	}
	return nil
}

// sync drains all confirmed blocks between the cursor and the safe
// head, dispatching decoded events in order.
func (w *Watcher) sync(ctx context.Context) error {
	latest, err := w.latestWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("latest block: %w", err)
	}
	safe := safeHead(latest, w.cfg.Confirmations)
	if safe < w.cursor {
		return nil
	}

	for from := w.cursor; from <= safe; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		to := from + w.cfg.MaxBlockSpan - 1
		if to > safe {
			to = safe
		}

		logs, err := w.filterLogsWithRetry(ctx, from, to)
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", from, to, err)
		}
		w.dispatch(ctx, logs)

		w.cursor = to + 1
		from = w.cursor

		if err := w.cursors.Save(w.cfg.Contract, to); err != nil {
			w.logger.Warn("cursor save failed", zap.Error(err))
		}
	}
	return nil
}

func (w *Watcher) dispatch(ctx context.Context, logs []types.Log) {
	for _, lg := range logs {
		if lg.Removed || w.isDuplicate(lg) {
			continue
		}
		ev, err := w.decoder.Decode(lg)
		if err != nil {
			w.logger.Warn("undecodable log",
				zap.Uint64("block", lg.BlockNumber),
				zap.String("tx", lg.TxHash.Hex()),
				zap.Error(err))
			continue
		}
		w.logger.Debug("reservation event",
			zap.String("kind", string(ev.Kind)),
			zap.String("key", ev.ReservationKey),
			zap.Uint64("block", ev.BlockNumber))
		w.handler(ctx, ev)
	}
}

func (w *Watcher) latestWithRetry(ctx context.Context) (uint64, error) {
	var latest uint64
	err := retryWithBackoff(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = w.source.LatestBlockNumber(ctx)
		return err
	})
	return latest, err
}

func (w *Watcher) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := retryWithBackoff(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = w.source.FilterLogs(ctx, fromBlock, toBlock, []common.Address{w.contract}, w.decoder.Topics())
		if err != nil {
			w.logger.Warn("filter logs failed",
				zap.Uint64("from", fromBlock),
				zap.Uint64("to", toBlock),
				zap.Error(err))
		}
		return err
	})
	return logs, err
}

func (w *Watcher) isDuplicate(lg types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", lg.BlockNumber, lg.TxHash.Hex(), lg.Index)
	if _, ok := w.seen[id]; ok {
		return true
	}
	if len(w.seen) >= maxSeenEntries {
		w.seen = make(map[string]struct{})
	}
	w.seen[id] = struct{}{}
	return false
}

func safeHead(latest, confirmations uint64) uint64 {
	if latest < confirmations {
		return 0
	}
	return latest - confirmations
}

// retryWithBackoff runs fn up to attempts times, doubling the delay
// between tries and honoring cancellation while waiting.
func retryWithBackoff(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
