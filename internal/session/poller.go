package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval  = 10 * time.Second
	defaultEntryTimeout  = 120 * time.Second
	defaultCheckSpacing  = 10 * time.Second
	defaultLookupTimeout = 5 * time.Second
)

// PollerConfig holds the backup poller's runtime settings.
type PollerConfig struct {
	// Interval is the tick cadence.
	Interval time.Duration
	// EntryTimeout evicts actions the ledger never resolved.
	EntryTimeout time.Duration
	// CheckSpacing throttles per-entry reads to roughly one per spacing.
	CheckSpacing time.Duration
	// LookupTimeout bounds each status read.
	LookupTimeout time.Duration
}

func (c *PollerConfig) fillDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	if c.EntryTimeout <= 0 {
		c.EntryTimeout = defaultEntryTimeout
	}
	if c.CheckSpacing <= 0 {
		c.CheckSpacing = defaultCheckSpacing
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = defaultLookupTimeout
	}
}

// Poller re-derives ledger state for pending actions the event stream
// never resolved. It is the fallback for dropped events and runs only
// when explicitly enabled, since every tick costs reads. Every outcome
// it finds goes through the engine's reconcile funnel; the poller never
// notifies or invalidates on its own.
type Poller struct {
	cfg    PollerConfig
	state  *State
	engine *Engine
	reader StatusReader
	logger *zap.Logger
	now    func() time.Time
}

// NewPoller builds the backup poller.
func NewPoller(cfg PollerConfig, state *State, engine *Engine, reader StatusReader, logger *zap.Logger) *Poller {
	cfg.fillDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:    cfg,
		state:  state,
		engine: engine,
		reader: reader,
		logger: logger.Named("poller"),
		now:    time.Now,
	}
}

// Run ticks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p.state == nil || p.engine == nil || p.reader == nil {
		return fmt.Errorf("poller is missing dependencies")
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce settles every tracked action independently. The fan-out is
// parallel so one slow lookup never stalls its siblings.
func (p *Poller) pollOnce(ctx context.Context) {
	actions := p.state.Pending.Snapshot()
	if len(actions) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, action := range actions {
		wg.Add(1)
		go func(a PendingAction) {
			defer wg.Done()
			p.settle(ctx, a)
		}(action)
	}
	wg.Wait()
}

// settle resolves one action: evict on timeout, skip freshly-checked
// entries, otherwise read the ledger and reconcile.
func (p *Poller) settle(ctx context.Context, a PendingAction) {
	defer p.guard(a.ReservationKey)

	age := p.now().Sub(a.CreatedAt)
	if age > p.cfg.EntryTimeout {
		// Gives up quietly: caches for the key may stay stale until the
		// next event or list refresh touches it.
		p.state.Pending.RemoveAction(a.Kind, a.ReservationKey)
		p.logger.Debug("pending action timed out",
			zap.String("key", a.ReservationKey),
			zap.String("kind", string(a.Kind)),
			zap.Duration("age", age))
		return
	}
	if time.Duration(a.Attempts)*p.cfg.CheckSpacing > age {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, p.cfg.LookupTimeout)
	res, err := p.reader.GetReservation(readCtx, a.ReservationKey)
	cancel()
	if err != nil {
		p.state.Pending.IncrementAttempts(a.Kind, a.ReservationKey)
		p.logger.Debug("status read failed",
			zap.String("key", a.ReservationKey),
			zap.Int("attempts", a.Attempts+1),
			zap.Error(err))
		return
	}

	// The event path may have settled the key while the read was in
	// flight; if so there is nothing left to do.
	if _, ok := p.state.Pending.Find(a.ReservationKey); !ok {
		return
	}

	switch {
	case res.IsConfirmed():
		p.engine.Reconcile(ctx, a.ReservationKey, Outcome{
			Class:   ClassConfirmed,
			TokenID: res.TokenID,
			Renter:  res.Renter,
			Source:  "poll",
		})
	case res.IsPending():
		// Still unresolved on the ledger. If no requested notification
		// was ever delivered, this sighting recovers the missed event.
		if p.state.Gate.Seen(ClassRequested, a.ReservationKey) ||
			p.state.Gate.Seen(ClassRequestedOnChain, a.ReservationKey) {
			return
		}
		p.engine.Reconcile(ctx, a.ReservationKey, Outcome{
			Class:   ClassRequestedOnChain,
			TokenID: res.TokenID,
			Renter:  res.Renter,
			Source:  "poll",
		})
	default:
		reason := res.Status
		p.engine.Reconcile(ctx, a.ReservationKey, Outcome{
			Class:   ClassDenied,
			TokenID: res.TokenID,
			Renter:  res.Renter,
			Reason:  &reason,
			Source:  "poll",
		})
	}
}

func (p *Poller) guard(key string) {
	if r := recover(); r != nil {
		p.logger.Error("poll settle panic", zap.String("key", key), zap.Any("panic", r))
	}
}
