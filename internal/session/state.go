package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"labScope/internal/model"
)

const (
	defaultSweepInterval  = 10 * time.Second
	defaultPendingMaxAge  = 2 * time.Minute
	defaultCompletedGrace = 15 * time.Minute
)

// Config holds the session state lifecycle windows.
type Config struct {
	SweepInterval  time.Duration
	PendingMaxAge  time.Duration
	CompletedGrace time.Duration
}

func (c *Config) fillDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.PendingMaxAge <= 0 {
		c.PendingMaxAge = defaultPendingMaxAge
	}
	if c.CompletedGrace <= 0 {
		c.CompletedGrace = defaultCompletedGrace
	}
}

// State is the per-session context object owning every mutable tracker:
// the optimistic overlays, the pending action tracker, the notification
// gate and the signal bus. Nothing here is module-global, so separate
// State instances share no state at all. All of it is disposable; the
// ledger is the only durable record.
type State struct {
	cfg Config

	Listings *Overlay
	Bookings *Overlay
	General  *StateOverlay
	Pending  *Tracker
	Gate     *Gate
	Bus      *Bus

	logger   *zap.Logger
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewState builds an empty session state. A nil logger defaults to a
// no-op logger.
func NewState(cfg Config, logger *zap.Logger) *State {
	cfg.fillDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	return &State{
		cfg:      cfg,
		Listings: NewOverlay(now),
		Bookings: NewOverlay(now),
		General:  NewStateOverlay(now),
		Pending:  NewTracker(now),
		Gate:     NewGate(),
		Bus:      NewBus(logger),
		logger:   logger.Named("session"),
		now:      now,
		done:     make(chan struct{}),
	}
}

// setClock rewires every time source for tests.
func (s *State) setClock(now func() time.Time) {
	s.now = now
	s.Listings.now = now
	s.Bookings.now = now
	s.General.now = now
	s.Pending.now = now
}

// RunSweeper evicts expired optimistic entries on a fixed cadence until
// the context is cancelled or Close is called. One ticker covers every
// store, so timer count stays flat no matter how many entries exist.
func (s *State) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one eviction pass over all overlay stores and returns how
// many entries were dropped.
func (s *State) Sweep() int {
	evicted := s.Listings.SweepExpired(s.cfg.PendingMaxAge, s.cfg.CompletedGrace)
	evicted += s.Bookings.SweepExpired(s.cfg.PendingMaxAge, s.cfg.CompletedGrace)
	evicted += s.General.SweepExpired(s.cfg.PendingMaxAge, s.cfg.CompletedGrace)
	if evicted > 0 {
		s.logger.Debug("optimistic entries evicted", zap.Int("count", evicted))
	}
	return evicted
}

// Close stops the sweeper. Safe to call more than once.
func (s *State) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

// SetOptimisticListingState records an optimistic listing value for a
// lab.
func (s *State) SetOptimisticListingState(labID string, desired, pending bool, operation string) {
	s.Listings.Set(model.KeyFromString(labID), desired, pending, operation)
}

// CompleteOptimisticListingState marks the listing overlay completed.
func (s *State) CompleteOptimisticListingState(labID string) {
	s.Listings.Complete(model.KeyFromString(labID))
}

// ClearOptimisticListingState removes the listing overlay.
func (s *State) ClearOptimisticListingState(labID string) {
	s.Listings.Clear(model.KeyFromString(labID))
}

// EffectiveListingState merges the listing overlay over the server
// value.
func (s *State) EffectiveListingState(labID string, server *bool) BoolState {
	return s.Listings.Effective(model.KeyFromString(labID), server)
}

// SetOptimisticBookingState records an optimistic booking value for a
// lab or reservation key.
func (s *State) SetOptimisticBookingState(id string, desired, pending bool, operation string) {
	s.Bookings.Set(model.KeyFromString(id), desired, pending, operation)
}

// CompleteOptimisticBookingState marks the booking overlay completed.
func (s *State) CompleteOptimisticBookingState(id string) {
	s.Bookings.Complete(model.KeyFromString(id))
}

// ClearOptimisticBookingState removes the booking overlay.
func (s *State) ClearOptimisticBookingState(id string) {
	s.Bookings.Clear(model.KeyFromString(id))
}

// EffectiveBookingState merges the booking overlay over the server
// value.
func (s *State) EffectiveBookingState(id string, server *bool) BoolState {
	return s.Bookings.Effective(model.KeyFromString(id), server)
}

// SetOptimisticState shallow-merges optimistic fields for a multi-field
// entity.
func (s *State) SetOptimisticState(id string, fields map[string]interface{}, pending bool, operation string) {
	s.General.Set(model.KeyFromString(id), fields, pending, operation)
}

// CompleteOptimisticState marks the general overlay completed.
func (s *State) CompleteOptimisticState(id string) {
	s.General.Complete(model.KeyFromString(id))
}

// ClearOptimisticState removes the general overlay.
func (s *State) ClearOptimisticState(id string) {
	s.General.Clear(model.KeyFromString(id))
}

// EffectiveState merges the general overlay over the server fields.
func (s *State) EffectiveState(id string, server map[string]interface{}) FieldState {
	return s.General.Effective(model.KeyFromString(id), server)
}

// RegisterPendingConfirmation tracks a confirmation submitted by this
// session.
func (s *State) RegisterPendingConfirmation(key, tokenID, requester string) {
	s.Pending.Track(ActionConfirm, key, tokenID, requester)
}

// RegisterPendingCancellation tracks a cancellation submitted by this
// session.
func (s *State) RegisterPendingCancellation(key, tokenID, requester string) {
	s.Pending.Track(ActionCancel, key, tokenID, requester)
}

// clearReservationOverlays drops booking and general overlays for every
// id associated with a resolved reservation. Listing overlays are not
// touched; listing changes resolve through their own write path.
func (s *State) clearReservationOverlays(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		s.Bookings.Clear(id)
		s.General.Clear(id)
	}
}
