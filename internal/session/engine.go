package session

import (
	"context"

	"go.uber.org/zap"

	"labScope/internal/cache"
	"labScope/internal/model"
)

// StatusReader reads the ledger's current record for a reservation key.
// The chain reader satisfies this; tests swap in fakes.
type StatusReader interface {
	GetReservation(ctx context.Context, key string) (model.Reservation, error)
}

// EngineConfig wires the engine's identity.
type EngineConfig struct {
	// SessionAddress is the account this session acts for. Ownership
	// decisions compare against it.
	SessionAddress string
}

// Outcome is one resolution signal for a reservation key. The event
// path and the backup poller both produce Outcomes; nothing else
// decides notifications.
type Outcome struct {
	Class   Class
	TokenID string
	Renter  string
	Reason  *uint8
	Source  string
}

// Engine correlates ledger signals with session state: it establishes
// ownership, invalidates cache partitions, clears optimistic overlays,
// settles pending actions and fires deduped notifications.
type Engine struct {
	session  string
	state    *State
	cache    *cache.Store
	reader   StatusReader
	notifier Notifier
	logger   *zap.Logger
}

// NewEngine builds the reconciliation engine. reader may be nil, in
// which case the ownership fallback read is skipped and ambiguous
// events stay unowned. A nil notifier falls back to logging; a nil
// logger to a no-op logger.
func NewEngine(cfg EngineConfig, state *State, cacheStore *cache.Store, reader StatusReader, notifier Notifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Engine{
		session:  model.NormalizeAddress(cfg.SessionAddress),
		state:    state,
		cache:    cacheStore,
		reader:   reader,
		notifier: notifier,
		logger:   logger.Named("engine"),
	}
}

// HandleEvent ingests one decoded contract event. Nothing escapes this
// boundary: a panic from a bad payload is logged and swallowed so event
// delivery survives it.
func (e *Engine) HandleEvent(ctx context.Context, ev model.ReservationEvent) {
	defer e.guard("event", ev.ReservationKey)
	out := Outcome{
		Class:   classForKind(ev.Kind),
		TokenID: model.KeyFromString(ev.TokenID),
		Renter:  model.NormalizeAddress(ev.Renter),
		Reason:  ev.Reason,
		Source:  "event",
	}
	e.reconcile(ctx, model.KeyFromString(ev.ReservationKey), out)
}

// Reconcile applies a resolution outcome for a key. The backup poller
// feeds poll-derived outcomes through here; the panic guard matches the
// event boundary.
func (e *Engine) Reconcile(ctx context.Context, key string, out Outcome) {
	defer e.guard(out.Source, key)
	e.reconcile(ctx, model.KeyFromString(key), out)
}

// reconcile is the single funnel both resolution paths share.
func (e *Engine) reconcile(ctx context.Context, key string, out Outcome) {
	if key == "" {
		e.logger.Warn("reconcile without key", zap.String("class", string(out.Class)))
		return
	}

	pending, tracked := e.state.Pending.Find(key)

	// Ownership. The requester captured at submit time wins over the
	// event's emitted address; a detail read is the last resort and a
	// failure there means not-mine, never an error.
	owned := false
	switch {
	case tracked && pending.Requester != "":
		owned = pending.Requester == e.session
	case out.Renter != "":
		owned = model.SameAddress(out.Renter, e.session)
	default:
		owned = e.ownsByLookup(ctx, key)
	}

	// Ledger truth always wins once a signal lands: caches and overlays
	// reset whether or not the reservation is ours.
	tokenID := out.TokenID
	if tokenID == "" {
		tokenID = pending.TokenID
	}
	e.invalidatePartitions(key, tokenID, out.Renter)
	e.state.clearReservationOverlays(key, tokenID)

	if out.Class.Terminal() {
		e.state.Pending.Remove(key)
	} else if tracked {
		// A requested sighting can carry details the submit path did
		// not have yet.
		e.state.Pending.Register(pending.Kind, key, out.TokenID, out.Renter)
	}

	notified := false
	if owned {
		if e.state.Gate.FirstTime(out.Class, key) {
			e.notifier.Notify(Notification{
				Class:          out.Class,
				ReservationKey: key,
				TokenID:        tokenID,
				Reason:         out.Reason,
			})
			notified = true
		}
		e.publishSignal(key, tokenID, out, notified)
	}

	e.logger.Debug("reconciled",
		zap.String("key", key),
		zap.String("class", string(out.Class)),
		zap.String("source", out.Source),
		zap.Bool("owned", owned),
		zap.Bool("notified", notified))
}

// invalidatePartitions drops every cache partition a ledger signal can
// stale: the reservation itself, its token, the renter lists and all
// session-scoped derivations. Events never enumerate what a client
// cached, so partitions go wholesale.
func (e *Engine) invalidatePartitions(key, tokenID, renter string) {
	if e.cache == nil {
		return
	}
	e.cache.InvalidatePrefix(cache.ReservationKey(key))
	if tokenID != "" {
		e.cache.InvalidatePrefix(cache.TokenKey(tokenID))
	}
	if renter != "" {
		e.cache.InvalidatePrefix(cache.RenterKey(renter))
	}
	if e.session != "" && !model.SameAddress(renter, e.session) {
		e.cache.InvalidatePrefix(cache.RenterKey(e.session))
	}
	e.cache.InvalidatePrefix(cache.SessionPrefix)
}

// ownsByLookup issues the last-resort detail read. Errors are swallowed
// and logged at debug: a missed notification is acceptable, a broken
// handler is not.
func (e *Engine) ownsByLookup(ctx context.Context, key string) bool {
	if e.reader == nil || e.session == "" {
		return false
	}
	res, err := e.reader.GetReservation(ctx, key)
	if err != nil {
		e.logger.Debug("ownership lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return model.SameAddress(res.Renter, e.session)
}

func (e *Engine) publishSignal(key, tokenID string, out Outcome, notified bool) {
	var name string
	switch out.Class {
	case ClassBookingCancelled, ClassRequestCancelled:
		name = SignalCancelled
	case ClassDenied:
		name = SignalRequestDenied
	case ClassRequestedOnChain:
		name = SignalRequestedOnChain
	default:
		return
	}
	e.state.Bus.Publish(Signal{
		Name:           name,
		ReservationKey: key,
		TokenID:        tokenID,
		Notified:       notified,
		Reason:         out.Reason,
	})
}

// guard is deferred around every handler body. One bad event must never
// break delivery of the ones behind it.
func (e *Engine) guard(source, key string) {
	if r := recover(); r != nil {
		e.logger.Error("reconcile panic",
			zap.String("source", source),
			zap.String("key", key),
			zap.Any("panic", r))
	}
}

func classForKind(kind model.EventKind) Class {
	switch kind {
	case model.KindRequested:
		return ClassRequested
	case model.KindConfirmed:
		return ClassConfirmed
	case model.KindBookingCancelled:
		return ClassBookingCancelled
	case model.KindRequestCancelled:
		return ClassRequestCancelled
	case model.KindDenied:
		return ClassDenied
	default:
		return Class(kind)
	}
}
