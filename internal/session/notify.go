package session

import (
	"sync"

	"go.uber.org/zap"
)

// Class identifies a notification event class. The gate dedupes on
// (class, key), so each class fires at most once per key per session.
type Class string

const (
	ClassRequested        Class = "requested"
	ClassConfirmed        Class = "confirmed"
	ClassBookingCancelled Class = "booking-cancelled"
	ClassRequestCancelled Class = "request-cancelled"
	ClassDenied           Class = "denied"
	ClassRequestedOnChain Class = "requested-onchain"
)

// Terminal reports whether the class settles the reservation. The two
// requested classes only acknowledge ledger sightings.
func (c Class) Terminal() bool {
	switch c {
	case ClassConfirmed, ClassBookingCancelled, ClassRequestCancelled, ClassDenied:
		return true
	default:
		return false
	}
}

// Notification is one user-facing reservation outcome. Reason is only
// set on denials.
type Notification struct {
	Class          Class
	ReservationKey string
	TokenID        string
	Reason         *uint8
}

// Notifier receives at-most-once notifications per (class, key). The
// engine is the only caller; it gates before notifying.
type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications to the logger. It is the sink used
// when no UI transport is attached.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a logging notifier. A nil logger defaults to a
// no-op logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(msg Notification) {
	fields := []zap.Field{
		zap.String("class", string(msg.Class)),
		zap.String("reservation_key", msg.ReservationKey),
		zap.String("token_id", msg.TokenID),
	}
	if msg.Reason != nil {
		fields = append(fields, zap.Uint8("reason", *msg.Reason))
	}
	n.logger.Info("reservation notification", fields...)
}

// Gate is the session's monotonic dedupe set. Pairs marked once stay
// marked for the life of the session; there is no reset path.
type Gate struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewGate builds an empty gate.
func NewGate() *Gate {
	return &Gate{seen: make(map[string]struct{})}
}

func gateID(class Class, key string) string {
	return string(class) + "|" + key
}

// FirstTime marks (class, key) and reports whether this call was the
// first to see it.
func (g *Gate) FirstTime(class Class, key string) bool {
	id := gateID(class, key)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return false
	}
	g.seen[id] = struct{}{}
	return true
}

// Seen reports whether (class, key) was already marked, without
// marking it.
func (g *Gate) Seen(class Class, key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[gateID(class, key)]
	return ok
}

// Signal names published on the bus.
const (
	SignalCancelled        = "reservation-cancelled"
	SignalRequestDenied    = "reservation-request-denied"
	SignalRequestedOnChain = "reservation-requested-onchain"
)

// Signal is a decoupled broadcast about a reconciled reservation.
// Notified reports whether the user-facing notification actually fired,
// so listeners can tell a first resolution from a replay.
type Signal struct {
	Name           string
	ReservationKey string
	TokenID        string
	Notified       bool
	Reason         *uint8
}

// Bus fans signals out to subscribers the engine knows nothing about.
// Publishing never blocks: a subscriber that stops draining loses
// signals instead of stalling reconciliation.
type Bus struct {
	mu     sync.Mutex
	subs   []chan Signal
	logger *zap.Logger
}

// NewBus builds an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a new subscriber and returns its channel. buffer
// values below one take a default.
func (b *Bus) Subscribe(buffer int) <-chan Signal {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Signal, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers the signal to every subscriber, dropping it for
// those whose buffers are full.
func (b *Bus) Publish(sig Signal) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- sig:
		default:
			b.logger.Warn("signal dropped",
				zap.String("signal", sig.Name),
				zap.String("reservation_key", sig.ReservationKey))
		}
	}
}
