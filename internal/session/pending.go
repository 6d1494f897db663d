package session

import (
	"sync"
	"time"

	"labScope/internal/model"
)

// ActionKind distinguishes the two reservation mutations a session can
// have in flight.
type ActionKind string

const (
	ActionConfirm ActionKind = "confirm"
	ActionCancel  ActionKind = "cancel"
)

// PendingAction is one in-flight reservation mutation awaiting a ledger
// resolution. Requester is the address captured at submit time; it is
// more reliable for ownership than anything an event carries later.
type PendingAction struct {
	ReservationKey string
	TokenID        string
	Requester      string
	Kind           ActionKind
	CreatedAt      time.Time
	Attempts       int
}

// Tracker holds the session's pending actions, at most one per
// (key, kind). Keys are normalized on every entry point so lookups from
// events, polls and user calls always agree.
type Tracker struct {
	mu      sync.Mutex
	actions map[string]PendingAction
	now     func() time.Time
}

// NewTracker builds an empty tracker. A nil clock defaults to time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{actions: make(map[string]PendingAction), now: now}
}

func actionID(key string, kind ActionKind) string {
	return key + "|" + string(kind)
}

// Track inserts or overwrites the action for (key, kind), resetting its
// age and attempt counter. Used on submit, when full context is known.
func (t *Tracker) Track(kind ActionKind, key, tokenID, requester string) {
	key = model.KeyFromString(key)
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions[actionID(key, kind)] = PendingAction{
		ReservationKey: key,
		TokenID:        model.KeyFromString(tokenID),
		Requester:      model.NormalizeAddress(requester),
		Kind:           kind,
		CreatedAt:      t.now(),
	}
}

// Register upserts: an existing action keeps its CreatedAt and
// Attempts, and only fields still empty are filled in. Used when an
// event arrives with partial context for a key submitted elsewhere.
func (t *Tracker) Register(kind ActionKind, key, tokenID, requester string) {
	key = model.KeyFromString(key)
	if key == "" {
		return
	}
	tokenID = model.KeyFromString(tokenID)
	requester = model.NormalizeAddress(requester)

	t.mu.Lock()
	defer t.mu.Unlock()
	id := actionID(key, kind)
	if e, ok := t.actions[id]; ok {
		if e.TokenID == "" {
			e.TokenID = tokenID
		}
		if e.Requester == "" {
			e.Requester = requester
		}
		t.actions[id] = e
		return
	}
	t.actions[id] = PendingAction{
		ReservationKey: key,
		TokenID:        tokenID,
		Requester:      requester,
		Kind:           kind,
		CreatedAt:      t.now(),
	}
}

// Find returns the tracked action for the key, preferring the
// confirmation slot when both kinds are present.
func (t *Tracker) Find(key string) (PendingAction, bool) {
	key = model.KeyFromString(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.actions[actionID(key, ActionConfirm)]; ok {
		return a, true
	}
	if a, ok := t.actions[actionID(key, ActionCancel)]; ok {
		return a, true
	}
	return PendingAction{}, false
}

// Remove drops every action tracked for the key. Called on terminal
// resolutions, which moot both mutation kinds at once.
func (t *Tracker) Remove(key string) {
	key = model.KeyFromString(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.actions, actionID(key, ActionConfirm))
	delete(t.actions, actionID(key, ActionCancel))
}

// RemoveAction drops one (key, kind) slot. Used by the poller's timeout
// eviction.
func (t *Tracker) RemoveAction(kind ActionKind, key string) {
	key = model.KeyFromString(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.actions, actionID(key, kind))
}

// IncrementAttempts bumps the attempt counter after a failed status
// read. Missing actions are ignored.
func (t *Tracker) IncrementAttempts(kind ActionKind, key string) {
	key = model.KeyFromString(key)
	t.mu.Lock()
	defer t.mu.Unlock()
	id := actionID(key, kind)
	if e, ok := t.actions[id]; ok {
		e.Attempts++
		t.actions[id] = e
	}
}

// Snapshot returns a copy of every tracked action for the poller's
// fan-out. Mutating the result does not touch the tracker.
func (t *Tracker) Snapshot() []PendingAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingAction, 0, len(t.actions))
	for _, a := range t.actions {
		out = append(out, a)
	}
	return out
}

// Len returns the tracked action count.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.actions)
}
