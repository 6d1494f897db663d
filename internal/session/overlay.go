package session

import (
	"sync"
	"time"
)

// Entry is one optimistic boolean overlay record. While it exists it
// wins over whatever the server reports, pending or not.
type Entry struct {
	Desired     bool
	Pending     bool
	Operation   string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// BoolState is the effective value handed to callers after merging the
// overlay over the server value.
type BoolState struct {
	Value      bool
	Pending    bool
	Optimistic bool
}

// Overlay stores optimistic boolean state keyed by entity id. Set is a
// latest-wins full overwrite. Missing ids never error.
type Overlay struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewOverlay builds an empty overlay store. A nil clock defaults to
// time.Now.
func NewOverlay(now func() time.Time) *Overlay {
	if now == nil {
		now = time.Now
	}
	return &Overlay{entries: make(map[string]Entry), now: now}
}

// Set records an optimistic entry, replacing any previous one.
func (o *Overlay) Set(id string, desired, pending bool, operation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries[id] = Entry{
		Desired:   desired,
		Pending:   pending,
		Operation: operation,
		CreatedAt: o.now(),
	}
}

// Complete flips the entry to not-pending, keeping its desired value.
// Completing an unknown id is a no-op.
func (o *Overlay) Complete(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return
	}
	e.Pending = false
	e.CompletedAt = o.now()
	o.entries[id] = e
}

// Clear removes the entry.
func (o *Overlay) Clear(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, id)
}

// Effective merges the overlay over the server value. server may be nil
// when the caller has no authoritative value yet; a missing entry then
// falls back to the zero value.
func (o *Overlay) Effective(id string, server *bool) BoolState {
	o.mu.Lock()
	e, ok := o.entries[id]
	o.mu.Unlock()
	if ok {
		return BoolState{Value: e.Desired, Pending: e.Pending, Optimistic: true}
	}
	if server != nil {
		return BoolState{Value: *server}
	}
	return BoolState{}
}

// Get returns the raw entry for inspection.
func (o *Overlay) Get(id string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	return e, ok
}

// SweepExpired evicts entries past their lifecycle windows: pending
// entries older than pendingMax, completed entries older than
// completedGrace. Returns the eviction count.
func (o *Overlay) SweepExpired(pendingMax, completedGrace time.Duration) int {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	evicted := 0
	for id, e := range o.entries {
		if expired(e.Pending, e.CreatedAt, e.CompletedAt, now, pendingMax, completedGrace) {
			delete(o.entries, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the live entry count.
func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

func expired(pending bool, createdAt, completedAt time.Time, now time.Time, pendingMax, completedGrace time.Duration) bool {
	if pending {
		return now.Sub(createdAt) > pendingMax
	}
	reference := completedAt
	if reference.IsZero() {
		reference = createdAt
	}
	return now.Sub(reference) > completedGrace
}

// FieldEntry is one optimistic multi-field overlay record.
type FieldEntry struct {
	Fields      map[string]interface{}
	Pending     bool
	Operation   string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// FieldState is the effective multi-field value after merging.
type FieldState struct {
	Fields     map[string]interface{}
	Pending    bool
	Optimistic bool
}

// StateOverlay stores optimistic multi-field state. Unlike Overlay,
// Set merges the new fields shallowly over the existing entry instead
// of replacing it, so independent field updates compose.
type StateOverlay struct {
	mu      sync.Mutex
	entries map[string]FieldEntry
	now     func() time.Time
}

// NewStateOverlay builds an empty multi-field overlay store.
func NewStateOverlay(now func() time.Time) *StateOverlay {
	if now == nil {
		now = time.Now
	}
	return &StateOverlay{entries: make(map[string]FieldEntry), now: now}
}

// Set merges fields into the entry, marking it pending again and
// restarting its lifecycle window.
func (o *StateOverlay) Set(id string, fields map[string]interface{}, pending bool, operation string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		e = FieldEntry{Fields: make(map[string]interface{}, len(fields))}
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	e.Pending = pending
	e.Operation = operation
	e.CreatedAt = o.now()
	e.CompletedAt = time.Time{}
	o.entries[id] = e
}

// Complete flips the entry to not-pending, keeping its fields.
func (o *StateOverlay) Complete(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return
	}
	e.Pending = false
	e.CompletedAt = o.now()
	o.entries[id] = e
}

// Clear removes the entry.
func (o *StateOverlay) Clear(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, id)
}

// Effective merges the entry's fields over the server fields. Entry
// fields win; server fields the entry never touched pass through.
func (o *StateOverlay) Effective(id string, server map[string]interface{}) FieldState {
	merged := make(map[string]interface{}, len(server)+4)
	for k, v := range server {
		merged[k] = v
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return FieldState{Fields: merged}
	}
	for k, v := range e.Fields {
		merged[k] = v
	}
	return FieldState{Fields: merged, Pending: e.Pending, Optimistic: true}
}

// SweepExpired evicts entries past their lifecycle windows.
func (o *StateOverlay) SweepExpired(pendingMax, completedGrace time.Duration) int {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	evicted := 0
	for id, e := range o.entries {
		if expired(e.Pending, e.CreatedAt, e.CompletedAt, now, pendingMax, completedGrace) {
			delete(o.entries, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the live entry count.
func (o *StateOverlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
