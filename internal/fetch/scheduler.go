// Package fetch paces bulk reservation-list refreshes against an RPC
// provider that throttles aggressive clients.
package fetch

import (
	"sync"
	"time"
)

const (
	// Per-key failure ceilings. Once consecutive attempts reach the
	// ceiling the scheduler refuses every request, forced included,
	// until the cooldown elapses.
	ceilingEverSucceeded  = 3
	ceilingNeverSucceeded = 5

	// Rate-limit failures are forgiven this many times while the
	// attempt count is still low, so provider throttling does not
	// immediately compound into client-side throttling.
	maxFreePasses = 2
)

// cooldownSteps is indexed by attempts beyond the ceiling, clamped at
// the last entry.
var cooldownSteps = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
}

// Retry schedules after a failed fetch. Rate-limit failures retry on a
// faster-decaying ladder than generic failures.
var (
	genericRetrySteps = []time.Duration{
		5 * time.Second,
		15 * time.Second,
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
	}
	rateLimitRetrySteps = []time.Duration{
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		30 * time.Second,
	}
)

// MinInterval returns the minimum spacing between two unforced
// refreshes for a key in the given state. Keys that have never
// succeeded are probed faster than keys with a known-good copy.
func MinInterval(everSucceeded bool, attempts int) time.Duration {
	if everSucceeded {
		if attempts > 2 {
			return 120 * time.Second
		}
		return 60 * time.Second
	}
	if attempts > 3 {
		return 30 * time.Second
	}
	return 10 * time.Second
}

// FetchState is the pacing record the scheduler keeps per key.
type FetchState struct {
	LastFetchAt   time.Time
	Attempts      int
	EverSucceeded bool

	freePasses int
}

func (st *FetchState) ceiling() int {
	if st.EverSucceeded {
		return ceilingEverSucceeded
	}
	return ceilingNeverSucceeded
}

func (st *FetchState) rateLimited() bool {
	return st.Attempts >= st.ceiling()
}

func (st *FetchState) cooldown() time.Duration {
	over := st.Attempts - st.ceiling()
	if over < 0 {
		over = 0
	}
	if over >= len(cooldownSteps) {
		over = len(cooldownSteps) - 1
	}
	return cooldownSteps[over]
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	RetryAt time.Time
	Reason  string
}

// Scheduler tracks fetch pacing per key. All methods are safe for
// concurrent use.
type Scheduler struct {
	mu     sync.Mutex
	states map[string]*FetchState
	now    func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		states: make(map[string]*FetchState),
		now:    time.Now,
	}
}

func (s *Scheduler) state(key string) *FetchState {
	st, ok := s.states[key]
	if !ok {
		st = &FetchState{}
		s.states[key] = st
	}
	return st
}

// Allow reports whether a refresh for key may proceed now. force skips
// the min-interval check but never the rate-limited cooldown.
func (s *Scheduler) Allow(key string, force bool) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(key)
	now := s.now()

	if st.rateLimited() {
		retryAt := st.LastFetchAt.Add(st.cooldown())
		if now.Before(retryAt) {
			return Decision{RetryAt: retryAt, Reason: "rate limited"}
		}
		return Decision{Allowed: true}
	}
	if force {
		return Decision{Allowed: true}
	}
	retryAt := st.LastFetchAt.Add(MinInterval(st.EverSucceeded, st.Attempts))
	if now.Before(retryAt) {
		return Decision{RetryAt: retryAt, Reason: "min interval not elapsed"}
	}
	return Decision{Allowed: true}
}

// RecordSuccess resets the failure count and marks the key as having a
// known-good copy.
func (s *Scheduler) RecordSuccess(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(key)
	st.LastFetchAt = s.now()
	st.Attempts = 0
	st.EverSucceeded = true
	st.freePasses = 0
}

// RecordFailure increments the failure count. Upstream rate-limit
// failures are forgiven a bounded number of times while the count is
// still low.
func (s *Scheduler) RecordFailure(key string, rateLimited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(key)
	st.LastFetchAt = s.now()
	if rateLimited && st.Attempts < 2 && st.freePasses < maxFreePasses {
		st.freePasses++
		return
	}
	st.Attempts++
}

// RetryDelay returns how long to wait before retrying key after the
// failure just recorded.
func (s *Scheduler) RetryDelay(key string, rateLimited bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(key)
	steps := genericRetrySteps
	if rateLimited {
		steps = rateLimitRetrySteps
	}
	idx := st.Attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	return steps[idx]
}

// NextRetryAt returns the earliest time an unforced refresh for key
// can proceed.
func (s *Scheduler) NextRetryAt(key string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(key)
	if st.rateLimited() {
		return st.LastFetchAt.Add(st.cooldown())
	}
	return st.LastFetchAt.Add(MinInterval(st.EverSucceeded, st.Attempts))
}

// Snapshot returns a copy of the pacing record for key.
func (s *Scheduler) Snapshot(key string) FetchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state(key)
}
