package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"labScope/internal/cache"
	"labScope/internal/model"
)

// retryFetchTimeout bounds the background read issued by a scheduled
// retry, which has no caller context to inherit.
const retryFetchTimeout = 15 * time.Second

// ListSource supplies the bulk reservation list for a renter.
type ListSource interface {
	ListByRenter(ctx context.Context, renter string) ([]model.Reservation, error)
}

// ThrottledError reports a refresh refused by pacing with no stale copy
// to fall back on.
type ThrottledError struct {
	RetryAt time.Time
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("refresh throttled until %s", e.RetryAt.Format(time.RFC3339))
}

// IsRateLimited classifies a source failure as upstream throttling.
// Providers surface this inconsistently, so match on the message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

// Refresher serves renter reservation lists from cache, refreshing
// through the scheduler's pacing. Failed refreshes fall back to a stale
// copy and schedule a single-shot retry.
type Refresher struct {
	source ListSource
	cache  *cache.Store
	sched  *Scheduler
	logger *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewRefresher(source ListSource, store *cache.Store, sched *Scheduler, logger *zap.Logger) *Refresher {
	if sched == nil {
		sched = NewScheduler()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		source: source,
		cache:  store,
		sched:  sched,
		logger: logger.Named("refresher"),
		timers: make(map[string]*time.Timer),
	}
}

// Reservations returns the renter's reservation list. Fresh cache hits
// short-circuit; otherwise the scheduler decides whether a source read
// may proceed. Any failure serves the stale copy when one exists.
func (r *Refresher) Reservations(ctx context.Context, renter string, force bool) ([]model.Reservation, error) {
	renter = model.NormalizeAddress(renter)
	key := cache.RenterReservationsKey(renter)

	if !force {
		if cached, ok := r.lookup(key, false); ok {
			return cached, nil
		}
	}

	dec := r.sched.Allow(renter, force)
	if !dec.Allowed {
		if stale, ok := r.lookup(key, true); ok {
			r.logger.Debug("serving stale reservations",
				zap.String("renter", renter),
				zap.String("reason", dec.Reason),
				zap.Time("retry_at", dec.RetryAt))
			return stale, nil
		}
		return nil, &ThrottledError{RetryAt: dec.RetryAt}
	}

	list, err := r.source.ListByRenter(ctx, renter)
	if err != nil {
		rateLimited := IsRateLimited(err)
		r.sched.RecordFailure(renter, rateLimited)
		delay := r.sched.RetryDelay(renter, rateLimited)
		r.scheduleRetry(renter, delay)
		r.logger.Warn("reservation refresh failed",
			zap.String("renter", renter),
			zap.Bool("rate_limited", rateLimited),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if stale, ok := r.lookup(key, true); ok {
			return stale, nil
		}
		return nil, fmt.Errorf("refresh reservations for %s: %w", renter, err)
	}

	r.sched.RecordSuccess(renter)
	r.cache.Put(key, list)
	return list, nil
}

// NextRetryAt exposes when the scheduler will admit the next unforced
// refresh for renter.
func (r *Refresher) NextRetryAt(renter string) time.Time {
	return r.sched.NextRetryAt(model.NormalizeAddress(renter))
}

// Close stops every scheduled retry. Reservations calls after Close
// still work; only background retries are cancelled.
func (r *Refresher) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
}

func (r *Refresher) lookup(key string, stale bool) ([]model.Reservation, bool) {
	var (
		v  interface{}
		ok bool
	)
	if stale {
		v, ok = r.cache.GetStale(key)
	} else {
		v, ok = r.cache.Get(key)
	}
	if !ok {
		return nil, false
	}
	list, ok := v.([]model.Reservation)
	return list, ok
}

// scheduleRetry arms a single-shot retry for renter, replacing any
// already armed. The retry forces past the min interval but is still
// subject to the rate-limited cooldown.
func (r *Refresher) scheduleRetry(renter string, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if t, ok := r.timers[renter]; ok {
		t.Stop()
	}
	r.timers[renter] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		delete(r.timers, renter)
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), retryFetchTimeout)
		defer cancel()
		if _, err := r.Reservations(ctx, renter, true); err != nil {
			r.logger.Debug("scheduled retry failed",
				zap.String("renter", renter),
				zap.Error(err))
		}
	})
}
