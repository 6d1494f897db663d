package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"labScope/internal/cache"
	"labScope/internal/model"
)

type fakeSource struct {
	mu    sync.Mutex
	lists map[string][]model.Reservation
	err   error
	calls int
}

func (f *fakeSource) ListByRenter(_ context.Context, renter string) ([]model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.lists[renter], nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestRefresher(freshFor time.Duration) (*Refresher, *fakeSource, *Scheduler) {
	source := &fakeSource{lists: map[string][]model.Reservation{
		"0xabc": {{ReservationKey: "1", TokenID: "7", Renter: "0xabc", Status: model.StatusConfirmed}},
	}}
	sched := NewScheduler()
	r := NewRefresher(source, cache.New(freshFor, time.Hour), sched, nil)
	return r, source, sched
}

func TestReservationsRefreshesOncePerInterval(t *testing.T) {
	r, source, _ := newTestRefresher(time.Minute)
	defer r.Close()

	first, err := r.Reservations(context.Background(), "0xABC", false)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if len(first) != 1 || first[0].ReservationKey != "1" {
		t.Fatalf("first refresh data: %+v", first)
	}

	second, err := r.Reservations(context.Background(), "0xabc", false)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if source.callCount() != 1 {
		t.Fatalf("source calls: %d, want 1", source.callCount())
	}
	if len(second) != 1 || second[0].ReservationKey != "1" {
		t.Fatalf("cached data lost: %+v", second)
	}
}

func TestForceBypassesFreshCache(t *testing.T) {
	r, source, _ := newTestRefresher(time.Minute)
	defer r.Close()

	if _, err := r.Reservations(context.Background(), "0xabc", false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Reservations(context.Background(), "0xabc", true); err != nil {
		t.Fatal(err)
	}
	if source.callCount() != 2 {
		t.Fatalf("source calls: %d, want 2", source.callCount())
	}
}

func TestFailureServesStaleCopy(t *testing.T) {
	r, source, sched := newTestRefresher(time.Nanosecond)
	defer r.Close()

	if _, err := r.Reservations(context.Background(), "0xabc", false); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
	time.Sleep(time.Millisecond)

	source.setErr(errors.New("boom"))
	list, err := r.Reservations(context.Background(), "0xabc", true)
	if err != nil {
		t.Fatalf("failed refresh should fall back to stale: %v", err)
	}
	if len(list) != 1 || list[0].ReservationKey != "1" {
		t.Fatalf("stale copy: %+v", list)
	}
	if st := sched.Snapshot("0xabc"); st.Attempts != 1 {
		t.Fatalf("attempts after failure: %d", st.Attempts)
	}

	r.mu.Lock()
	armed := len(r.timers)
	r.mu.Unlock()
	if armed != 1 {
		t.Fatalf("armed retries: %d, want 1", armed)
	}
}

func TestFailureWithoutStaleReturnsError(t *testing.T) {
	r, source, _ := newTestRefresher(time.Minute)
	defer r.Close()

	boom := errors.New("boom")
	source.setErr(boom)
	_, err := r.Reservations(context.Background(), "0xabc", false)
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped source error, got %v", err)
	}
}

func TestThrottledWithoutStaleReturnsRetryAt(t *testing.T) {
	r, _, sched := newTestRefresher(time.Minute)
	defer r.Close()

	for i := 0; i < 5; i++ {
		sched.RecordFailure("0xabc", false)
	}

	_, err := r.Reservations(context.Background(), "0xabc", true)
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("want ThrottledError, got %v", err)
	}
	if throttled.RetryAt.IsZero() {
		t.Fatal("retry-at missing")
	}
}

func TestScheduledRetryRefetches(t *testing.T) {
	r, source, _ := newTestRefresher(time.Minute)
	defer r.Close()

	source.setErr(errors.New("boom"))
	if _, err := r.Reservations(context.Background(), "0xabc", false); err == nil {
		t.Fatal("seed failure expected")
	}
	source.setErr(nil)

	// Replace the armed retry with an immediate one and let it run.
	r.scheduleRetry("0xabc", time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for source.callCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("retry never fired, calls=%d", source.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseCancelsRetries(t *testing.T) {
	r, source, _ := newTestRefresher(time.Minute)

	source.setErr(errors.New("boom"))
	if _, err := r.Reservations(context.Background(), "0xabc", false); err == nil {
		t.Fatal("seed failure expected")
	}
	r.Close()

	r.mu.Lock()
	armed := len(r.timers)
	r.mu.Unlock()
	if armed != 0 {
		t.Fatalf("timers after close: %d", armed)
	}

	// New retries are refused once closed.
	r.scheduleRetry("0xabc", time.Millisecond)
	r.mu.Lock()
	armed = len(r.timers)
	r.mu.Unlock()
	if armed != 0 {
		t.Fatalf("retry armed after close: %d", armed)
	}
}

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("provider rate limit exceeded"), true},
		{errors.New("Too Many Requests"), true},
		{errors.New("connection refused"), false},
		{errors.New("execution reverted"), false},
	}
	for _, tc := range cases {
		if got := IsRateLimited(tc.err); got != tc.want {
			t.Fatalf("IsRateLimited(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
