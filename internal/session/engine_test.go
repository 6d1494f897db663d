package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"labScope/internal/cache"
	"labScope/internal/model"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

func (r *recordingNotifier) last() Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notes) == 0 {
		return Notification{}
	}
	return r.notes[len(r.notes)-1]
}

type panickyNotifier struct{}

func (panickyNotifier) Notify(Notification) { panic("notifier exploded") }

type fakeReader struct {
	mu    sync.Mutex
	res   map[string]model.Reservation
	err   error
	calls int
}

func (f *fakeReader) GetReservation(_ context.Context, key string) (model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.Reservation{}, f.err
	}
	r, ok := f.res[key]
	if !ok {
		return model.Reservation{}, errors.New("reservation not found")
	}
	return r, nil
}

func (f *fakeReader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestEngine(sessionAddr string) (*Engine, *State, *cache.Store, *recordingNotifier, *fakeReader) {
	state := NewState(Config{}, nil)
	store := cache.New(time.Minute, time.Hour)
	notifier := &recordingNotifier{}
	reader := &fakeReader{res: make(map[string]model.Reservation)}
	engine := NewEngine(EngineConfig{SessionAddress: sessionAddr}, state, store, reader, notifier, nil)
	return engine, state, store, notifier, reader
}

func primePartitions(store *cache.Store) {
	store.Put(cache.ReservationKey("rk-1"), "detail")
	store.Put(cache.TokenKey("7"), "lab")
	store.Put(cache.RenterReservationsKey("0xabc"), "list")
	store.Put(cache.SessionKey("view", "bookings"), "derived")
	store.Put(cache.ReservationKey("other"), "unrelated")
	store.Put(cache.RenterReservationsKey("0xother"), "unrelated-list")
}

func TestConfirmedEventResolvesTrackedAction(t *testing.T) {
	engine, state, store, notifier, _ := newTestEngine("0xabc")
	primePartitions(store)

	state.RegisterPendingConfirmation("rk-1", "7", "0xabc")
	state.SetOptimisticBookingState("7", true, true, "confirm")

	engine.HandleEvent(context.Background(), model.ReservationEvent{
		Kind:           model.KindConfirmed,
		ReservationKey: "rk-1",
		TokenID:        "7",
		Renter:         "0xabc",
	})

	if notifier.count() != 1 {
		t.Fatalf("notifications: %d, want 1", notifier.count())
	}
	n := notifier.last()
	if n.Class != ClassConfirmed || n.ReservationKey != "rk-1" || n.TokenID != "7" {
		t.Fatalf("notification: %+v", n)
	}

	if _, ok := state.Pending.Find("rk-1"); ok {
		t.Fatal("pending action should be removed")
	}
	if got := state.EffectiveBookingState("7", nil); got.Optimistic {
		t.Fatalf("booking overlay should be cleared: %+v", got)
	}

	for _, key := range []string{
		cache.ReservationKey("rk-1"),
		cache.TokenKey("7"),
		cache.RenterReservationsKey("0xabc"),
		cache.SessionKey("view", "bookings"),
	} {
		if _, ok := store.GetStale(key); ok {
			t.Fatalf("partition %q should be invalidated", key)
		}
	}
	for _, key := range []string{
		cache.ReservationKey("other"),
		cache.RenterReservationsKey("0xother"),
	} {
		if _, ok := store.GetStale(key); !ok {
			t.Fatalf("partition %q should survive", key)
		}
	}
}

func TestPollThenEventNotifiesOnce(t *testing.T) {
	engine, state, _, notifier, _ := newTestEngine("0xabc")
	state.RegisterPendingConfirmation("rk-1", "7", "0xabc")

	// Poll resolves first, the late event replays the same outcome.
	engine.Reconcile(context.Background(), "rk-1", Outcome{
		Class:   ClassConfirmed,
		TokenID: "7",
		Renter:  "0xabc",
		Source:  "poll",
	})
	engine.HandleEvent(context.Background(), model.ReservationEvent{
		Kind:           model.KindConfirmed,
		ReservationKey: "rk-1",
		TokenID:        "7",
		Renter:         "0xabc",
	})

	if notifier.count() != 1 {
		t.Fatalf("notifications: %d, want exactly 1", notifier.count())
	}
	if _, ok := state.Pending.Find("rk-1"); ok {
		t.Fatal("pending action should stay removed")
	}
}

func TestForeignDenialInvalidatesWithoutNotifying(t *testing.T) {
	engine, state, store, notifier, _ := newTestEngine("0xabc")
	store.Put(cache.ReservationKey("rk-2"), "detail")
	store.Put(cache.SessionKey("view"), "derived")
	signals := state.Bus.Subscribe(4)

	reason := uint8(5)
	engine.HandleEvent(context.Background(), model.ReservationEvent{
		Kind:           model.KindDenied,
		ReservationKey: "rk-2",
		TokenID:        "9",
		Renter:         "0xother",
		Reason:         &reason,
	})

	if notifier.count() != 0 {
		t.Fatalf("foreign denial notified: %+v", notifier.last())
	}
	if _, ok := store.GetStale(cache.ReservationKey("rk-2")); ok {
		t.Fatal("reservation partition should be invalidated anyway")
	}
	if _, ok := store.GetStale(cache.SessionKey("view")); ok {
		t.Fatal("session partition should be invalidated anyway")
	}
	select {
	case sig := <-signals:
		t.Fatalf("foreign denial published a signal: %+v", sig)
	default:
	}
}

func TestOwnedDenialCarriesReason(t *testing.T) {
	engine, state, _, notifier, _ := newTestEngine("0xabc")
	state.RegisterPendingConfirmation("rk-1", "7", "0xabc")
	signals := state.Bus.Subscribe(4)

	reason := uint8(5)
	engine.HandleEvent(context.Background(), model.ReservationEvent{
		Kind:           model.KindDenied,
		ReservationKey: "rk-1",
		TokenID:        "7",
		Renter:         "0xabc",
		Reason:         &reason,
	})

	n := notifier.last()
	if n.Class != ClassDenied || n.Reason == nil || *n.Reason != 5 {
		t.Fatalf("denial notification: %+v", n)
	}

	select {
	case sig := <-signals:
		if sig.Name != SignalRequestDenied || !sig.Notified || sig.Reason == nil || *sig.Reason != 5 {
			t.Fatalf("denial signal: %+v", sig)
		}
	default:
		t.Fatal("denial signal missing")
	}
}

func TestOwnershipFallbackRead(t *testing.T) {
	engine, _, _, notifier, reader := newTestEngine("0xabc")
	reader.res["rk-3"] = model.Reservation{ReservationKey: "rk-3", Renter: "0xabc", Status: model.StatusConfirmed}

	// No pending action and no renter on the event: the engine falls
	// back to one detail read, which establishes ownership here.
	engine.HandleEvent(context.Background(), model.ReservationEvent{
		Kind:           model.KindConfirmed,
		ReservationKey: "rk-3",
		TokenID:        "7",
	})

	if reader.callCount() != 1 {
		t.Fatalf("fallback reads: %d, want 1", reader.callCount())
	}
	if notifier.count() != 1 {
		t.Fatalf("notifications: %d, want 1", notifier.count())
	}
}

func TestOwnershipFallbackFailureIsSwallowed(t *testing.T) {
	engine, _, store, notifier, reader := newTestEngine("0xabc")
	reader.err = errors.New("rpc down")
	store.Put(cache.ReservationKey("rk-4"), "detail")

	engine.HandleEvent(context.Background(), model.ReservationEvent{
		Kind:           model.KindConfirmed,
		ReservationKey: "rk-4",
	})

	if notifier.count() != 0 {
		t.Fatal("failed ownership read must suppress the notification")
	}
	if _, ok := store.GetStale(cache.ReservationKey("rk-4")); ok {
		t.Fatal("caches must still be invalidated")
	}
}

func TestRequestedEventBackfillsPendingDetails(t *testing.T) {
	engine, state, _, notifier, _ := newTestEngine("0xabc")
	state.Pending.Register(ActionConfirm, "rk-1", "", "")

	engine.HandleEvent(context.Background(), model.ReservationEvent{
		Kind:           model.KindRequested,
		ReservationKey: "rk-1",
		TokenID:        "7",
		Renter:         "0xabc",
		Start:          "1700000000",
		End:            "1700003600",
	})

	a, ok := state.Pending.Find("rk-1")
	if !ok {
		t.Fatal("requested must not evict the pending action")
	}
	if a.TokenID != "7" || a.Requester != "0xabc" {
		t.Fatalf("details not backfilled: %+v", a)
	}
	if n := notifier.last(); n.Class != ClassRequested {
		t.Fatalf("requested notification: %+v", n)
	}
}

func TestRepeatResolutionReplaysSignalWithoutNotifying(t *testing.T) {
	engine, state, _, notifier, _ := newTestEngine("0xabc")
	signals := state.Bus.Subscribe(4)

	ev := model.ReservationEvent{
		Kind:           model.KindBookingCancelled,
		ReservationKey: "rk-1",
		TokenID:        "7",
		Renter:         "0xabc",
	}
	engine.HandleEvent(context.Background(), ev)
	engine.HandleEvent(context.Background(), ev)

	if notifier.count() != 1 {
		t.Fatalf("notifications: %d, want 1", notifier.count())
	}

	first := <-signals
	if first.Name != SignalCancelled || !first.Notified {
		t.Fatalf("first signal: %+v", first)
	}
	second := <-signals
	if second.Name != SignalCancelled || second.Notified {
		t.Fatalf("replayed signal should report notified=false: %+v", second)
	}
}

func TestHandleEventContainsPanics(t *testing.T) {
	state := NewState(Config{}, nil)
	store := cache.New(time.Minute, time.Hour)
	engine := NewEngine(EngineConfig{SessionAddress: "0xabc"}, state, store, nil, panickyNotifier{}, nil)

	state.RegisterPendingConfirmation("rk-1", "7", "0xabc")
	store.Put(cache.ReservationKey("rk-1"), "detail")

	// Must not panic out of the handler boundary.
	engine.HandleEvent(context.Background(), model.ReservationEvent{
		Kind:           model.KindConfirmed,
		ReservationKey: "rk-1",
		TokenID:        "7",
		Renter:         "0xabc",
	})

	if _, ok := store.GetStale(cache.ReservationKey("rk-1")); ok {
		t.Fatal("work before the panic should have happened")
	}
}

func TestReconcileNormalizesKeys(t *testing.T) {
	engine, state, _, notifier, _ := newTestEngine("0xabc")
	state.RegisterPendingConfirmation("12345", "7", "0xabc")

	// The event carries the key in hex; correlation must still hit.
	engine.HandleEvent(context.Background(), model.ReservationEvent{
		Kind:           model.KindConfirmed,
		ReservationKey: "0x3039",
		TokenID:        "7",
		Renter:         "0xABC",
	})

	if _, ok := state.Pending.Find("12345"); ok {
		t.Fatal("hex-keyed event failed to resolve the tracked action")
	}
	if notifier.count() != 1 {
		t.Fatalf("notifications: %d, want 1", notifier.count())
	}
}
