package cache

import (
	"testing"
	"time"
)

func TestGetRespectsFreshness(t *testing.T) {
	s := New(30*time.Second, time.Hour)
	base := time.Unix(1700000000, 0)
	s.now = func() time.Time { return base }

	s.Put("k", "v")

	if v, ok := s.Get("k"); !ok || v != "v" {
		t.Fatalf("fresh read: got %v, %v", v, ok)
	}

	s.now = func() time.Time { return base.Add(31 * time.Second) }
	if _, ok := s.Get("k"); ok {
		t.Fatal("fresh read should miss after the freshness window")
	}
	if v, ok := s.GetStale("k"); !ok || v != "v" {
		t.Fatalf("stale read: got %v, %v", v, ok)
	}
}

func TestPutRestartsFreshness(t *testing.T) {
	s := New(30*time.Second, time.Hour)
	base := time.Unix(1700000000, 0)
	s.now = func() time.Time { return base }

	s.Put("k", "old")
	s.now = func() time.Time { return base.Add(29 * time.Second) }
	s.Put("k", "new")
	s.now = func() time.Time { return base.Add(50 * time.Second) }

	if v, ok := s.Get("k"); !ok || v != "new" {
		t.Fatalf("refreshed read: got %v, %v", v, ok)
	}
}

func TestInvalidate(t *testing.T) {
	s := New(time.Minute, time.Hour)
	s.Put("a", 1)
	s.Put("b", 2)

	s.Invalidate("a", "missing")

	if _, ok := s.GetStale("a"); ok {
		t.Fatal("a should be gone")
	}
	if _, ok := s.GetStale("b"); !ok {
		t.Fatal("b should survive")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	s := New(time.Minute, time.Hour)
	s.Put(RenterKey("0xabc"), "list-root")
	s.Put(RenterReservationsKey("0xabc"), "list")
	s.Put(ReservationKey("12345"), "detail")
	s.Put(SessionKey("draft", "7"), "draft")

	if removed := s.InvalidatePrefix(RenterKey("0xabc")); removed != 2 {
		t.Fatalf("renter partition: removed %d, want 2", removed)
	}
	if _, ok := s.GetStale(ReservationKey("12345")); !ok {
		t.Fatal("reservation partition should survive")
	}

	if removed := s.InvalidatePrefix(SessionPrefix); removed != 1 {
		t.Fatalf("session partition: removed %d, want 1", removed)
	}
}

func TestPartitionKeys(t *testing.T) {
	if got := ReservationKey("12345"); got != "reservation:12345" {
		t.Fatalf("reservation key: %q", got)
	}
	if got := RenterReservationsKey("0xabc"); got != "renter:0xabc:reservations" {
		t.Fatalf("renter reservations key: %q", got)
	}
	if got := SessionKey("labs", "7"); got != "session:labs:7" {
		t.Fatalf("session key: %q", got)
	}
}
