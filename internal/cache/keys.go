package cache

import "strings"

// SessionPrefix scopes derivations that belong to the current session
// only (drafts, per-view projections). Reconciliation drops the whole
// partition because ledger events never enumerate what a client derived.
const SessionPrefix = "session:"

// ReservationKey is the partition root for one reservation.
func ReservationKey(key string) string {
	return "reservation:" + key
}

// TokenKey is the partition root for one lab token.
func TokenKey(tokenID string) string {
	return "token:" + tokenID
}

// RenterKey is the partition root for one renter address.
func RenterKey(renter string) string {
	return "renter:" + renter
}

// RenterReservationsKey caches the bulk reservation list for a renter.
// It lives inside the renter partition so a prefix invalidation of
// RenterKey covers it.
func RenterReservationsKey(renter string) string {
	return RenterKey(renter) + ":reservations"
}

// SessionKey builds a session-scoped derivation key.
func SessionKey(parts ...string) string {
	return SessionPrefix + strings.Join(parts, ":")
}
