package model

// Reservation status codes as recorded on the ledger. Codes above
// StatusConfirmed are terminal denials whose exact value identifies the
// denial cause.
const (
	StatusPending   uint8 = 0
	StatusConfirmed uint8 = 1
)

// Reservation is the ledger's current view of one reservation. All
// identifier fields are canonical: keys and token ids decimal strings,
// addresses lowercase hex.
type Reservation struct {
	ReservationKey string `json:"reservation_key"`
	TokenID        string `json:"token_id"`
	Renter         string `json:"renter"`
	Status         uint8  `json:"status"`
	Start          uint64 `json:"start"`
	End            uint64 `json:"end"`
}

// IsPending reports whether the ledger has not yet resolved the
// reservation.
func (r Reservation) IsPending() bool {
	return r.Status == StatusPending
}

// IsConfirmed reports whether the booking was confirmed.
func (r Reservation) IsConfirmed() bool {
	return r.Status == StatusConfirmed
}

// IsDenied reports whether the reservation reached a terminal denial
// code.
func (r Reservation) IsDenied() bool {
	return r.Status != StatusPending && r.Status != StatusConfirmed
}

// Normalize applies canonical key and address normalization in place.
// Sources that unmarshal external data call this before handing the
// record to anything that does lookups.
func (r *Reservation) Normalize() {
	r.ReservationKey = KeyFromString(r.ReservationKey)
	r.TokenID = KeyFromString(r.TokenID)
	r.Renter = NormalizeAddress(r.Renter)
}
