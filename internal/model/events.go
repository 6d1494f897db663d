package model

// EventKind names a reservation event class emitted by the rental
// contract. Values match the ABI event names.
type EventKind string

const (
	KindRequested        EventKind = "ReservationRequested"
	KindConfirmed        EventKind = "BookingConfirmed"
	KindBookingCancelled EventKind = "BookingCancelled"
	KindRequestCancelled EventKind = "ReservationRequestCancelled"
	KindDenied           EventKind = "ReservationRequestDenied"
)

// Terminal reports whether this event class resolves a reservation for
// good. Requested only acknowledges that the ledger saw the request.
func (k EventKind) Terminal() bool {
	switch k {
	case KindConfirmed, KindBookingCancelled, KindRequestCancelled, KindDenied:
		return true
	default:
		return false
	}
}

// ReservationEvent is one decoded contract event. Every field is
// canonical by the time this struct exists: reservation key and token
// id are decimal strings, the renter is lowercase hex. Reason is set
// only on denials.
type ReservationEvent struct {
	Kind           EventKind `json:"kind"`
	ReservationKey string    `json:"reservation_key"`
	TokenID        string    `json:"token_id"`
	Renter         string    `json:"renter"`
	Start          string    `json:"start,omitempty"`
	End            string    `json:"end,omitempty"`
	Reason         *uint8    `json:"reason,omitempty"`
	BlockNumber    uint64    `json:"block_number"`
	TxHash         string    `json:"tx_hash"`
	LogIndex       uint      `json:"log_index"`
}
