package storage

import (
	"context"

	"labScope/internal/model"
)

// ReservationSource supplies bulk reservation lists for the refresher
// and the CLI.
type ReservationSource interface {
	ListByRenter(ctx context.Context, renter string) ([]model.Reservation, error)
	Close() error
}
