package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"labScope/internal/model"
)

// Store reads the reservation list from Postgres. The booking service
// owns the table; this agent only reads it.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ListByRenter returns the renter's reservations ordered by start time.
func (s *Store) ListByRenter(ctx context.Context, renter string) ([]model.Reservation, error) {
	renter = model.NormalizeAddress(renter)
	if renter == "" {
		return nil, fmt.Errorf("renter address required")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT reservation_key, token_id, renter, status, start_time, end_time
		FROM reservations
		WHERE renter = $1
		ORDER BY start_time
	`, renter)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var (
			r          model.Reservation
			status     int16
			start, end int64
		)
		if err := rows.Scan(&r.ReservationKey, &r.TokenID, &r.Renter, &status, &start, &end); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		r.Status = uint8(status)
		r.Start = uint64(start)
		r.End = uint64(end)
		r.Normalize()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read reservations: %w", err)
	}
	return out, nil
}
