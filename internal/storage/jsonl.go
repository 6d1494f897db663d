package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"labScope/internal/model"
)

// JSONLSource reads reservations from a JSONL file, one record per
// line. Malformed lines are skipped so one bad record never hides the
// rest of the file.
type JSONLSource struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewJSONLSource(path string, logger *zap.Logger) *JSONLSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLSource{path: path, logger: logger.Named("jsonl")}
}

// ListByRenter returns every reservation whose renter matches. The
// file is re-read on each call; callers cache through the refresher.
func (s *JSONLSource) ListByRenter(ctx context.Context, renter string) ([]model.Reservation, error) {
	renter = model.NormalizeAddress(renter)
	if renter == "" {
		return nil, fmt.Errorf("renter address required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open reservations file: %w", err)
	}
	defer file.Close()

	var out []model.Reservation
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r model.Reservation
		if err := json.Unmarshal(raw, &r); err != nil {
			s.logger.Warn("skipping malformed reservation line",
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		r.Normalize()
		if r.Renter != renter {
			continue
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read reservations file: %w", err)
	}
	return out, nil
}

func (s *JSONLSource) Close() error { return nil }
