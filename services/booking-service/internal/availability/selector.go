package availability

import (
	"context"
	"errors"
	"sync"

	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
)

// ErrSuperseded is returned for a fetch that a newer fetch replaced.
var ErrSuperseded = errors.New("availability: superseded by a newer request")

// Query is one date and staff selection.
type Query struct {
	TenantID string
	Date     model.Date
	StaffID  string
}

type fetcher interface {
	Available(ctx context.Context, tenantID string, date model.Date, staffID string) (Result, error)
}

// Selector serialises re-queries from one slot picker. Each Fetch cancels the
// one in flight, and only the most recent Fetch may deliver a result.
type Selector struct {
	src fetcher

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

func NewSelector(src fetcher) *Selector {
	return &Selector{src: src}
}

func (s *Selector) Fetch(ctx context.Context, q Query) (Result, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	mine := s.seq
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	res, err := s.src.Available(ctx, q.TenantID, q.Date, q.StaffID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if mine != s.seq {
		cancel()
		return Result{}, ErrSuperseded
	}
	s.cancel = nil
	cancel()
	return res, err
}

// Close cancels any fetch in flight.
func (s *Selector) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.seq++
}
