package loan

import (
	"context"
	"errors"
	"sync"

	"github.com/ggonzalez94/llamarisk/internal/model"
)

// ErrStaleKey is returned when a load finishes after the session moved to another key.
var ErrStaleKey = errors.New("loan details superseded by a newer market key")

// Session serializes key changes for a long-lived view. Loading a new key cancels
// the in-flight load of the previous one and its result is discarded.
type Session struct {
	fetcher DetailsFetcher

	mu      sync.Mutex
	current model.MarketKey
	cancel  context.CancelFunc
}

func NewSession(fetcher DetailsFetcher) *Session {
	return &Session{fetcher: fetcher}
}

func (s *Session) Load(ctx context.Context, key model.MarketKey) (UserLoanDetails, error) {
	s.mu.Lock()
	if s.cancel != nil && !s.current.Equal(key) {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.current = key
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	details, err := s.fetcher.Fetch(ctx, key)
	if !s.isCurrent(key) {
		return UserLoanDetails{}, ErrStaleKey
	}
	if err != nil {
		return UserLoanDetails{}, err
	}
	if !details.Key.Equal(key) {
		return UserLoanDetails{}, ErrStaleKey
	}
	return details, nil
}

func (s *Session) Current() model.MarketKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) isCurrent(key model.MarketKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Equal(key)
}
