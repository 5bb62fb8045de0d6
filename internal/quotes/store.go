// Package quotes keeps the latest two-sided quote per instrument.
package quotes

import (
	"ratiobot/internal/models"
	"sync"
	"time"
)

// Store is safe for concurrent use. Only the latest value per symbol is
// kept.
type Store struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
}

func NewStore() *Store {
	return &Store{quotes: make(map[string]models.Quote)}
}

// Set overwrites the quote for symbol. A zero timestamp is replaced by the
// current time.
func (s *Store) Set(symbol string, quote models.Quote) {
	quote.Symbol = symbol
	if quote.Timestamp.IsZero() {
		quote.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.quotes[symbol] = quote
	s.mu.Unlock()
}

func (s *Store) Get(symbol string) (models.Quote, bool) {
	s.mu.RLock()
	q, ok := s.quotes[symbol]
	s.mu.RUnlock()
	return q, ok
}

// Fresh is Get that also treats quotes older than maxAge as absent. A
// non-positive maxAge accepts any age.
func (s *Store) Fresh(symbol string, maxAge time.Duration) (models.Quote, bool) {
	q, ok := s.Get(symbol)
	if !ok {
		return models.Quote{}, false
	}
	if maxAge > 0 && time.Since(q.Timestamp) > maxAge {
		return models.Quote{}, false
	}
	return q, true
}

func (s *Store) Snapshot() map[string]models.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.Quote, len(s.quotes))
	for k, v := range s.quotes {
		out[k] = v
	}
	return out
}
