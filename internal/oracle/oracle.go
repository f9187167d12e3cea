// Package oracle defines the price-feed boundary for the perp engine.
//
// The engine trusts whatever the feed returns — no staleness or confidence
// filtering happens here. Implementations include an in-memory source for
// tests/development and a Redis-backed source fed by an external price
// publisher.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownFeed is returned when no price exists for the requested feed.
	ErrUnknownFeed = errors.New("oracle: unknown price feed")

	// ErrBadPrice is returned when a feed holds an unparsable or
	// non-positive value.
	ErrBadPrice = errors.New("oracle: unparsable or non-positive price")
)

// Source supplies the current reference price for a feed on demand.
// Pure lookup, no side effects on engine state.
type Source interface {
	// Price returns the current price for the given feed reference.
	Price(ctx context.Context, feedRef string) (decimal.Decimal, error)
}

// MemorySource is a settable in-memory price source. Used for testing and
// development.
type MemorySource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewMemorySource creates an empty in-memory price source.
func NewMemorySource() *MemorySource {
	return &MemorySource{prices: make(map[string]decimal.Decimal)}
}

// Set publishes a price for a feed.
func (s *MemorySource) Set(feedRef string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[feedRef] = price
}

func (s *MemorySource) Price(_ context.Context, feedRef string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[feedRef]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownFeed, feedRef)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrBadPrice, feedRef)
	}
	return p, nil
}
