package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMemorySource_SetAndGet(t *testing.T) {
	s := NewMemorySource()
	s.Set("pyth:sol-usd", decimal.NewFromInt(100))

	p, err := s.Price(context.Background(), "pyth:sol-usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected price=100, got %s", p)
	}
}

func TestMemorySource_UnknownFeed(t *testing.T) {
	s := NewMemorySource()

	_, err := s.Price(context.Background(), "pyth:nothing")
	if !errors.Is(err, ErrUnknownFeed) {
		t.Errorf("expected ErrUnknownFeed, got %v", err)
	}
}

func TestMemorySource_NonPositivePrice(t *testing.T) {
	s := NewMemorySource()
	s.Set("pyth:bad", decimal.Zero)

	_, err := s.Price(context.Background(), "pyth:bad")
	if !errors.Is(err, ErrBadPrice) {
		t.Errorf("expected ErrBadPrice, got %v", err)
	}
}
