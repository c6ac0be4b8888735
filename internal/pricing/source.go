package pricing

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Source fetches the latest price for a symbol
type Source interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// StaticSource serves prices set by hand. Used by tests and demo mode.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]float64
	errs   map[string]error
	calls  int
}

// NewStaticSource creates a source seeded with prices
func NewStaticSource(prices map[string]float64) *StaticSource {
	s := &StaticSource{prices: make(map[string]float64), errs: make(map[string]error)}
	for symbol, p := range prices {
		s.prices[normalize(symbol)] = p
	}
	return s
}

// Set updates the price of symbol and clears any injected error
func (s *StaticSource) Set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[normalize(symbol)] = price
	delete(s.errs, normalize(symbol))
}

// Fail makes lookups of symbol return err
func (s *StaticSource) Fail(symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[normalize(symbol)] = err
}

// Calls counts Price invocations
func (s *StaticSource) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *StaticSource) Price(ctx context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	s.calls++
	err, failing := s.errs[normalize(symbol)]
	price, ok := s.prices[normalize(symbol)]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if failing {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
