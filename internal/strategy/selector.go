package strategy

import (
	"context"
	"sync"

	engerrors "github.com/ducminhle1904/virtual-autotrader/internal/errors"
)

// PersistFunc stores a confirmed strategy choice externally
type PersistFunc func(ctx context.Context, kind Kind) error

// Selector tracks the active strategy and an optional staged change.
// A staged strategy has no effect on admission until Confirm succeeds.
type Selector struct {
	mu     sync.RWMutex
	active Strategy
	staged *Strategy
}

// NewSelector creates a selector with the given active strategy
func NewSelector(active Strategy) *Selector {
	return &Selector{active: active}
}

// Active returns the strategy used for admission decisions
func (s *Selector) Active() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Staged returns the pending candidate, if any
func (s *Selector) Staged() (Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.staged == nil {
		return Strategy{}, false
	}
	return *s.staged, true
}

// Selected returns what a UI should show as selected: the staged
// candidate if there is one, otherwise the active strategy.
func (s *Selector) Selected() Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.staged != nil {
		return *s.staged
	}
	return s.active
}

// Select stages a candidate strategy
func (s *Selector) Select(kind Kind) error {
	candidate, ok := Lookup(kind)
	if !ok {
		return engerrors.NewValidationError("strategy", "select", "unknown strategy", engerrors.ErrUnknownStrategy)
	}
	s.mu.Lock()
	s.staged = &candidate
	s.mu.Unlock()
	return nil
}

// Confirm persists the staged strategy and makes it active. If persisting
// fails the previous strategy stays active and the candidate stays staged.
func (s *Selector) Confirm(ctx context.Context, persist PersistFunc) (Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return s.active, engerrors.NewValidationError("strategy", "confirm", "nothing to confirm", engerrors.ErrNoStagedStrategy)
	}
	candidate := *s.staged
	if persist != nil {
		if err := persist(ctx, candidate.Kind); err != nil {
			return s.active, err
		}
	}
	s.active = candidate
	s.staged = nil
	return s.active, nil
}

// Cancel discards the staged candidate
func (s *Selector) Cancel() {
	s.mu.Lock()
	s.staged = nil
	s.mu.Unlock()
}
