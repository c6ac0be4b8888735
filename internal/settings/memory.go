package settings

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps settings in process. FailNext and FailAll inject write
// failures for tests.
type MemoryStore struct {
	mu       sync.Mutex
	current  Settings
	failNext error
	failAll  error
	writes   int
}

// NewMemoryStore creates a store seeded with initial
func NewMemoryStore(initial Settings) *MemoryStore {
	return &MemoryStore{current: initial.Clone()}
}

// Load returns a copy of the stored settings
func (m *MemoryStore) Load(ctx context.Context) (*Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.current.Clone()
	return &out, nil
}

// Update applies patch unless a failure was injected
func (m *MemoryStore) Update(ctx context.Context, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if m.failAll != nil {
		return m.failAll
	}
	m.current = m.current.Apply(patch, time.Now().UTC())
	m.writes++
	return nil
}

// FailNext makes the next Update return err
func (m *MemoryStore) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// FailAll makes every Update return err until cleared with nil
func (m *MemoryStore) FailAll(err error) {
	m.mu.Lock()
	m.failAll = err
	m.mu.Unlock()
}

// Writes counts successful updates
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
