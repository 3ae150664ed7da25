package store

import (
	"context"
	"sync"
)

// MemoryTier keeps values in process memory. Failures can be injected with
// FailGets/FailSets, which makes it the test double for both tiers.
type MemoryTier struct {
	name string

	mu       sync.RWMutex
	data     Values
	getErr   error
	setErr   error
	getCalls int
	setCalls int
}

// NewMemoryTier creates an empty in-memory tier.
func NewMemoryTier(name string) *MemoryTier {
	return &MemoryTier{name: name, data: make(Values)}
}

func (m *MemoryTier) Name() string { return m.name }

// FailGets makes every Get return err (nil clears it).
func (m *MemoryTier) FailGets(err error) {
	m.mu.Lock()
	m.getErr = err
	m.mu.Unlock()
}

// FailSets makes every Set return err (nil clears it).
func (m *MemoryTier) FailSets(err error) {
	m.mu.Lock()
	m.setErr = err
	m.mu.Unlock()
}

func (m *MemoryTier) Get(ctx context.Context, keys []string) (Values, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.data.Only(keys), nil
}

func (m *MemoryTier) Set(ctx context.Context, values Values) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.setErr != nil {
		return m.setErr
	}
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

// Snapshot returns a copy of everything stored.
func (m *MemoryTier) Snapshot() Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Clone()
}

// Calls returns how many Get and Set calls the tier has seen.
func (m *MemoryTier) Calls() (gets, sets int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCalls, m.setCalls
}
