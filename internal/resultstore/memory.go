package resultstore

import (
	"context"
	"slices"
	"sync"
)

// Memory is an ephemeral Store. The zero value is ready to use.
type Memory struct {
	mu   sync.Mutex
	recs []Record
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{}
}

// Append adds a record to the log.
func (m *Memory) Append(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

// Records returns the log in Sort order.
func (m *Memory) Records(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	out := slices.Clone(m.recs)
	m.mu.Unlock()
	Sort(out)
	return out, nil
}
