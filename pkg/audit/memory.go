package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryLogger keeps entries in process. It implements both Logger and
// Store and backs tests and single-process development setups.
type MemoryLogger struct {
	mu      sync.RWMutex
	entries []*Entry
	closed  bool
}

// NewMemoryLogger creates an empty in-memory log
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Record implements Logger
func (m *MemoryLogger) Record(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	stamp(entry)
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

// Close implements Logger
func (m *MemoryLogger) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of everything recorded in insertion order
func (m *MemoryLogger) Entries() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, len(m.entries))
	for i, e := range m.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Search implements Store
func (m *MemoryLogger) Search(_ context.Context, filter Filter) ([]*Entry, error) {
	m.mu.RLock()
	var matched []*Entry
	for _, e := range m.entries {
		if filter.matches(e) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].Sequence < matched[j].Sequence
	})

	if filter.Offset >= len(matched) {
		return []*Entry{}, nil
	}
	matched = matched[filter.Offset:]
	if limit := filter.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Export implements Store
func (m *MemoryLogger) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := m.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return encode(entries, format)
}
