package store

import (
	"sort"
	"sync"
	"time"

	"github.com/lox/cityweather/internal/models"
)

// Memory is a process-local backend. Nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	values  map[string]string
	lookups []models.Lookup
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) RecordLookup(l models.Lookup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.LookedUpAt.IsZero() {
		l.LookedUpAt = time.Now().UTC()
	}
	l.ID = int64(len(m.lookups) + 1)
	m.lookups = append(m.lookups, l)
	return nil
}

func (m *Memory) RecentLookups(limit int) ([]models.Lookup, error) {
	m.mu.RLock()
	out := make([]models.Lookup, len(m.lookups))
	copy(out, m.lookups)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LookedUpAt.Equal(out[j].LookedUpAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].LookedUpAt.After(out[j].LookedUpAt)
	})
	if limit = lookupLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
