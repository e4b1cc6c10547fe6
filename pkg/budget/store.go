package budget

import (
	"context"
	"sync"
)

// Store persists per-tenant, per-period spend. AddSpend must be atomic and
// return the new total.
type Store interface {
	Load(ctx context.Context, tenantID, period string) (float64, error)
	AddSpend(ctx context.Context, tenantID, period string, amount float64) (float64, error)
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu    sync.Mutex
	spend map[string]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{spend: make(map[string]float64)}
}

func (s *MemoryStore) Load(_ context.Context, tenantID, period string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spend[tenantID+"/"+period], nil
}

func (s *MemoryStore) AddSpend(_ context.Context, tenantID, period string, amount float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "/" + period
	s.spend[key] += amount
	return s.spend[key], nil
}
