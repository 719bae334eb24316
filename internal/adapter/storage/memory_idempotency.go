package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/stock-workflow/internal/port"
)

type idempotencyRecord struct {
	resultID  string
	expiresAt time.Time
}

// MemoryIdempotency is the in-process counterpart of RedisAdapter.
type MemoryIdempotency struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]idempotencyRecord
	now     func() time.Time
}

var _ port.IdempotencyStore = (*MemoryIdempotency)(nil)

func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	return &MemoryIdempotency{
		ttl:     ttl,
		records: make(map[string]idempotencyRecord),
		now:     time.Now,
	}
}

func (m *MemoryIdempotency) Reserve(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if rec, ok := m.records[key]; ok && now.Before(rec.expiresAt) {
		return rec.resultID, false, nil
	}
	m.records[key] = idempotencyRecord{expiresAt: now.Add(m.ttl)}
	return "", true, nil
}

func (m *MemoryIdempotency) Complete(ctx context.Context, key, resultID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[key] = idempotencyRecord{resultID: resultID, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryIdempotency) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[key]; ok && rec.resultID == "" {
		delete(m.records, key)
	}
	return nil
}
