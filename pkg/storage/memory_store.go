package storage

import (
	"context"
	"sync"
	"time"

	"github.com/alpacahack/quotaguard/pkg/models"
)

// MemoryStore keeps identities in RAM behind a mutex. Intended for tests and
// local development; production deployments use GormStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*models.Identity
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*models.Identity),
	}
}

func (m *MemoryStore) Create(_ context.Context, identity *models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[identity.ID]; exists {
		return ErrAlreadyExists
	}

	now := time.Now()
	cp := *identity
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.data[identity.ID] = &cp
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.data[id]
	if !exists {
		return nil, ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (m *MemoryStore) IncrementUsage(_ context.Context, id string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.data[id]
	if !exists {
		return nil, ErrNotFound
	}

	// The mutex is this backend's atomic-increment primitive.
	now := time.Now()
	record.GenerationsUsed++
	record.LastGenerationAt = &now
	record.UpdatedAt = now

	cp := *record
	return &cp, nil
}

func (m *MemoryStore) IncrementUsageForAllLinkedTo(_ context.Context, fingerprintID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, record := range m.data {
		if record.LinkedFingerprintID != nil && *record.LinkedFingerprintID == fingerprintID {
			record.GenerationsUsed++
			record.LastGenerationAt = &now
			record.UpdatedAt = now
		}
	}
	return nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}
