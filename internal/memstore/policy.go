package memstore

import (
	"context"
	"sync"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

type PolicyRepository struct {
	mu       sync.RWMutex
	policies map[string]*domain.Policy
}

func NewPolicyRepository() *PolicyRepository {
	return &PolicyRepository{policies: make(map[string]*domain.Policy)}
}

func (r *PolicyRepository) Get(_ context.Context, accountID string) (*domain.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PolicyRepository) Save(_ context.Context, p *domain.Policy, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int64
	if existing, ok := r.policies[p.AccountID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return domain.ErrConflict
	}
	r.policies[p.AccountID] = p.Clone()
	return nil
}
