package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*domain.Session)}
}

func copySession(s *domain.Session) *domain.Session {
	c := *s
	c.SealedCredential = append([]byte(nil), s.SealedCredential...)
	if s.LastTestedAt != nil {
		t := *s.LastTestedAt
		c.LastTestedAt = &t
	}
	return &c
}

func (r *SessionRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return domain.ErrConflict
	}
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *SessionRepository) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copySession(s), nil
}

func (r *SessionRepository) Update(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; !ok {
		return domain.ErrNotFound
	}
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *SessionRepository) ListByAccount(_ context.Context, accountID string) ([]*domain.Session, error) {
	return r.filter(func(s *domain.Session) bool { return s.AccountID == accountID }), nil
}

func (r *SessionRepository) ListUnexpired(_ context.Context) ([]*domain.Session, error) {
	return r.filter(func(s *domain.Session) bool { return s.Status != domain.SessionExpired }), nil
}

func (r *SessionRepository) filter(keep func(*domain.Session) bool) []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Session, 0)
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
