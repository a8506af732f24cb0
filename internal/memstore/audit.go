package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/jonesrussell/north-cloud/sniper/internal/audit"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// AuditStore is append-only; records are kept in seq order.
type AuditStore struct {
	mu      sync.RWMutex
	records []domain.AuditRecord
	seq     int64
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(_ context.Context, rec *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec.Seq = s.seq
	s.records = append(s.records, *rec)
	return nil
}

func (s *AuditStore) List(_ context.Context, c audit.Cursor) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.records), func(i int) bool { return s.records[i].Seq > c.After })
	out := make([]domain.AuditRecord, 0)
	for _, rec := range s.records[start:] {
		if c.AccountID != "" && rec.AccountID != c.AccountID {
			continue
		}
		out = append(out, rec)
		if c.Limit > 0 && len(out) == c.Limit {
			break
		}
	}
	return out, nil
}
