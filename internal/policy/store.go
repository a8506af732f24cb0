// Package policy stores per-account guardrail policies with optimistic
// concurrency and built-in defaults.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// Repository persists policies. Get returns domain.ErrNotFound when the
// account has none; Save returns domain.ErrConflict when the stored version
// differs from expectedVersion.
type Repository interface {
	Get(ctx context.Context, accountID string) (*domain.Policy, error)
	Save(ctx context.Context, p *domain.Policy, expectedVersion int64) error
}

type Store struct {
	repo     Repository
	log      logger.Logger
	timezone string
	now      func() time.Time
}

type Option func(*Store)

// WithTimezone sets the timezone used for default policies.
func WithTimezone(tz string) Option {
	return func(s *Store) {
		if tz != "" {
			s.timezone = tz
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(repo Repository, log logger.Logger, opts ...Option) *Store {
	s := &Store{repo: repo, log: log, timezone: DefaultTimezone, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored policy, or the defaults at version 0.
func (s *Store) Get(ctx context.Context, accountID string) (*domain.Policy, error) {
	p, err := s.repo.Get(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return DefaultsIn(accountID, s.timezone), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", accountID, err)
	}
	return p, nil
}

// Put validates p and writes it if p.Version matches the stored version.
// The returned policy carries the new version.
func (s *Store) Put(ctx context.Context, accountID string, p *domain.Policy) (*domain.Policy, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}

	next := p.Clone()
	next.AccountID = accountID
	expected := p.Version
	next.Version = expected + 1
	next.UpdatedAt = s.now().UTC()
	if next.Guardrails.DoNotContactDomains == nil {
		next.Guardrails.DoNotContactDomains = []string{}
	}

	if err := s.repo.Save(ctx, next, expected); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("save policy %s: %w", accountID, err)
	}

	s.log.Info("Policy updated",
		logger.AccountID(accountID),
		logger.Int64("version", next.Version),
	)
	return next, nil
}

// ResetToDefaults overwrites the account's policy with the defaults.
func (s *Store) ResetToDefaults(ctx context.Context, accountID string) (*domain.Policy, error) {
	current, err := s.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	d := DefaultsIn(accountID, s.timezone)
	d.Version = current.Version
	return s.Put(ctx, accountID, d)
}
