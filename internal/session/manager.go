// Package session manages authenticated platform sessions: connect, probe,
// status reporting and background expiry. Each session has a single writer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/provider"
)

const DefaultMaxCookieAge = 30 * 24 * time.Hour

// ErrNoConnectedSession is returned by Handle when the account has no
// usable session.
var ErrNoConnectedSession = errors.New("no connected session")

// Repository persists sessions. Get returns domain.ErrNotFound for unknown
// ids.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Update(ctx context.Context, s *domain.Session) error
	ListByAccount(ctx context.Context, accountID string) ([]*domain.Session, error)
	ListUnexpired(ctx context.Context) ([]*domain.Session, error)
}

// Authenticator is the part of the provider the manager needs.
type Authenticator interface {
	Authenticate(ctx context.Context, kind domain.SessionProvider, credential []byte) (provider.Handle, error)
	Probe(ctx context.Context, h provider.Handle) (provider.ProbeResult, error)
}

// StatusListener is called after a session's status changes.
type StatusListener func(ctx context.Context, s domain.Session, from domain.SessionStatus)

type ConnectMetadata struct {
	Provider      domain.SessionProvider `json:"provider"`
	CookieAgeDays int                    `json:"cookieAgeDays"`
}

type TestResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type StatusReport struct {
	Status        domain.SessionStatus   `json:"status"`
	SessionID     string                 `json:"sessionId"`
	Provider      domain.SessionProvider `json:"provider"`
	LastAuthAt    time.Time              `json:"lastAuthAt"`
	LastTestedAt  *time.Time             `json:"lastTestedAt,omitempty"`
	CookieAgeDays int                    `json:"cookieAgeDays"`
	Reason        string                 `json:"reason,omitempty"`
}

type Manager struct {
	repo         Repository
	auth         Authenticator
	sealer       *Sealer
	log          logger.Logger
	now          func() time.Time
	maxCookieAge time.Duration
	locks        *keyedMutex

	listenersMu sync.RWMutex
	listeners   []StatusListener
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMaxCookieAge(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.maxCookieAge = d
		}
	}
}

func NewManager(repo Repository, auth Authenticator, sealer *Sealer, log logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:         repo,
		auth:         auth,
		sealer:       sealer,
		log:          log,
		now:          time.Now,
		maxCookieAge: DefaultMaxCookieAge,
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStatusChange registers l for every future status change.
func (m *Manager) OnStatusChange(l StatusListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Connect authenticates credential with the provider and stores it sealed.
// Reconnecting an account with the same provider refreshes that session.
func (m *Manager) Connect(ctx context.Context, accountID string, credential []byte, meta ConnectMetadata) (*domain.Session, error) {
	if accountID == "" {
		return nil, domain.NewValidationError("accountId", "is required")
	}
	if err := validateCredential(credential); err != nil {
		return nil, err
	}
	if meta.Provider == "" {
		meta.Provider = domain.ProviderCookieImport
	}
	if !meta.Provider.Valid() {
		return nil, domain.NewValidationError("provider", "must be embedded-auth or cookie-import")
	}
	if meta.CookieAgeDays < 0 {
		return nil, domain.NewValidationError("cookieAgeDays", "must be >= 0")
	}
	if meta.CookieAgeDays > m.maxCookieAgeDays() {
		return nil, domain.NewValidationError("cookieAgeDays",
			fmt.Sprintf("must be <= %d; import a fresher cookie", m.maxCookieAgeDays()))
	}

	h, err := m.auth.Authenticate(ctx, meta.Provider, credential)
	if err != nil {
		if errors.Is(err, provider.ErrRejected) {
			m.log.Warn("Session authentication rejected", logger.AccountID(accountID), logger.Error(err))
			return nil, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailed, err)
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	sealed, err := m.sealer.Seal(credential)
	if err != nil {
		return nil, err
	}

	existing, err := m.findByProvider(ctx, accountID, meta.Provider)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if existing == nil {
		s := &domain.Session{
			ID:                   uuid.NewString(),
			AccountID:            accountID,
			Provider:             meta.Provider,
			Status:               domain.SessionConnected,
			ProviderRef:          h.Ref,
			SealedCredential:     sealed,
			InitialCookieAgeDays: meta.CookieAgeDays,
			LastAuthAt:           now,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err = m.repo.Create(ctx, s); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		m.log.Info("Session connected", logger.AccountID(accountID), logger.SessionID(s.ID))
		m.notify(ctx, *s, "")
		return s, nil
	}

	return m.mutate(ctx, existing.ID, func(s *domain.Session) {
		s.Status = domain.SessionConnected
		s.StatusReason = ""
		s.ProviderRef = h.Ref
		s.SealedCredential = sealed
		s.InitialCookieAgeDays = meta.CookieAgeDays
		s.LastAuthAt = now
	})
}

// Test probes the session, retrying a provider error once. A session past
// the maximum cookie age is expired without probing and never reconnects.
func (m *Manager) Test(ctx context.Context, sessionID string) (TestResult, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return TestResult{}, err
	}
	if s.Status == domain.SessionExpired || m.tooOld(s, m.now()) {
		if _, err = m.apply(ctx, s, expire); err != nil {
			return TestResult{}, err
		}
		return TestResult{Reason: reasonCookieTooOld}, nil
	}
	if _, err = m.apply(ctx, s, func(s *domain.Session) { s.Status = domain.SessionTesting }); err != nil {
		return TestResult{}, err
	}

	result := m.probe(ctx, s)

	now := m.now().UTC()
	_, err = m.apply(ctx, s, func(s *domain.Session) {
		s.LastTestedAt = &now
		if result.OK {
			s.Status = domain.SessionConnected
			s.StatusReason = ""
			return
		}
		s.Status = domain.SessionNeedsReauth
		s.StatusReason = result.Reason
	})
	if err != nil {
		return TestResult{}, err
	}

	m.log.Info("Session tested",
		logger.SessionID(sessionID),
		logger.Bool("ok", result.OK),
		logger.Reason(result.Reason),
	)
	return result, nil
}

func (m *Manager) probe(ctx context.Context, s *domain.Session) TestResult {
	credential, err := m.sealer.Open(s.SealedCredential)
	if err != nil {
		return TestResult{Reason: "credential unreadable"}
	}
	h := provider.Handle{Ref: s.ProviderRef, Provider: s.Provider, Credential: credential}

	var res provider.ProbeResult
	for attempt := range 2 {
		res, err = m.auth.Probe(ctx, h)
		if err == nil {
			break
		}
		m.log.Warn("Session probe failed",
			logger.SessionID(s.ID),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
	}
	if err != nil {
		return TestResult{Reason: err.Error()}
	}
	return TestResult{OK: res.OK, Reason: res.Reason}
}

// Status reports the account's best session: a connected one first, then
// the most recently authenticated.
func (m *Manager) Status(ctx context.Context, accountID string) (StatusReport, error) {
	sessions, err := m.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("list sessions: %w", err)
	}
	best := pick(sessions, "")
	if best == nil {
		return StatusReport{}, domain.ErrNotFound
	}
	return StatusReport{
		Status:        best.Status,
		SessionID:     best.ID,
		Provider:      best.Provider,
		LastAuthAt:    best.LastAuthAt,
		LastTestedAt:  best.LastTestedAt,
		CookieAgeDays: best.CookieAgeDays(m.now()),
		Reason:        best.StatusReason,
	}, nil
}

// Health returns the session admission should judge for the account.
// An empty kind accepts any provider.
func (m *Manager) Health(ctx context.Context, accountID string, kind domain.SessionProvider) (*domain.Session, error) {
	sessions, err := m.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	best := pick(sessions, kind)
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best, nil
}

// Handle unseals the connected session's credential for a provider call.
func (m *Manager) Handle(ctx context.Context, accountID string, kind domain.SessionProvider) (provider.Handle, error) {
	s, err := m.Health(ctx, accountID, kind)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return provider.Handle{}, ErrNoConnectedSession
		}
		return provider.Handle{}, err
	}
	if s.Status != domain.SessionConnected {
		return provider.Handle{}, ErrNoConnectedSession
	}
	credential, err := m.sealer.Open(s.SealedCredential)
	if err != nil {
		return provider.Handle{}, err
	}
	return provider.Handle{Ref: s.ProviderRef, Provider: s.Provider, Credential: credential}, nil
}

func (m *Manager) List(ctx context.Context, accountID string) ([]*domain.Session, error) {
	sessions, err := m.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.repo.Get(ctx, sessionID)
}

// Invalidate marks the session needs_reauth. Expired sessions stay expired.
func (m *Manager) Invalidate(ctx context.Context, sessionID, reason string) (*domain.Session, error) {
	return m.mutate(ctx, sessionID, func(s *domain.Session) {
		if s.Status == domain.SessionExpired {
			return
		}
		s.Status = domain.SessionNeedsReauth
		s.StatusReason = reason
	})
}

// InvalidateAccount invalidates the session used for the account's actions.
func (m *Manager) InvalidateAccount(ctx context.Context, accountID string, kind domain.SessionProvider, reason string) error {
	s, err := m.Health(ctx, accountID, kind)
	if err != nil {
		return err
	}
	_, err = m.Invalidate(ctx, s.ID, reason)
	return err
}

// Sweep expires every session whose cookie age exceeds the maximum and
// returns how many changed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	sessions, err := m.repo.ListUnexpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unexpired sessions: %w", err)
	}

	now := m.now()
	expired := 0
	for _, s := range sessions {
		if !m.tooOld(s, now) {
			continue
		}
		updated, mErr := m.mutate(ctx, s.ID, func(s *domain.Session) {
			if m.tooOld(s, now) {
				expire(s)
			}
		})
		if mErr != nil {
			m.log.Error("Failed to expire session", logger.SessionID(s.ID), logger.Error(mErr))
			continue
		}
		if updated.Status == domain.SessionExpired {
			expired++
		}
	}

	if expired > 0 {
		m.log.Info("Expired stale sessions", logger.Int("count", expired))
	}
	return expired, nil
}

const reasonCookieTooOld = "cookie too old"

func (m *Manager) maxCookieAgeDays() int {
	return int(m.maxCookieAge / (24 * time.Hour))
}

func (m *Manager) tooOld(s *domain.Session, now time.Time) bool {
	return s.CookieAgeDays(now) > m.maxCookieAgeDays()
}

func expire(s *domain.Session) {
	s.Status = domain.SessionExpired
	s.StatusReason = reasonCookieTooOld
}

func (m *Manager) mutate(ctx context.Context, sessionID string, fn func(*domain.Session)) (*domain.Session, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.apply(ctx, s, fn)
}

// apply runs fn on s, persists it and notifies listeners if the status
// moved. The caller holds the session lock.
func (m *Manager) apply(ctx context.Context, s *domain.Session, fn func(*domain.Session)) (*domain.Session, error) {
	from := s.Status
	fn(s)
	s.UpdatedAt = m.now().UTC()
	if err := m.repo.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("update session %s: %w", s.ID, err)
	}
	if s.Status != from {
		m.log.Info("Session status changed",
			logger.SessionID(s.ID),
			logger.AccountID(s.AccountID),
			logger.String("from", string(from)),
			logger.String("to", string(s.Status)),
		)
		m.notify(ctx, *s, from)
	}
	return s, nil
}

func (m *Manager) notify(ctx context.Context, s domain.Session, from domain.SessionStatus) {
	m.listenersMu.RLock()
	listeners := append([]StatusListener(nil), m.listeners...)
	m.listenersMu.RUnlock()
	s.SealedCredential = nil
	for _, l := range listeners {
		l(ctx, s, from)
	}
}

func (m *Manager) findByProvider(ctx context.Context, accountID string, kind domain.SessionProvider) (*domain.Session, error) {
	sessions, err := m.repo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	for _, s := range sessions {
		if s.Provider == kind {
			return s, nil
		}
	}
	return nil, nil
}

var statusRank = map[domain.SessionStatus]int{
	domain.SessionConnected:   0,
	domain.SessionTesting:     1,
	domain.SessionNeedsReauth: 2,
	domain.SessionExpired:     3,
}

// pick prefers connected, then testing, then the latest authentication.
func pick(sessions []*domain.Session, kind domain.SessionProvider) *domain.Session {
	candidates := make([]*domain.Session, 0, len(sessions))
	for _, s := range sessions {
		if kind == "" || s.Provider == kind {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := statusRank[candidates[i].Status], statusRank[candidates[j].Status]
		if ri != rj {
			return ri < rj
		}
		return candidates[i].LastAuthAt.After(candidates[j].LastAuthAt)
	})
	return candidates[0]
}
