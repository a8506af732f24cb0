// Package executor drains the job queue. A dispatcher hands due accounts to
// a fixed set of workers; each account is held by at most one worker, so
// items of an account are evaluated in order. Provider calls run on their
// own goroutines, bounded by MaxInFlight, and never under a lock.
package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/sniper/internal/admission"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/metrics"
	"github.com/jonesrussell/north-cloud/sniper/internal/provider"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
)

var (
	ErrAlreadyRunning = errors.New("executor already running")
	ErrNotRunning     = errors.New("executor not running")
)

// Admission is the part of the admission controller the executor drives.
type Admission interface {
	Evaluate(ctx context.Context, req admission.Request) (domain.Decision, error)
	Release(ctx context.Context, accountID string) error
	TriggerCooldown(ctx context.Context, accountID string) (time.Time, error)
	RecordFailure(ctx context.Context, accountID string) error
}

type Sessions interface {
	Health(ctx context.Context, accountID string, kind domain.SessionProvider) (*domain.Session, error)
	Handle(ctx context.Context, accountID string, kind domain.SessionProvider) (provider.Handle, error)
	InvalidateAccount(ctx context.Context, accountID string, kind domain.SessionProvider, reason string) error
}

type Performer interface {
	Perform(ctx context.Context, h provider.Handle, action domain.ActionType, target string, payload domain.RawJSON) (provider.Result, error)
}

// retryBackoff spaces transient retries 10s, 30s, 90s ... up to 10m.
var retryBackoff = retry.Config{
	InitialDelay: 10 * time.Second,
	Multiplier:   3,
	MaxDelay:     10 * time.Minute,
}

type Executor struct {
	cfg       config.ExecutorConfig
	queue     *queue.Queue
	admission Admission
	sessions  Sessions
	policies  admission.PolicySource
	provider  Performer
	metrics   *metrics.Metrics
	log       logger.Logger
	now       func() time.Time

	sem      chan struct{}
	inflight sync.WaitGroup

	busyMu sync.Mutex
	busy   map[string]struct{}

	running atomic.Bool
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

type Option func(*Executor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func New(
	cfg config.ExecutorConfig,
	q *queue.Queue,
	adm Admission,
	sessions Sessions,
	policies admission.PolicySource,
	p Performer,
	log logger.Logger,
	opts ...Option,
) *Executor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	e := &Executor{
		cfg:       cfg,
		queue:     q,
		admission: adm,
		sessions:  sessions,
		policies:  policies,
		provider:  p,
		log:       log,
		now:       time.Now,
		sem:       make(chan struct{}, cfg.MaxInFlight),
		busy:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the dispatcher and workers. They run until ctx ends or
// Stop is called.
func (e *Executor) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	work := make(chan string, e.cfg.Workers)

	for range e.cfg.Workers {
		e.workers.Add(1)
		go func() {
			defer e.workers.Done()
			for accountID := range work {
				e.processAccount(runCtx, accountID)
				e.unclaim(accountID)
			}
		}()
	}

	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		defer close(work)
		e.dispatchLoop(runCtx, work)
	}()

	e.log.Info("Executor started",
		logger.Int("workers", e.cfg.Workers),
		logger.Int("max_in_flight", e.cfg.MaxInFlight),
		logger.Duration("poll_interval", e.cfg.PollInterval),
	)
	return nil
}

// Stop cancels dispatching and waits for workers and in-flight provider
// calls, or for ctx.
func (e *Executor) Stop(ctx context.Context) error {
	if !e.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("Executor stopped")
		return nil
	case <-ctx.Done():
		e.log.Warn("Executor stop timed out with calls in flight")
		return ctx.Err()
	}
}

func (e *Executor) dispatchLoop(ctx context.Context, work chan<- string) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		e.dispatch(ctx, work)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Executor) dispatch(ctx context.Context, work chan<- string) {
	e.metrics.ObserveDispatch()
	e.reconcilePausedJobs(ctx)

	accounts, err := e.queue.DueAccounts(ctx, e.now(), e.cfg.Workers)
	if err != nil {
		if ctx.Err() == nil {
			e.log.Error("Failed to list due accounts", logger.Error(err))
		}
		return
	}

	for _, accountID := range accounts {
		if !e.claim(accountID) {
			continue
		}
		select {
		case work <- accountID:
		default:
			// Every worker is busy; the account is picked up next tick.
			e.unclaim(accountID)
		}
	}
}

// RunOnce runs one dispatch cycle on the calling goroutine and waits for the
// provider calls it started.
func (e *Executor) RunOnce(ctx context.Context) error {
	e.metrics.ObserveDispatch()
	e.reconcilePausedJobs(ctx)

	accounts, err := e.queue.DueAccounts(ctx, e.now(), 0)
	if err != nil {
		return err
	}
	for _, accountID := range accounts {
		if !e.claim(accountID) {
			continue
		}
		e.processAccount(ctx, accountID)
		e.unclaim(accountID)
	}
	e.inflight.Wait()
	return ctx.Err()
}

func (e *Executor) claim(accountID string) bool {
	e.busyMu.Lock()
	defer e.busyMu.Unlock()
	if _, ok := e.busy[accountID]; ok {
		return false
	}
	e.busy[accountID] = struct{}{}
	return true
}

func (e *Executor) unclaim(accountID string) {
	e.busyMu.Lock()
	defer e.busyMu.Unlock()
	delete(e.busy, accountID)
}
