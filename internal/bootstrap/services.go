package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/sniper/internal/admission"
	"github.com/jonesrussell/north-cloud/sniper/internal/audit"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
	"github.com/jonesrussell/north-cloud/sniper/internal/events"
	"github.com/jonesrussell/north-cloud/sniper/internal/executor"
	"github.com/jonesrussell/north-cloud/sniper/internal/metrics"
	"github.com/jonesrussell/north-cloud/sniper/internal/policy"
	"github.com/jonesrussell/north-cloud/sniper/internal/provider"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
	"github.com/jonesrussell/north-cloud/sniper/internal/session"
)

// Services is the fully wired engine. Background loops are not running
// until Run is called.
type Services struct {
	Metrics   *metrics.Metrics
	Broker    sse.Broker
	Storage   *Storage
	Redis     *redis.Client
	Audit     *audit.Log
	Policies  *policy.Store
	Sessions  *session.Manager
	Sweeper   *session.Sweeper
	Admission *admission.Controller
	Queue     *queue.Queue
	Executor  *executor.Executor
}

// BuildServices wires every component from cfg. Close releases what it
// opened.
func BuildServices(ctx context.Context, cfg *config.Config, log logger.Logger) (*Services, error) {
	s := &Services{Metrics: metrics.New()}

	storage, err := SetupStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s.Storage = storage

	if s.Redis, err = SetupRedis(ctx, cfg, log); err != nil {
		s.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	var publisher sse.Publisher
	if cfg.SSE.Enabled {
		s.Broker = sse.NewBroker(log, sse.WithConfig(cfg.SSE))
		publisher = s.Broker
	}

	var sinks []audit.Sink
	if sink := SetupAuditSink(ctx, cfg, log); sink != nil {
		sinks = append(sinks, sink)
	}
	if publisher != nil {
		sinks = append(sinks, audit.NewBrokerSink(publisher))
	}
	s.Audit = audit.NewLog(storage.Audit, log, audit.WithSinks(sinks...))

	s.Policies = policy.NewStore(storage.Policies, log, policy.WithTimezone(cfg.Admission.DefaultTimezone))

	prov, err := newProvider(cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	sealer, err := newSealer(cfg, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Sessions = session.NewManager(storage.Sessions, prov, sealer, log,
		session.WithMaxCookieAge(cfg.Session.MaxCookieAge),
	)
	if s.Sweeper, err = session.NewSweeper(s.Sessions, cfg.Session.SweepSchedule, log); err != nil {
		s.Close()
		return nil, err
	}

	s.Admission = s.newController(cfg, log)

	notifier := events.NewNotifier(publisher, events.NewPublisher(s.Redis, log), s.Metrics, log)
	s.Queue = queue.New(storage.Jobs, log,
		queue.WithRecorder(s.Audit),
		queue.WithObserver(notifier),
	)

	s.Executor = executor.New(cfg.Executor, s.Queue, s.Admission, s.Sessions, s.Policies, prov, log,
		executor.WithMetrics(s.Metrics),
	)
	s.Sessions.OnStatusChange(s.Executor.OnSessionStatus)
	s.Sessions.OnStatusChange(notifier.SessionChanged)

	return s, nil
}

func (s *Services) newController(cfg *config.Config, log logger.Logger) *admission.Controller {
	var store admission.CounterStore = admission.NewMemoryStore()
	if s.Redis != nil {
		store = admission.NewRedisStore(s.Redis)
	}

	opts := []admission.Option{
		admission.WithRecorder(s.Audit),
		admission.WithMetrics(s.Metrics),
		admission.WithConcurrencyRecheck(cfg.Admission.ConcurrencyRecheck),
	}
	if cfg.Admission.DistributedLock && s.Redis != nil {
		opts = append(opts, admission.WithLocker(admission.NewRedisLocker(s.Redis, log)))
	}
	return admission.NewController(s.Policies, s.Sessions, store, log, opts...)
}

func newProvider(cfg *config.Config, log logger.Logger) (provider.Provider, error) {
	if cfg.Provider.URL == "" {
		log.Warn("No provider URL configured, using the scripted provider")
		return provider.NewScripted(), nil
	}
	return provider.NewHTTPProvider(provider.HTTPConfig{
		BaseURL:   cfg.Provider.URL,
		Token:     cfg.Provider.Token,
		Timeout:   cfg.Provider.Timeout,
		RateLimit: cfg.Provider.RateLimit,
		Burst:     cfg.Provider.Burst,
		Breaker:   circuitbreaker.DefaultConfig(),
	}, log), nil
}

func newSealer(cfg *config.Config, log logger.Logger) (*session.Sealer, error) {
	if cfg.Session.SealingKey == "" {
		log.Warn("No sealing key configured; stored sessions will not survive a restart")
		return session.NewEphemeralSealer()
	}
	sealer, err := session.NewSealer(cfg.Session.SealingKey)
	if err != nil {
		return nil, fmt.Errorf("sealing key: %w", err)
	}
	return sealer, nil
}

// Close releases storage and Redis.
func (s *Services) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.Storage != nil {
		errs = append(errs, s.Storage.Close())
	}
	return errors.Join(errs...)
}
