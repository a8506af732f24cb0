// Package config is the sniper service configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/sniper/infrastructure/config"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/profiling"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/sse"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	defaultTimezone           = "America/Chicago"
	defaultPollInterval       = time.Second
	defaultWorkers            = 4
	defaultBatchSize          = 10
	defaultMaxInFlight        = 16
	defaultProviderTimeout    = 30 * time.Second
	defaultMaxAttempts        = 3
	defaultSessionRecheck     = 30 * time.Second
	defaultSessionWaitTimeout = 24 * time.Hour
	defaultConcurrencyRecheck = 5 * time.Second
	defaultMaxCookieAge       = 30 * 24 * time.Hour
	defaultSweepSchedule      = "@every 1h"
	defaultProviderRPS        = 2.0
	defaultProviderBurst      = 2
	sealingKeyLength          = 32
)

type Config struct {
	Debug         bool                            `env:"APP_DEBUG" yaml:"debug"`
	Server        infraconfig.ServerConfig        `yaml:"server"`
	Auth          AuthConfig                      `yaml:"auth"`
	Storage       StorageConfig                   `yaml:"storage"`
	Database      infraconfig.DatabaseConfig      `yaml:"database"`
	Redis         infraconfig.RedisConfig         `yaml:"redis"`
	Elasticsearch infraconfig.ElasticsearchConfig `yaml:"elasticsearch"`
	Logging       infraconfig.LoggingConfig       `yaml:"logging"`
	Profiling     profiling.Config                `yaml:"profiling"`
	SSE           sse.Config                      `yaml:"sse"`
	Admission     AdmissionConfig                 `yaml:"admission"`
	Executor      ExecutorConfig                  `yaml:"executor"`
	Session       SessionConfig                   `yaml:"session"`
	Provider      ProviderConfig                  `yaml:"provider"`
}

type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET" yaml:"jwt_secret"`
}

// StorageConfig selects the persistence backend. memory keeps everything
// in-process; postgres uses the database section.
type StorageConfig struct {
	Driver string `env:"SNIPER_STORAGE" yaml:"driver"`
}

type AdmissionConfig struct {
	DefaultTimezone    string        `env:"SNIPER_DEFAULT_TIMEZONE" yaml:"default_timezone"`
	ConcurrencyRecheck time.Duration `yaml:"concurrency_recheck"`
	// DistributedLock switches the per-account critical section to Redis.
	DistributedLock bool `env:"SNIPER_DISTRIBUTED_LOCK" yaml:"distributed_lock"`
}

type ExecutorConfig struct {
	Disabled           bool          `env:"SNIPER_EXECUTOR_DISABLED" yaml:"disabled"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	Workers            int           `env:"SNIPER_WORKERS"           yaml:"workers"`
	BatchSize          int           `yaml:"batch_size"`
	MaxInFlight        int           `yaml:"max_in_flight"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout"`
	MaxAttempts        int           `yaml:"max_attempts"`
	SessionRecheck     time.Duration `yaml:"session_recheck"`
	SessionWaitTimeout time.Duration `yaml:"session_wait_timeout"`
}

type SessionConfig struct {
	MaxCookieAge  time.Duration `yaml:"max_cookie_age"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	// SealingKey is 32 bytes, hex encoded.
	SealingKey string `env:"SNIPER_SEALING_KEY" yaml:"sealing_key"`
}

// ProviderConfig points at the automation driver. An empty URL runs the
// scripted in-process provider.
type ProviderConfig struct {
	URL       string        `env:"SNIPER_PROVIDER_URL"   yaml:"url"`
	Token     string        `env:"SNIPER_PROVIDER_TOKEN" yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

func Load(path string) (*Config, error) {
	cfg, err := infraconfig.LoadWithDefaults(path, setDefaults)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if err := c.Database.Validate(); err != nil {
			return err
		}
	default:
		return &infraconfig.ValidationError{Field: "storage.driver", Message: "must be memory or postgres"}
	}

	if c.Admission.DistributedLock && !c.Redis.Enabled {
		return errors.New("admission.distributed_lock requires redis.enabled")
	}
	if _, err := time.LoadLocation(c.Admission.DefaultTimezone); err != nil {
		return &infraconfig.ValidationError{Field: "admission.default_timezone", Message: err.Error()}
	}

	if c.Executor.Workers < 1 {
		return &infraconfig.ValidationError{Field: "executor.workers", Message: "must be at least 1"}
	}
	if c.Executor.MaxAttempts < 1 {
		return &infraconfig.ValidationError{Field: "executor.max_attempts", Message: "must be at least 1"}
	}
	if c.Session.SealingKey != "" && len(c.Session.SealingKey) != sealingKeyLength*2 {
		return &infraconfig.ValidationError{Field: "session.sealing_key", Message: "must be 64 hex characters"}
	}
	return nil
}

func setDefaults(cfg *Config) {
	cfg.Server.SetDefaults()
	cfg.Database.SetDefaults()
	cfg.Redis.SetDefaults()
	cfg.Elasticsearch.SetDefaults()
	cfg.Logging.SetDefaults()
	cfg.Profiling.SetDefaults()

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = "sniper"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageMemory
	}

	if cfg.Admission.DefaultTimezone == "" {
		cfg.Admission.DefaultTimezone = defaultTimezone
	}
	if cfg.Admission.ConcurrencyRecheck == 0 {
		cfg.Admission.ConcurrencyRecheck = defaultConcurrencyRecheck
	}

	setExecutorDefaults(&cfg.Executor)

	if cfg.Session.MaxCookieAge == 0 {
		cfg.Session.MaxCookieAge = defaultMaxCookieAge
	}
	if cfg.Session.SweepSchedule == "" {
		cfg.Session.SweepSchedule = defaultSweepSchedule
	}

	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = defaultProviderTimeout
	}
	if cfg.Provider.RateLimit == 0 {
		cfg.Provider.RateLimit = defaultProviderRPS
	}
	if cfg.Provider.Burst == 0 {
		cfg.Provider.Burst = defaultProviderBurst
	}
}

func setExecutorDefaults(e *ExecutorConfig) {
	if e.PollInterval == 0 {
		e.PollInterval = defaultPollInterval
	}
	if e.Workers == 0 {
		e.Workers = defaultWorkers
	}
	if e.BatchSize == 0 {
		e.BatchSize = defaultBatchSize
	}
	if e.MaxInFlight == 0 {
		e.MaxInFlight = defaultMaxInFlight
	}
	if e.ProviderTimeout == 0 {
		e.ProviderTimeout = defaultProviderTimeout
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = defaultMaxAttempts
	}
	if e.SessionRecheck == 0 {
		e.SessionRecheck = defaultSessionRecheck
	}
	if e.SessionWaitTimeout == 0 {
		e.SessionWaitTimeout = defaultSessionWaitTimeout
	}
}
