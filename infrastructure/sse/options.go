package sse

import (
	"slices"
	"time"
)

const (
	DefaultEventBufferSize   = 1000
	DefaultClientBufferSize  = 100
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultMaxClients        = 1000
)

// Config is the operator-facing broker configuration.
type Config struct {
	Enabled           bool          `env:"SSE_ENABLED"     yaml:"enabled"`
	EventBufferSize   int           `yaml:"event_buffer_size"`
	ClientBufferSize  int           `yaml:"client_buffer_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxClients        int           `env:"SSE_MAX_CLIENTS" yaml:"max_clients"`
}

type BrokerOption func(*broker)

// WithConfig applies the non-zero fields of cfg.
func WithConfig(cfg Config) BrokerOption {
	return func(b *broker) {
		if cfg.EventBufferSize > 0 {
			b.eventBufferSize = cfg.EventBufferSize
		}
		if cfg.ClientBufferSize > 0 {
			b.clientBufferSize = cfg.ClientBufferSize
		}
		if cfg.HeartbeatInterval > 0 {
			b.heartbeatInterval = cfg.HeartbeatInterval
		}
		if cfg.MaxClients > 0 {
			b.maxClients = cfg.MaxClients
		}
	}
}

func WithMaxClients(n int) BrokerOption {
	return func(b *broker) { b.maxClients = n }
}

type ClientOption func(*ClientOptions)

func WithFilter(f EventFilter) ClientOption {
	return func(o *ClientOptions) { o.Filter = f }
}

func WithBufferSize(n int) ClientOption {
	return func(o *ClientOptions) {
		if n > 0 {
			o.BufferSize = n
		}
	}
}

// WithAccountFilter passes only events routed to accountID. An empty id
// passes everything.
func WithAccountFilter(accountID string) ClientOption {
	return WithFilter(func(e Event) bool {
		return accountID == "" || e.AccountID == accountID
	})
}

// WithTypeFilter passes only the listed event types.
func WithTypeFilter(types ...string) ClientOption {
	return WithFilter(func(e Event) bool { return slices.Contains(types, e.Type) })
}
