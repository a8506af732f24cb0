// Package profiling wires optional continuous profiling (Pyroscope) and a
// localhost pprof listener. Both are off unless configured.
package profiling

import (
	"fmt"
	"os"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
)

type Config struct {
	Pyroscope   bool   `env:"ENABLE_CONTINUOUS_PROFILING" yaml:"pyroscope"`
	ServerURL   string `env:"PYROSCOPE_SERVER_URL"        yaml:"server_url"`
	Environment string `env:"PYROSCOPE_ENVIRONMENT"       yaml:"environment"`
	Pprof       bool   `env:"ENABLE_PROFILING"            yaml:"pprof"`
	PprofPort   string `env:"PPROF_PORT"                  yaml:"pprof_port"`
}

func (c *Config) SetDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://pyroscope:4040"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.PprofPort == "" {
		c.PprofPort = "6060"
	}
}

// Profiler is a running Pyroscope session. A nil *Profiler is valid and
// stops as a no-op.
type Profiler struct {
	p *pyroscope.Profiler
}

// StartPyroscope begins continuous profiling when cfg.Pyroscope is set.
func StartPyroscope(service, version string, cfg Config, log logger.Logger) (*Profiler, error) {
	if !cfg.Pyroscope {
		return nil, nil
	}
	cfg.SetDefaults()

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "north-cloud." + service,
		ServerAddress:   cfg.ServerURL,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
		Tags: map[string]string{
			"environment": cfg.Environment,
			"version":     version,
			"hostname":    host,
			"go_version":  runtime.Version(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope: %w", err)
	}

	log.Info("Pyroscope profiling started",
		logger.String("server", cfg.ServerURL),
		logger.String("environment", cfg.Environment),
	)
	return &Profiler{p: p}, nil
}

func (p *Profiler) Stop() error {
	if p == nil || p.p == nil {
		return nil
	}
	return p.p.Stop()
}
