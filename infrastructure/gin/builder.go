package gin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/jwt"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
)

// ServerBuilder is the fluent way services assemble a Server.
type ServerBuilder struct {
	cfg     *Config
	log     logger.Logger
	routes  []func(*gin.Engine)
	checks  map[string]HealthChecker
	metrics http.Handler
}

func NewServerBuilder(serviceName string, port int) *ServerBuilder {
	return &ServerBuilder{
		cfg:    &Config{ServiceName: serviceName, Port: port, CORS: CORSConfig{Enabled: true}},
		checks: make(map[string]HealthChecker),
	}
}

func (b *ServerBuilder) WithLogger(log logger.Logger) *ServerBuilder {
	b.log = log
	return b
}

func (b *ServerBuilder) WithHost(host string) *ServerBuilder {
	b.cfg.Host = host
	return b
}

func (b *ServerBuilder) WithDebug(debug bool) *ServerBuilder {
	b.cfg.Debug = debug
	return b
}

func (b *ServerBuilder) WithVersion(version string) *ServerBuilder {
	b.cfg.ServiceVersion = version
	return b
}

func (b *ServerBuilder) WithCORSOrigins(origins []string) *ServerBuilder {
	b.cfg.CORS.AllowedOrigins = origins
	return b
}

func (b *ServerBuilder) WithTimeouts(read, write, idle, shutdown time.Duration) *ServerBuilder {
	b.cfg.ReadTimeout = read
	b.cfg.WriteTimeout = write
	b.cfg.IdleTimeout = idle
	b.cfg.ShutdownTimeout = shutdown
	return b
}

func (b *ServerBuilder) WithHealthCheck(name string, critical bool, ping func(context.Context) error) *ServerBuilder {
	b.checks[name] = PingChecker(name, critical, ping)
	return b
}

// WithMetrics mounts h at GET /metrics.
func (b *ServerBuilder) WithMetrics(h http.Handler) *ServerBuilder {
	b.metrics = h
	return b
}

func (b *ServerBuilder) WithRoutes(setup func(*gin.Engine)) *ServerBuilder {
	b.routes = append(b.routes, setup)
	return b
}

func (b *ServerBuilder) Build() *Server {
	if b.log == nil {
		b.log = logger.NewNop()
	}
	return NewServer(b.cfg, b.log, func(router *gin.Engine) {
		RegisterHealthRoutes(router, b.cfg.ServiceName, b.cfg.ServiceVersion, b.checks)
		if b.metrics != nil {
			router.GET("/metrics", gin.WrapH(b.metrics))
		}
		for _, setup := range b.routes {
			setup(router)
		}
	})
}

// ProtectedGroup returns a group under path that requires a valid bearer
// token. An empty secret disables auth, which is only meant for local runs.
func ProtectedGroup(router *gin.Engine, path, secret string) *gin.RouterGroup {
	if secret == "" {
		return router.Group(path)
	}
	return router.Group(path, jwt.Middleware(secret))
}
