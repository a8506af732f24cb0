package bootstrap

import (
	"context"

	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/sniper/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/api"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
)

// SetupHTTPServer creates and configures the HTTP server.
func SetupHTTPServer(cfg *config.Config, s *Services, version string, log logger.Logger) *infragin.Server {
	handler := api.NewHandler(api.Deps{
		Policies:  s.Policies,
		Sessions:  s.Sessions,
		Admission: s.Admission,
		Queue:     s.Queue,
		Audit:     s.Audit,
		Broker:    s.Broker,
		Heartbeat: cfg.SSE.HeartbeatInterval,
		Log:       log,
	})

	builder := infragin.NewServerBuilder(serviceName, cfg.Server.Port).
		WithLogger(log).
		WithHost(cfg.Server.Host).
		WithDebug(cfg.Debug).
		WithVersion(version).
		WithCORSOrigins(cfg.Server.CORSOrigins).
		WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout).
		WithMetrics(s.Metrics.Handler()).
		WithRoutes(func(router *gin.Engine) { router.Use(s.Metrics.GinMiddleware()) }).
		WithRoutes(handler.Routes(cfg.Auth.JWTSecret))

	if s.Storage.Ping != nil {
		builder = builder.WithHealthCheck("database", true, s.Storage.Ping)
	}
	if s.Redis != nil {
		builder = builder.WithHealthCheck("redis", false, func(ctx context.Context) error {
			return s.Redis.Ping(ctx).Err()
		})
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET is empty; the API is unauthenticated")
	}
	return builder.Build()
}
