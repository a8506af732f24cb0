package bootstrap

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/elasticsearch"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	infraredis "github.com/jonesrussell/north-cloud/sniper/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/sniper/internal/audit"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
)

// SetupRedis returns nil when Redis is disabled. An unreachable Redis is
// fatal only when the distributed lock depends on it.
func SetupRedis(ctx context.Context, cfg *config.Config, log logger.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}

	client, err := infraredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		if cfg.Admission.DistributedLock {
			return nil, err
		}
		log.Warn("Redis not available, using in-process counters and no event stream",
			logger.Error(err),
		)
		return nil, nil
	}

	log.Info("Redis connected", logger.String("redis_address", cfg.Redis.Address))
	return client, nil
}

// SetupAuditSink returns the Elasticsearch audit mirror, or nil when it is
// disabled or the cluster is unreachable.
func SetupAuditSink(ctx context.Context, cfg *config.Config, log logger.Logger) audit.Sink {
	if !cfg.Elasticsearch.Enabled {
		return nil
	}
	client, err := elasticsearch.NewClient(ctx, cfg.Elasticsearch, log)
	if err != nil {
		log.Warn("Elasticsearch not available, audit mirror disabled", logger.Error(err))
		return nil
	}
	return audit.NewElasticsearchSink(client, audit.DefaultIndex)
}
