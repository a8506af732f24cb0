package bootstrap

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/audit"
	"github.com/jonesrussell/north-cloud/sniper/internal/config"
	"github.com/jonesrussell/north-cloud/sniper/internal/database"
	"github.com/jonesrussell/north-cloud/sniper/internal/memstore"
	"github.com/jonesrussell/north-cloud/sniper/internal/policy"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
	"github.com/jonesrussell/north-cloud/sniper/internal/session"
)

// Storage is the persistence behind the four stores. Ping is nil for the
// in-memory driver.
type Storage struct {
	Policies policy.Repository
	Sessions session.Repository
	Jobs     queue.Store
	Audit    audit.Store
	Ping     func(context.Context) error
	Close    func() error
}

// SetupStorage opens the configured driver. With postgres the embedded
// migrations are applied before the repositories are returned.
func SetupStorage(ctx context.Context, cfg *config.Config, log logger.Logger) (*Storage, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := database.Open(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("database connection: %w", err)
		}
		if err = database.Migrate(db, database.Up); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		return &Storage{
			Policies: database.NewPolicyRepository(db),
			Sessions: database.NewSessionRepository(db),
			Jobs:     database.NewJobRepository(db),
			Audit:    database.NewAuditRepository(db),
			Ping:     db.PingContext,
			Close:    db.Close,
		}, nil
	default:
		log.Warn("Using in-memory storage; state is lost on restart")
		return &Storage{
			Policies: memstore.NewPolicyRepository(),
			Sessions: memstore.NewSessionRepository(),
			Jobs:     memstore.NewJobStore(),
			Audit:    memstore.NewAuditStore(),
			Close:    func() error { return nil },
		}, nil
	}
}
