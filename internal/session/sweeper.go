package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
)

// Sweeper runs Manager.Sweep on a cron schedule.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
	log     logger.Logger
}

// NewSweeper accepts standard five-field expressions and descriptors such
// as "@every 1h".
func NewSweeper(m *Manager, schedule string, log logger.Logger) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Sweeper{
		manager: m,
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		log:     log,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run blocks until ctx is done, then waits for a running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("Session sweeper started")
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("Session sweeper stopped")
	return nil
}

func (s *Sweeper) sweep() {
	if _, err := s.manager.Sweep(context.Background()); err != nil {
		s.log.Error("Session sweep failed", logger.Error(err))
	}
}
