package executor

import (
	"context"
	"errors"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// OnSessionStatus follows session changes: a connected session resumes the
// account's system-paused jobs and losing the last usable one pauses them.
// Register it with session.Manager.OnStatusChange.
func (e *Executor) OnSessionStatus(ctx context.Context, s domain.Session, from domain.SessionStatus) {
	e.metrics.ObserveSessionStatus(string(s.Status))

	var kind domain.SessionProvider
	if p, err := e.policies.Get(ctx, s.AccountID); err == nil {
		kind = p.Sender.Provider
	}
	if kind != "" && kind != s.Provider {
		// Not the session this account sends with.
		return
	}

	log := e.log.With(logger.AccountID(s.AccountID), logger.SessionID(s.ID))
	switch s.Status {
	case domain.SessionConnected:
		if from == domain.SessionConnected {
			return
		}
		if _, err := e.queue.ResumeAccount(ctx, s.AccountID); err != nil {
			log.Error("Failed to resume account", logger.Error(err))
		}
	case domain.SessionNeedsReauth, domain.SessionExpired:
		connected, err := e.hasConnectedSession(ctx, s.AccountID, kind)
		if err != nil {
			log.Error("Failed to check remaining sessions", logger.Error(err))
		}
		if connected {
			return
		}
		if _, err = e.queue.PauseAccount(ctx, s.AccountID, domain.PauseSessionUnavailable); err != nil {
			log.Error("Failed to pause account", logger.Error(err))
		}
	case domain.SessionTesting:
	}
}

// hasConnectedSession reports whether the account still has a session the
// executor can send with.
func (e *Executor) hasConnectedSession(ctx context.Context, accountID string, kind domain.SessionProvider) (bool, error) {
	s, err := e.sessions.Health(ctx, accountID, kind)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return s.Status == domain.SessionConnected, nil
}
