package events

import (
	"context"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/metrics"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
)

// JobStatusPayload is the SSE data for job:status and job:finished.
type JobStatusPayload struct {
	JobID        string             `json:"jobId"`
	AccountID    string             `json:"accountId"`
	Status       domain.JobStatus   `json:"status"`
	PausedReason domain.PauseReason `json:"pausedReason,omitempty"`
	Summary      domain.JobSummary  `json:"summary"`
}

// Notifier fans job status changes out to SSE subscribers, the Redis stream
// and metrics. Any of the three may be nil.
type Notifier struct {
	broker    sse.Publisher
	publisher *Publisher
	metrics   *metrics.Metrics
	log       logger.Logger
}

var _ queue.Observer = (*Notifier)(nil)

func NewNotifier(broker sse.Publisher, publisher *Publisher, m *metrics.Metrics, log logger.Logger) *Notifier {
	return &Notifier{broker: broker, publisher: publisher, metrics: m, log: log}
}

func (n *Notifier) JobChanged(ctx context.Context, job *domain.Job, summary domain.JobSummary) {
	payload := JobStatusPayload{
		JobID:        job.ID,
		AccountID:    job.AccountID,
		Status:       job.Status,
		PausedReason: job.PausedReason,
		Summary:      summary,
	}

	eventType := sse.EventTypeJobStatus
	if job.Status.Terminal() {
		eventType = sse.EventTypeJobFinished
	}
	if n.broker != nil {
		err := n.broker.Publish(ctx, sse.Event{Type: eventType, AccountID: job.AccountID, Data: payload})
		if err != nil {
			n.log.Warn("SSE publish dropped", logger.JobID(job.ID), logger.Error(err))
		}
	}

	switch {
	case job.Status.Terminal():
		if n.metrics != nil {
			n.metrics.ObserveJobFinished(string(job.Status))
		}
		n.publisher.PublishAsync(JobEvent{
			EventType: JobFinished,
			JobID:     job.ID,
			AccountID: job.AccountID,
			Status:    job.Status,
			Reason:    job.ErrorMessage,
			Summary:   summary,
		})
	case job.Status == domain.JobPaused:
		n.publisher.PublishAsync(JobEvent{
			EventType: JobPaused,
			JobID:     job.ID,
			AccountID: job.AccountID,
			Status:    job.Status,
			Reason:    string(job.PausedReason),
			Summary:   summary,
		})
	}
}

// SessionStatusPayload is the SSE data for session:status. It never
// carries credential material.
type SessionStatusPayload struct {
	SessionID string               `json:"sessionId"`
	AccountID string               `json:"accountId"`
	Status    domain.SessionStatus `json:"status"`
	From      domain.SessionStatus `json:"from,omitempty"`
	Reason    string               `json:"reason,omitempty"`
}

// SessionChanged matches session.StatusListener.
func (n *Notifier) SessionChanged(ctx context.Context, s domain.Session, from domain.SessionStatus) {
	if n.broker == nil {
		return
	}
	err := n.broker.Publish(ctx, sse.Event{
		Type:      sse.EventTypeSessionStatus,
		AccountID: s.AccountID,
		Data: SessionStatusPayload{
			SessionID: s.ID,
			AccountID: s.AccountID,
			Status:    s.Status,
			From:      from,
			Reason:    s.StatusReason,
		},
	})
	if err != nil {
		n.log.Warn("SSE publish dropped", logger.SessionID(s.ID), logger.Error(err))
	}
}
