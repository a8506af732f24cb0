// Package events publishes job lifecycle events to a Redis stream and the
// SSE broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

// StreamName is the Redis stream job events are appended to.
const StreamName = "sniper:events"

const asyncPublishTimeout = 5 * time.Second

type EventType string

const (
	JobFinished EventType = "job.finished"
	JobPaused   EventType = "job.paused"
)

// JobEvent is the stream payload, stored as JSON under the "event" field.
type JobEvent struct {
	EventID   uuid.UUID         `json:"eventId"`
	EventType EventType         `json:"eventType"`
	JobID     string            `json:"jobId"`
	AccountID string            `json:"accountId"`
	Status    domain.JobStatus  `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Summary   domain.JobSummary `json:"summary"`
	Timestamp time.Time         `json:"timestamp"`
}

type Publisher struct {
	client *redis.Client
	log    logger.Logger
}

// NewPublisher returns nil when client is nil; a nil Publisher drops events.
func NewPublisher(client *redis.Client, log logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{client: client, log: log}
}

func (p *Publisher) Publish(ctx context.Context, event JobEvent) error {
	if p == nil || p.client == nil {
		return nil
	}

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]any{"event": string(payload)},
	})
	if err = result.Err(); err != nil {
		p.log.Error("Failed to publish job event",
			logger.String("event_type", string(event.EventType)),
			logger.JobID(event.JobID),
			logger.Error(err),
		)
		return fmt.Errorf("publish to stream: %w", err)
	}

	p.log.Debug("Published job event",
		logger.String("event_type", string(event.EventType)),
		logger.JobID(event.JobID),
		logger.String("stream_id", result.Val()),
	)
	return nil
}

// PublishAsync publishes on a detached context; failures are only logged.
func (p *Publisher) PublishAsync(event JobEvent) {
	if p == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncPublishTimeout)
		defer cancel()
		_ = p.Publish(ctx, event)
	}()
}
