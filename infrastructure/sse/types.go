// Package sse fans engine events out to Server-Sent Events subscribers.
// A single broker goroutine distributes published events; slow subscribers
// are disconnected rather than allowed to block publishers.
package sse

import "context"

// Event is one SSE frame. Data is marshalled to JSON on the wire.
// AccountID is routing metadata for filters and is not written.
type Event struct {
	Type      string `json:"type"`
	AccountID string `json:"-"`
	Data      any    `json:"data"`
	ID        string `json:"id,omitempty"`
	Retry     int    `json:"retry,omitempty"`
}

// Event types emitted by the engine.
const (
	EventTypeDecision      = "admission:decision"
	EventTypeItemStatus    = "item:status"
	EventTypeJobStatus     = "job:status"
	EventTypeJobFinished   = "job:finished"
	EventTypeSessionStatus = "session:status"

	eventTypeConnected = "connected"
)

type Publisher interface {
	// Publish queues event for broadcast. It never blocks; a full buffer
	// is an error.
	Publish(ctx context.Context, event Event) error
}

type Subscriber interface {
	// Subscribe returns a channel closed when ctx ends, the broker stops,
	// or the subscriber falls behind. The func unsubscribes early.
	Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func())
}

type Broker interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
	Stop() error
	ClientCount() int
}

// EventFilter returns true for events the subscriber wants.
type EventFilter func(Event) bool

type ClientOptions struct {
	Filter     EventFilter
	BufferSize int
}
