package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
)

// Handler streams broker events to the client until it disconnects.
// Per-request options (such as an account filter) come from optsFor.
func Handler(b Broker, log logger.Logger, heartbeat time.Duration, optsFor func(*gin.Context) []ClientOption) gin.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return func(c *gin.Context) {
		var opts []ClientOption
		if optsFor != nil {
			opts = optsFor(c)
			if c.IsAborted() {
				return
			}
		}

		events, unsubscribe := b.Subscribe(c.Request.Context(), opts...)
		defer unsubscribe()

		select {
		case _, ok := <-events:
			if !ok {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
				return
			}
		default:
		}

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		hello := Event{Type: eventTypeConnected, Data: gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)}}
		if err := writeFlush(c.Writer, hello); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				if err := writeFlush(c.Writer, e); err != nil {
					log.Debug("SSE write failed", logger.Error(err))
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

func writeFlush(w gin.ResponseWriter, e Event) error {
	if err := WriteEvent(w, e); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// WriteEvent renders e in text/event-stream framing.
func WriteEvent(w io.Writer, e Event) error {
	if e.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", e.Type); err != nil {
			return err
		}
	}
	if e.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", e.ID); err != nil {
			return err
		}
	}
	if e.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", e.Retry); err != nil {
			return err
		}
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal sse data: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
