// Package audit is the append-only activity log of admission decisions and
// item transitions. Records are persisted through a Store and fanned out
// best-effort to sinks such as Elasticsearch and the SSE broker.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000

	defaultSinkBuffer = 1024
	sinkTimeout       = 5 * time.Second
)

// Store persists records. Append assigns rec.Seq. There is no update or
// delete.
type Store interface {
	Append(ctx context.Context, rec *domain.AuditRecord) error
	List(ctx context.Context, c Cursor) ([]domain.AuditRecord, error)
}

// Sink receives every appended record after it is stored.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, rec domain.AuditRecord) error
}

// Cursor pages through records with Seq > After.
type Cursor struct {
	AccountID string `json:"accountId,omitempty"`
	After     int64  `json:"after"`
	Limit     int    `json:"limit"`
}

type Page struct {
	Records    []domain.AuditRecord `json:"records"`
	NextCursor *Cursor              `json:"nextCursor,omitempty"`
}

type Log struct {
	store   Store
	sinks   []Sink
	log     logger.Logger
	now     func() time.Time
	pending chan domain.AuditRecord
}

type Option func(*Log)

func WithSinks(sinks ...Sink) Option {
	return func(l *Log) { l.sinks = append(l.sinks, sinks...) }
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func WithSinkBuffer(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.pending = make(chan domain.AuditRecord, n)
		}
	}
}

func NewLog(store Store, log logger.Logger, opts ...Option) *Log {
	l := &Log{
		store:   store,
		log:     log,
		now:     time.Now,
		pending: make(chan domain.AuditRecord, defaultSinkBuffer),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stamps and stores rec, then queues it for the sinks.
func (l *Log) Append(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	rec.Seq = 0
	rec.Timestamp = l.now().UTC()
	if err := l.store.Append(ctx, &rec); err != nil {
		return rec, fmt.Errorf("append audit record: %w", err)
	}

	if len(l.sinks) > 0 {
		select {
		case l.pending <- rec:
		default:
			l.log.Warn("Audit sink buffer full, dropping record", logger.Int64("seq", rec.Seq))
		}
	}
	return rec, nil
}

// List returns records in seq order. NextCursor is set when the page is full.
func (l *Log) List(ctx context.Context, c Cursor) (Page, error) {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Limit > MaxLimit {
		c.Limit = MaxLimit
	}
	if c.After < 0 {
		return Page{}, domain.NewValidationError("after", "must be >= 0")
	}

	records, err := l.store.List(ctx, c)
	if err != nil {
		return Page{}, fmt.Errorf("list audit records: %w", err)
	}
	if records == nil {
		records = []domain.AuditRecord{}
	}

	page := Page{Records: records}
	if len(records) == c.Limit {
		next := c
		next.After = records[len(records)-1].Seq
		page.NextCursor = &next
	}
	return page, nil
}

// Run delivers queued records to the sinks until ctx is done.
func (l *Log) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return nil
		case rec := <-l.pending:
			l.deliver(ctx, rec)
		}
	}
}

func (l *Log) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for {
		select {
		case rec := <-l.pending:
			l.deliver(ctx, rec)
		default:
			return
		}
	}
}

func (l *Log) deliver(ctx context.Context, rec domain.AuditRecord) {
	for _, s := range l.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := s.Deliver(sinkCtx, rec)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			l.log.Warn("Audit sink delivery failed",
				logger.String("sink", s.Name()),
				logger.Int64("seq", rec.Seq),
				logger.Error(err),
			)
		}
	}
}
