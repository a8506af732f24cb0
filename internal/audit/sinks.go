package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

const DefaultIndex = "sniper-audit"

// ElasticsearchSink indexes each record under its seq as document id, so
// redelivery is idempotent.
type ElasticsearchSink struct {
	client *es.Client
	index  string
}

func NewElasticsearchSink(client *es.Client, index string) *ElasticsearchSink {
	if index == "" {
		index = DefaultIndex
	}
	return &ElasticsearchSink{client: client, index: index}
}

func (s *ElasticsearchSink) Name() string {
	return "elasticsearch"
}

func (s *ElasticsearchSink) Deliver(ctx context.Context, rec domain.AuditRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(doc),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(strconv.FormatInt(rec.Seq, 10)),
	)
	if err != nil {
		return fmt.Errorf("index audit record: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index audit record: %s", res.String())
	}
	return nil
}

// BrokerSink publishes decisions and item transitions to SSE subscribers.
type BrokerSink struct {
	broker sse.Publisher
}

func NewBrokerSink(broker sse.Publisher) *BrokerSink {
	return &BrokerSink{broker: broker}
}

func (s *BrokerSink) Name() string {
	return "sse"
}

func (s *BrokerSink) Deliver(ctx context.Context, rec domain.AuditRecord) error {
	eventType := sse.EventTypeItemStatus
	if rec.Kind == domain.AuditDecision {
		eventType = sse.EventTypeDecision
	}
	return s.broker.Publish(ctx, sse.Event{
		Type:      eventType,
		AccountID: rec.AccountID,
		ID:        strconv.FormatInt(rec.Seq, 10),
		Data:      rec,
	})
}
