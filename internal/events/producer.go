// Package events publishes price and run events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"

	"github.com/sells-group/goldrate-cli/internal/model"
)

// Event types carried in the EventType field.
const (
	TypePriceUpserted = "PRICE_UPSERTED"
	TypeRunCompleted  = "RUN_COMPLETED"
)

// PriceEvent announces one stored price document.
type PriceEvent struct {
	EventType string              `json:"event_type"`
	RunID     string              `json:"run_id"`
	Key       string              `json:"key"`
	Document  model.PriceDocument `json:"document"`
	Timestamp time.Time           `json:"timestamp"`
}

// RunEvent announces a finished run.
type RunEvent struct {
	EventType  string             `json:"event_type"`
	RunID      string             `json:"run_id"`
	Status     model.TargetStatus `json:"status"`
	Written    int                `json:"written"`
	Rejected   int                `json:"rejected"`
	Targets    int                `json:"targets"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Timestamp  time.Time          `json:"timestamp"`
}

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles publishing events to Kafka.
type Producer struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewProducer creates a producer writing to topic on brokers.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{writer: writer, topic: topic, now: time.Now}
}

// Topic returns the destination topic.
func (p *Producer) Topic() string { return p.topic }

// PublishPrices emits one PriceEvent per record, keyed by document key so
// that updates to the same document land on the same partition.
func (p *Producer) PublishPrices(ctx context.Context, runID string, recs []model.PriceRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := p.now().UTC()
	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		data, err := json.Marshal(PriceEvent{
			EventType: TypePriceUpserted,
			RunID:     runID,
			Key:       rec.Key(),
			Document:  rec.Document(),
			Timestamp: now,
		})
		if err != nil {
			return eris.Wrapf(err, "events: marshal price %s", rec.Key())
		}
		msgs = append(msgs, kafka.Message{Key: []byte(rec.Key()), Value: data})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return eris.Wrapf(err, "events: write %d price events", len(msgs))
	}
	return nil
}

// PublishRun emits a RunEvent for report.
func (p *Producer) PublishRun(ctx context.Context, report *model.RunReport) error {
	written, rejected := report.Totals()
	data, err := json.Marshal(RunEvent{
		EventType:  TypeRunCompleted,
		RunID:      report.RunID,
		Status:     report.Status,
		Written:    written,
		Rejected:   rejected,
		Targets:    len(report.Outcomes),
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Timestamp:  p.now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "events: marshal run")
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(report.RunID), Value: data}); err != nil {
		return eris.Wrapf(err, "events: write run event %s", report.RunID)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
