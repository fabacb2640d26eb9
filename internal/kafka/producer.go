package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/mvola-gateway/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 50ms
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AuditProducer publishes audit events with an async segmentio/kafka-go Writer.
// Delivery is best effort: failures are logged and never reach the request path.
type AuditProducer struct {
	w   messageWriter
	log *zap.Logger
}

func NewAuditProducer(c Config, log *zap.Logger) *AuditProducer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: bt,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("audit publish failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}

	return &AuditProducer{w: w, log: log}
}

// Publish keys messages by operation so one operation's events stay ordered on a partition.
func (p *AuditProducer) Publish(ctx context.Context, ev model.AuditEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("audit marshal failed", zap.Error(err))
		return
	}

	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Operation),
		Value: b,
		Time:  ev.OccurredAt,
	}); err != nil {
		p.log.Warn("audit publish failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

func (p *AuditProducer) Close() error { return p.w.Close() }
