package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-marketplace/internal/config"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Refunds  MessageWriter
	CheckIns MessageWriter
	Logger   *logger.Logger
}

// NewProducer writes refund intents synchronously. Check-in events are best
// effort and go through an async writer so scans never wait on the broker.
func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	return &Producer{
		Refunds:  newWriter(brokers, topics.RefundIntents, false),
		CheckIns: newWriter(brokers, topics.CheckIns, true),
		Logger:   log,
	}
}

func newWriter(brokers []string, topic string, async bool) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        async,
	}
}

// PublishRefundIntent streams a refund intent keyed by order, so intents of
// one order stay in one partition.
func (p *Producer) PublishRefundIntent(ctx context.Context, intent models.RefundIntent) error {
	msgBytes, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to encode refund intent: %w", err)
	}
	err = p.Refunds.WriteMessages(ctx, kafka.Message{
		Key:   []byte(intent.OrderID),
		Value: msgBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to publish refund intent for order %s: %w", intent.OrderID, err)
	}
	p.Logger.LogKafka("publish", "refund-intents", fmt.Sprintf("order %s key %s", intent.OrderID, intent.RefundKey))
	return nil
}

// NotifyCheckIn streams an accepted check-in. Failures are logged only; the
// check-in itself has already committed.
func (p *Producer) NotifyCheckIn(ctx context.Context, ev models.CheckInEvent) {
	msgBytes, err := json.Marshal(ev)
	if err != nil {
		p.Logger.Error("KAFKA", fmt.Sprintf("Failed to encode check-in event: %v", err))
		return
	}
	err = p.CheckIns.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.EventID),
		Value: msgBytes,
	})
	if err != nil {
		p.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish check-in of event %s: %v", ev.EventID, err))
	}
}

func (p *Producer) Close() error {
	var firstErr error
	for _, w := range []MessageWriter{p.Refunds, p.CheckIns} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
