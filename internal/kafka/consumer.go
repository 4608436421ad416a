package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-marketplace/internal/config"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"

	"github.com/segmentio/kafka-go"
)

const (
	handleAttempts = 3
	retryDelay     = time.Second
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type RefundHandler func(ctx context.Context, intent models.RefundIntent) error

// ErrNotCommitted means Run stopped on a message it could neither handle nor
// park, leaving its offset uncommitted for the next consumer to redeliver.
var ErrNotCommitted = errors.New("refund intent left uncommitted")

type Consumer struct {
	Reader MessageReader
	// DeadLetters receives intents that failed every attempt. Without it a
	// failed intent stops the consumer.
	DeadLetters MessageWriter
	Logger      *logger.Logger
	RetryDelay  time.Duration
}

func NewConsumer(brokers []string, topics config.TopicConfig, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topics.RefundIntents,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		Reader:      reader,
		DeadLetters: newWriter(brokers, topics.RefundDeadLetters, false),
		Logger:      log,
		RetryDelay:  retryDelay,
	}
}

// Run consumes refund intents until ctx is done. A message is committed once
// it is handled, malformed, or parked on the dead-letter topic. Handlers must
// be idempotent since a crash before commit redelivers.
func (c *Consumer) Run(ctx context.Context, handle RefundHandler) error {
	c.Logger.Info("KAFKA", "Refund intent consumer started")
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			if !sleep(ctx, c.RetryDelay) {
				return nil
			}
			continue
		}

		var intent models.RefundIntent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Skipping malformed refund intent at offset %d: %v", msg.Offset, err))
		} else if herr := c.handle(ctx, handle, intent); herr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err := c.park(ctx, msg, herr); err != nil {
				return fmt.Errorf("%w: order %s at offset %d: %v", ErrNotCommitted, intent.OrderID, msg.Offset, err)
			}
		}

		if err := c.Reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handle RefundHandler, intent models.RefundIntent) error {
	var err error
	for attempt := 1; attempt <= handleAttempts; attempt++ {
		err = handle(ctx, intent)
		if err == nil {
			c.Logger.LogKafka("consume", "refund-intents", fmt.Sprintf("order %s refunded", intent.OrderID))
			return nil
		}
		c.Logger.Error("KAFKA", fmt.Sprintf("Refund of order %s failed (attempt %d/%d): %v",
			intent.OrderID, attempt, handleAttempts, err))
		if attempt < handleAttempts && !sleep(ctx, c.RetryDelay) {
			return ctx.Err()
		}
	}
	return err
}

// park copies a failed intent to the dead-letter topic with the last error
// attached, so the original offset can be committed.
func (c *Consumer) park(ctx context.Context, msg kafka.Message, cause error) error {
	if c.DeadLetters == nil {
		return cause
	}
	err := c.DeadLetters.WriteMessages(ctx, kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "refund-error", Value: []byte(cause.Error())},
			kafka.Header{Key: "refund-offset", Value: []byte(fmt.Sprint(msg.Offset))},
		),
	})
	if err != nil {
		return fmt.Errorf("dead-letter write failed after %v: %w", cause, err)
	}
	c.Logger.Warn("KAFKA", fmt.Sprintf("Parked refund intent at offset %d on the dead-letter topic: %v", msg.Offset, cause))
	return nil
}

// ReplayDeadLetters moves up to limit parked intents back onto the refund
// topic. It stops early once the reader has been idle for idle.
func ReplayDeadLetters(ctx context.Context, reader MessageReader, refunds MessageWriter, limit int, idle time.Duration) (int, error) {
	replayed := 0
	for replayed < limit {
		fetchCtx, cancel := context.WithTimeout(ctx, idle)
		msg, err := reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return replayed, nil
			}
			return replayed, err
		}

		var headers []kafka.Header
		for _, h := range msg.Headers {
			if h.Key != "refund-error" && h.Key != "refund-offset" {
				headers = append(headers, h)
			}
		}
		if err := refunds.WriteMessages(ctx, kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}); err != nil {
			return replayed, fmt.Errorf("failed to replay dead letter at offset %d: %w", msg.Offset, err)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return replayed, fmt.Errorf("failed to commit dead letter at offset %d: %w", msg.Offset, err)
		}
		replayed++
	}
	return replayed, nil
}

// NewDeadLetterReader reads the dead-letter topic as its own consumer group.
func NewDeadLetterReader(brokers []string, topics config.TopicConfig, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topics.RefundDeadLetters,
		GroupID:  groupID + "-replay",
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) Close() error {
	err := c.Reader.Close()
	if c.DeadLetters != nil {
		if werr := c.DeadLetters.Close(); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}
