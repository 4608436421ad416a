package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	mkafka "ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves queued messages and then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func quietLogger() *logger.Logger { return logger.NewLoggerWithWriter(io.Discard) }

func TestProducer_PublishRefundIntent(t *testing.T) {
	refunds := &fakeWriter{}
	p := &mkafka.Producer{Refunds: refunds, CheckIns: &fakeWriter{}, Logger: quietLogger()}

	intent := models.RefundIntent{OrderID: "ord-1", EventID: "evt-1", RefundKey: "can_1", Amount: decimal.NewFromInt(90), Currency: "EUR"}
	require.NoError(t, p.PublishRefundIntent(context.Background(), intent))

	require.Len(t, refunds.msgs, 1)
	assert.Equal(t, "ord-1", string(refunds.msgs[0].Key))
	var decoded models.RefundIntent
	require.NoError(t, json.Unmarshal(refunds.msgs[0].Value, &decoded))
	assert.Equal(t, "can_1", decoded.RefundKey)
	assert.True(t, decoded.Amount.Equal(decimal.NewFromInt(90)))
}

func TestProducer_PublishRefundIntentError(t *testing.T) {
	p := &mkafka.Producer{Refunds: &fakeWriter{err: errors.New("leader not available")}, Logger: quietLogger()}
	err := p.PublishRefundIntent(context.Background(), models.RefundIntent{OrderID: "ord-1"})
	assert.ErrorContains(t, err, "ord-1")
}

func TestProducer_NotifyCheckInOmitsCode(t *testing.T) {
	checkIns := &fakeWriter{}
	p := &mkafka.Producer{CheckIns: checkIns, Logger: quietLogger()}

	p.NotifyCheckIn(context.Background(), models.CheckInEvent{EventID: "evt-1", Code: "secret-code-value", AgentID: "gate-1"})

	require.Len(t, checkIns.msgs, 1)
	assert.Equal(t, "evt-1", string(checkIns.msgs[0].Key))
	assert.NotContains(t, string(checkIns.msgs[0].Value), "secret-code-value")
}

func intentMessage(t *testing.T, offset int64, orderID string) kafka.Message {
	value, err := json.Marshal(models.RefundIntent{OrderID: orderID, RefundKey: "can_1"})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		intentMessage(t, 1, "ord-1"),
		{Offset: 2, Value: []byte("{not json")},
		intentMessage(t, 3, "ord-3"),
	}}
	c := &mkafka.Consumer{Reader: reader, Logger: quietLogger(), RetryDelay: time.Millisecond}

	var mu sync.Mutex
	var handled []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, intent models.RefundIntent) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, intent.OrderID)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ord-1", "ord-3"}, handled)
	assert.Equal(t, []int64{1, 2, 3}, reader.commits())
}

func TestConsumer_RetriesFailedHandler(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{intentMessage(t, 7, "ord-7")}}
	c := &mkafka.Consumer{Reader: reader, Logger: quietLogger(), RetryDelay: time.Millisecond}

	var attempts int
	var mu sync.Mutex
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Run(ctx, func(context.Context, models.RefundIntent) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 2 {
				return errors.New("stripe timeout")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestConsumer_FailedIntentStaysUncommitted(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{intentMessage(t, 9, "ord-9")}}
	c := &mkafka.Consumer{Reader: reader, Logger: quietLogger(), RetryDelay: time.Millisecond}

	err := c.Run(context.Background(), func(context.Context, models.RefundIntent) error {
		return errors.New("stripe down")
	})

	assert.ErrorIs(t, err, mkafka.ErrNotCommitted)
	assert.ErrorContains(t, err, "ord-9")
	assert.Empty(t, reader.commits())
}

func TestConsumer_ParksFailedIntentThenCommits(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		intentMessage(t, 9, "ord-9"),
		intentMessage(t, 10, "ord-10"),
	}}
	dead := &fakeWriter{}
	c := &mkafka.Consumer{Reader: reader, DeadLetters: dead, Logger: quietLogger(), RetryDelay: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, intent models.RefundIntent) error {
			if intent.OrderID == "ord-9" {
				return errors.New("stripe down")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{9, 10}, reader.commits())
	dead.mu.Lock()
	defer dead.mu.Unlock()
	require.Len(t, dead.msgs, 1)
	var parked models.RefundIntent
	require.NoError(t, json.Unmarshal(dead.msgs[0].Value, &parked))
	assert.Equal(t, "ord-9", parked.OrderID)
	require.NotEmpty(t, dead.msgs[0].Headers)
	assert.Equal(t, "refund-error", dead.msgs[0].Headers[0].Key)
	assert.Equal(t, "stripe down", string(dead.msgs[0].Headers[0].Value))
}

func TestConsumer_DeadLetterWriteFailureStops(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{intentMessage(t, 4, "ord-4")}}
	dead := &fakeWriter{err: errors.New("leader not available")}
	c := &mkafka.Consumer{Reader: reader, DeadLetters: dead, Logger: quietLogger(), RetryDelay: time.Millisecond}

	err := c.Run(context.Background(), func(context.Context, models.RefundIntent) error {
		return errors.New("stripe down")
	})

	assert.ErrorIs(t, err, mkafka.ErrNotCommitted)
	assert.Empty(t, reader.commits())
}

func TestReplayDeadLetters(t *testing.T) {
	parked := intentMessage(t, 3, "ord-3")
	parked.Headers = []kafka.Header{
		{Key: "refund-error", Value: []byte("stripe down")},
		{Key: "refund-offset", Value: []byte("9")},
	}
	reader := &fakeReader{queue: []kafka.Message{parked, intentMessage(t, 4, "ord-4")}}
	refunds := &fakeWriter{}

	n, err := mkafka.ReplayDeadLetters(context.Background(), reader, refunds, 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{3, 4}, reader.commits())
	require.Len(t, refunds.msgs, 2)
	assert.Empty(t, refunds.msgs[0].Headers)

	reader = &fakeReader{queue: []kafka.Message{intentMessage(t, 5, "ord-5"), intentMessage(t, 6, "ord-6")}}
	n, err = mkafka.ReplayDeadLetters(context.Background(), reader, &fakeWriter{}, 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{5}, reader.commits())
}
