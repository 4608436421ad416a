package sse_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/sse"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_DeliversToEventSubscribersOnly(t *testing.T) {
	emitter := sse.NewCheckInEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine := emitter.Subscribe(ctx, "evt-1")
	other := emitter.Subscribe(ctx, "evt-2")

	emitter.NotifyCheckIn(ctx, models.CheckInEvent{EventID: "evt-1", HolderName: "Ada"})

	select {
	case ev := <-mine:
		assert.Equal(t, "Ada", ev.HolderName)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case <-other:
		t.Fatal("event leaked to another event's stream")
	default:
	}
}

func TestEmitter_UnsubscribesOnCancel(t *testing.T) {
	emitter := sse.NewCheckInEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	ch := emitter.Subscribe(ctx, "evt-1")
	assert.Equal(t, 1, emitter.ClientCount("evt-1"))

	cancel()
	assert.Eventually(t, func() bool { return emitter.ClientCount("evt-1") == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
}

func TestEmitter_SlowClientDoesNotBlock(t *testing.T) {
	emitter := sse.NewCheckInEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emitter.Subscribe(ctx, "evt-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			emitter.NotifyCheckIn(ctx, models.CheckInEvent{EventID: "evt-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on a full client buffer")
	}
}

func TestHandler_StreamCheckIns(t *testing.T) {
	emitter := sse.NewCheckInEmitter()
	h := sse.NewHandler(emitter, logger.NewLoggerWithWriter(io.Discard))

	r := chi.NewRouter()
	r.Get("/events/{eventID}/checkins/stream", h.StreamCheckIns)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events/evt-1/checkins/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	finished := make(chan struct{})
	go func() {
		r.ServeHTTP(rec, req)
		close(finished)
	}()

	require.Eventually(t, func() bool { return emitter.ClientCount("evt-1") == 1 }, time.Second, 10*time.Millisecond)
	emitter.NotifyCheckIn(ctx, models.CheckInEvent{EventID: "evt-1", TicketTypeName: "VIP", AgentID: "gate-2"})

	// Give the handler a moment to write before disconnecting.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-finished

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream;charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: checkin")
	assert.Contains(t, body, `"ticket_type":"VIP"`)
}
