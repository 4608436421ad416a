package event_api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-marketplace/internal/database"
	eventsdb "ms-marketplace/internal/events/db"
	"ms-marketplace/internal/events/event_api"
	lifecycle "ms-marketplace/internal/events/service"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	ordersdb "ms-marketplace/internal/orders/db"
	orders "ms-marketplace/internal/orders/service"
	ticketsdb "ms-marketplace/internal/tickets/db"
	tickets "ms-marketplace/internal/tickets/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func setup(t *testing.T) http.Handler {
	ctx := context.Background()
	bunDB, err := database.NewTestDB(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	log := logger.NewLoggerWithWriter(io.Discard)
	eventStore := &eventsdb.DB{Bun: bunDB}
	store := &ordersdb.DB{Bun: bunDB}
	ledger := tickets.NewTicketService(&ticketsdb.DB{Bun: bunDB}, log, 5)

	require.NoError(t, eventStore.CreateEvent(ctx, models.Event{ID: "evt-1", Title: "Rooftop Cinema"}))
	require.NoError(t, store.UpsertTicketType(ctx, models.TicketType{
		ID: "seat", EventID: "evt-1", Name: "Seat", UnitPrice: decimal.NewFromInt(12), Currency: "EUR", MaxPerOrder: 5,
	}))
	_, err = orders.NewOrderService(store, eventStore, ledger, nil, log).PlaceOrder(ctx, "evt-1", models.OrderRequest{
		CustomerName: "Ines",
		Items:        []models.OrderItem{{TicketTypeID: "seat", Quantity: 2}},
	})
	require.NoError(t, err)

	svc := lifecycle.NewLifecycleService(eventStore, store, store, ledger, log)
	h := event_api.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Get("/api/events/{eventID}/status", h.GetStatus)
	r.Patch("/organizer/events/{eventID}/status", h.UpdateStatus)
	r.Post("/organizer/events/{eventID}/cancel", h.CancelEvent)
	r.Post("/organizer/events/{eventID}/cancel/resume", h.ResumeCancellation)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string) (int, envelope) {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestUpdateStatus(t *testing.T) {
	router := setup(t)

	code, env := do(t, router, http.MethodPatch, "/organizer/events/evt-1/status", `{"is_sold_out":true}`)
	require.Equal(t, http.StatusOK, code)
	var status models.EventStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.IsSoldOut)
	assert.Equal(t, "sold_out", status.Status)

	code, env = do(t, router, http.MethodPatch, "/organizer/events/evt-1/status",
		`{"is_postponed":true,"postponed_date":"2026-12-01","postponed_start_time":"20:00","postponed_reason":"Storm"}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "postponed", status.Status)
	assert.True(t, status.IsSoldOut, "flags are independent")
	require.NotNil(t, status.PostponedDate)
	assert.Equal(t, "2026-12-01", *status.PostponedDate)
	assert.Equal(t, "Storm", *status.PostponedReason)

	code, env = do(t, router, http.MethodPatch, "/organizer/events/evt-1/status", `{"is_postponed":false}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.IsPostponed)
	assert.Nil(t, status.PostponedDate)

	code, env = do(t, router, http.MethodGet, "/api/events/evt-1/status", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "sold_out", status.Status)
}

func TestUpdateStatus_BadInput(t *testing.T) {
	router := setup(t)

	code, _ := do(t, router, http.MethodPatch, "/organizer/events/evt-1/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, router, http.MethodPatch, "/organizer/events/evt-1/status", `{"is_postponed":true,"postponed_date":"1/12/2026"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, router, http.MethodPatch, "/organizer/events/missing/status", `{"is_sold_out":true}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, router, http.MethodGet, "/api/events/missing/status", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCancelEvent(t *testing.T) {
	router := setup(t)

	code, env := do(t, router, http.MethodPost, "/organizer/events/evt-1/cancel", `{"reason":"Venue flooded"}`)
	require.Equal(t, http.StatusOK, code)
	var result models.CancellationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result.OrdersRefunded)
	assert.Equal(t, 2, result.TicketsInvalidated)
	assert.True(t, result.TotalRefunded.Equal(decimal.NewFromInt(24)))
	assert.True(t, result.Completed)
	assert.Contains(t, string(env.Data), `"orders_refunded":1`)

	code, _ = do(t, router, http.MethodPost, "/organizer/events/evt-1/cancel", `{"reason":"again"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, router, http.MethodPatch, "/organizer/events/evt-1/status", `{"is_sold_out":false}`)
	assert.Equal(t, http.StatusConflict, code)

	code, env = do(t, router, http.MethodPost, "/organizer/events/evt-1/cancel/resume", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result.OrdersRefunded, "resuming reports the same refunds without issuing new ones")

	code, env = do(t, router, http.MethodGet, "/api/events/evt-1/status", "")
	require.Equal(t, http.StatusOK, code)
	var status models.EventStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "cancelled", status.Status)
	assert.Equal(t, "Venue flooded", *status.CancelReason)
}

func TestCancelEvent_EmptyBodyUsesDefaultReason(t *testing.T) {
	router := setup(t)

	code, _ := do(t, router, http.MethodPost, "/organizer/events/evt-1/cancel", "")
	require.Equal(t, http.StatusOK, code)

	_, env := do(t, router, http.MethodGet, "/api/events/evt-1/status", "")
	var status models.EventStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "Event cancelled by organizer", *status.CancelReason)
}

func TestResumeCancellation_NotCancelled(t *testing.T) {
	router := setup(t)
	code, _ := do(t, router, http.MethodPost, "/organizer/events/evt-1/cancel/resume", "")
	assert.Equal(t, http.StatusBadRequest, code)
}
