package ticket_api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/checkin"
	"ms-marketplace/internal/database"
	eventsdb "ms-marketplace/internal/events/db"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	ordersdb "ms-marketplace/internal/orders/db"
	orders "ms-marketplace/internal/orders/service"
	ticketsdb "ms-marketplace/internal/tickets/db"
	"ms-marketplace/internal/tickets/qr"
	tickets "ms-marketplace/internal/tickets/service"
	"ms-marketplace/internal/tickets/ticket_api"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	router http.Handler
	codes  []string
}

func setup(t *testing.T) *fixture {
	ctx := context.Background()
	bunDB, err := database.NewTestDB(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	log := logger.NewLoggerWithWriter(io.Discard)
	eventStore := &eventsdb.DB{Bun: bunDB}
	store := &ordersdb.DB{Bun: bunDB}
	ledger := tickets.NewTicketService(&ticketsdb.DB{Bun: bunDB}, log, 5)
	sales := orders.NewOrderService(store, eventStore, ledger, nil, log)

	require.NoError(t, eventStore.CreateEvent(ctx, models.Event{ID: "evt-1", Title: "Opera Gala"}))
	require.NoError(t, store.UpsertTicketType(ctx, models.TicketType{
		ID: "stalls", EventID: "evt-1", Name: "Stalls", UnitPrice: decimal.NewFromInt(60), Currency: "EUR", MaxPerOrder: 4,
	}))
	resp, err := sales.PlaceOrder(ctx, "evt-1", models.OrderRequest{
		CustomerName: "Mara",
		PaymentRef:   "pi_1",
		Items:        []models.OrderItem{{TicketTypeID: "stalls", Quantity: 2}},
	})
	require.NoError(t, err)

	gateway := checkin.NewGateway(ledger, eventStore, log)
	h := ticket_api.NewHandler(gateway, ledger, sales, qr.NewGenerator(128), log)

	r := chi.NewRouter()
	r.Get("/api/public/ticket/{code}", h.GetPublicTicket)
	r.Get("/api/public/ticket/{code}/qr", h.GetTicketQR)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), "scanner-9")))
			})
		})
		r.Post("/organizer/participants/checkin", h.CheckinTicket)
		r.Get("/organizer/tickets/{code}", h.GetTicket)
		r.Post("/organizer/tickets/{code}/refund", h.RefundTicket)
	})

	return &fixture{router: r, codes: []string{resp.Tickets[0].Code, resp.Tickets[1].Code}}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestCheckin_RapidFlow(t *testing.T) {
	f := setup(t)
	body := map[string]interface{}{"ticket_code": f.codes[0]}

	rec, env := f.do(t, http.MethodPost, "/organizer/participants/checkin", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	var accepted models.CheckInResult
	require.NoError(t, json.Unmarshal(env.Data, &accepted))
	assert.Equal(t, models.CheckInAccepted, accepted.Outcome)
	require.NotNil(t, accepted.Ticket)
	assert.Equal(t, "Mara", accepted.Ticket.HolderName)
	require.NotNil(t, accepted.Ticket.RedeemedBy)
	assert.Equal(t, "scanner-9", *accepted.Ticket.RedeemedBy)

	rec, env = f.do(t, http.MethodPost, "/organizer/participants/checkin", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, string(models.ReasonAlreadyUsed), env.Error)
	var rejected models.CheckInResult
	require.NoError(t, json.Unmarshal(env.Data, &rejected))
	assert.NotNil(t, rejected.UsedAt)
}

func TestCheckin_ManualFlow(t *testing.T) {
	f := setup(t)

	rec, env := f.do(t, http.MethodPost, "/organizer/participants/checkin",
		map[string]interface{}{"ticket_code": f.codes[1], "dry_run": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var preview checkin.DryRunResult
	require.NoError(t, json.Unmarshal(env.Data, &preview))
	assert.Equal(t, models.CheckInValid, preview.Outcome)
	assert.Equal(t, models.TicketIssued, preview.Ticket.State)

	// The dry run changed nothing, so the confirmed scan still wins.
	rec, _ = f.do(t, http.MethodPost, "/organizer/participants/checkin",
		map[string]interface{}{"ticket_code": f.codes[1]})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, http.MethodPost, "/organizer/participants/checkin",
		map[string]interface{}{"ticket_code": f.codes[1], "dry_run": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &preview))
	assert.Equal(t, models.CheckInRejected, preview.Outcome)
	assert.Equal(t, models.ReasonAlreadyUsed, preview.Reason)
}

func TestCheckin_BadRequests(t *testing.T) {
	f := setup(t)

	rec, _ := f.do(t, http.MethodPost, "/organizer/participants/checkin", map[string]interface{}{"ticket_code": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/organizer/participants/checkin", bytes.NewBufferString("{"))
	raw := httptest.NewRecorder()
	f.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec, env := f.do(t, http.MethodPost, "/organizer/participants/checkin", map[string]interface{}{"ticket_code": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(models.CheckInNotFound), env.Error)
}

func TestPublicTicket_HidesAuditData(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodPost, "/organizer/participants/checkin", map[string]interface{}{"ticket_code": f.codes[0]})

	rec, env := f.do(t, http.MethodGet, "/api/public/ticket/"+f.codes[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, string(env.Data), "redeemed_by")
	assert.NotContains(t, string(env.Data), "scanner-9")
	assert.NotContains(t, string(env.Data), "order_id")

	var view models.PublicTicketView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.TicketUsed, view.State)
	assert.False(t, view.Valid)
	assert.Equal(t, "Opera Gala", view.EventTitle)

	rec, env = f.do(t, http.MethodGet, "/organizer/tickets/"+f.codes[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "scanner-9")

	rec, _ = f.do(t, http.MethodGet, "/api/public/ticket/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTicketQR(t *testing.T) {
	f := setup(t)

	rec, _ := f.do(t, http.MethodGet, "/api/public/ticket/"+f.codes[0]+"/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec, _ = f.do(t, http.MethodGet, "/api/public/ticket/unknown/qr", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefundTicket(t *testing.T) {
	f := setup(t)

	rec, env := f.do(t, http.MethodPost, "/organizer/tickets/"+f.codes[0]+"/refund", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refund models.RefundRecord
	require.NoError(t, json.Unmarshal(env.Data, &refund))
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(60)))

	rec, env = f.do(t, http.MethodPost, "/organizer/participants/checkin", map[string]interface{}{"ticket_code": f.codes[0]})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(models.ReasonRefunded), env.Error)

	f.do(t, http.MethodPost, "/organizer/participants/checkin", map[string]interface{}{"ticket_code": f.codes[1]})
	rec, _ = f.do(t, http.MethodPost, "/organizer/tickets/"+f.codes[1]+"/refund", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
