package order_api_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/orders/order_api"
	"ms-marketplace/internal/pricing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSales is a mock implementation of the Sales interface
type MockSales struct {
	mock.Mock
}

func (m *MockSales) TicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TicketType), args.Error(1)
}

func (m *MockSales) Quote(ctx context.Context, eventID string, items []models.OrderItem) (pricing.CartQuote, error) {
	args := m.Called(ctx, eventID, items)
	return args.Get(0).(pricing.CartQuote), args.Error(1)
}

func (m *MockSales) PlaceOrder(ctx context.Context, eventID string, req models.OrderRequest) (*models.OrderResponse, error) {
	args := m.Called(ctx, eventID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OrderResponse), args.Error(1)
}

func (m *MockSales) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.TicketView, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.Order), args.Get(1).([]models.TicketView), args.Error(2)
}

func router(sales *MockSales) http.Handler {
	h := order_api.NewHandler(sales, logger.NewLoggerWithWriter(io.Discard))
	r := chi.NewRouter()
	r.Get("/api/events/{eventID}/ticket-types", h.ListTicketTypes)
	r.Post("/api/cart/quote", h.QuoteCart)
	r.Post("/api/events/{eventID}/orders", h.PlaceOrder)
	r.Get("/organizer/orders/{orderID}", h.GetOrder)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rec
}

func TestQuoteCart(t *testing.T) {
	sales := new(MockSales)
	items := []models.OrderItem{{TicketTypeID: "ga", Quantity: 10}}
	sales.On("Quote", mock.Anything, "evt-1", items).Return(pricing.CartQuote{
		Currency: "EUR",
		Total:    decimal.RequireFromString("850"),
	}, nil)

	rec := serve(router(sales), http.MethodPost, "/api/cart/quote",
		`{"event_id":"evt-1","items":[{"ticket_type_id":"ga","quantity":10}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":"850"`)
	sales.AssertExpectations(t)
}

func TestQuoteCart_Validation(t *testing.T) {
	sales := new(MockSales)
	r := router(sales)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/api/cart/quote", `{"items":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/api/cart/quote", `[`).Code)

	sales.On("Quote", mock.Anything, "evt-1", mock.Anything).
		Return(pricing.CartQuote{}, models.ErrInsufficientStock)
	rec := serve(r, http.MethodPost, "/api/cart/quote", `{"event_id":"evt-1","items":[{"ticket_type_id":"ga","quantity":99}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPlaceOrder(t *testing.T) {
	sales := new(MockSales)
	sales.On("PlaceOrder", mock.Anything, "evt-1", mock.MatchedBy(func(req models.OrderRequest) bool {
		return req.Channel == models.ChannelDoor && len(req.Items) == 1 && req.Items[0].Quantity == 2
	})).Return(&models.OrderResponse{OrderID: "ord_1", Status: models.OrderCompleted}, nil)

	rec := serve(router(sales), http.MethodPost, "/api/events/evt-1/orders",
		`{"customer_name":"Ola","channel":"door","items":[{"ticket_type_id":"ga","quantity":2}]}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order_id":"ord_1"`)
	sales.AssertExpectations(t)
}

func TestPlaceOrder_SalesClosed(t *testing.T) {
	sales := new(MockSales)
	sales.On("PlaceOrder", mock.Anything, "evt-1", mock.Anything).Return(nil, models.ErrSalesClosed)

	rec := serve(router(sales), http.MethodPost, "/api/events/evt-1/orders", `{"items":[{"ticket_type_id":"ga","quantity":1}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetOrderAndTicketTypes(t *testing.T) {
	sales := new(MockSales)
	sales.On("GetOrder", mock.Anything, "ord_1").Return(
		&models.Order{OrderID: "ord_1", Total: decimal.NewFromInt(60)},
		[]models.TicketView{{Code: "c1", State: models.TicketIssued}}, nil)
	sales.On("GetOrder", mock.Anything, "ord_x").Return(nil, nil, models.ErrNotFound)
	sales.On("TicketTypes", mock.Anything, "evt-1").Return([]models.TicketType{{ID: "ga", Name: "GA"}}, nil)
	r := router(sales)

	rec := serve(r, http.MethodGet, "/organizer/orders/ord_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"issued"`)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/organizer/orders/ord_x", "").Code)

	rec = serve(r, http.MethodGet, "/api/events/evt-1/ticket-types", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"GA"`)
}
