package order_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/pricing"
	"ms-marketplace/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Sales interface {
	TicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error)
	Quote(ctx context.Context, eventID string, items []models.OrderItem) (pricing.CartQuote, error)
	PlaceOrder(ctx context.Context, eventID string, req models.OrderRequest) (*models.OrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, []models.TicketView, error)
}

type Handler struct {
	Sales  Sales
	Logger *logger.Logger
}

func NewHandler(sales Sales, log *logger.Logger) *Handler {
	return &Handler{Sales: sales, Logger: log}
}

type quoteRequest struct {
	EventID string             `json:"event_id"`
	Items   []models.OrderItem `json:"items"`
}

type orderDetails struct {
	Order   *models.Order       `json:"order"`
	Tickets []models.TicketView `json:"tickets"`
}

func (h *Handler) ListTicketTypes(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	types, err := h.Sales.TicketTypes(r.Context(), eventID)
	if err != nil {
		utils.WriteError(w, "Failed to list ticket types", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket types", types))
}

// QuoteCart prices a cart. Nothing is reserved.
func (h *Handler) QuoteCart(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.EventID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("event_id is required", "missing event id"))
		return
	}

	quote, err := h.Sales.Quote(r.Context(), req.EventID, req.Items)
	if err != nil {
		h.Logger.Debug("API", fmt.Sprintf("Quote for event %s rejected: %v", req.EventID, err))
		utils.WriteError(w, "Failed to price cart", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Cart priced", quote))
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	resp, err := h.Sales.PlaceOrder(r.Context(), eventID, req)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("Order for event %s rejected: %v", eventID, err))
		utils.WriteError(w, "Failed to place order", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Order placed", resp))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, tickets, err := h.Sales.GetOrder(r.Context(), orderID)
	if err != nil {
		utils.WriteError(w, "Order not found", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order", orderDetails{Order: order, Tickets: tickets}))
}
