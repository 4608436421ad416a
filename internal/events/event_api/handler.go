package event_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/events"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Lifecycle interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	UpdateStatus(ctx context.Context, eventID string, patch events.StatusPatch) (models.Event, error)
	Cancel(ctx context.Context, eventID, reason string) (models.CancellationResult, error)
	ResumeCancellation(ctx context.Context, eventID string) (models.CancellationResult, error)
}

type Handler struct {
	Lifecycle Lifecycle
	Logger    *logger.Logger
}

func NewHandler(lifecycle Lifecycle, log *logger.Logger) *Handler {
	return &Handler{Lifecycle: lifecycle, Logger: log}
}

// statusRequest mirrors the organizer status form. Absent fields keep their
// current value.
type statusRequest struct {
	IsSoldOut          *bool   `json:"is_sold_out"`
	DoorSalesOnly      *bool   `json:"door_sales_only"`
	IsPostponed        *bool   `json:"is_postponed"`
	PostponedDate      *string `json:"postponed_date"`
	PostponedStartTime *string `json:"postponed_start_time"`
	PostponedDoorTime  *string `json:"postponed_door_time"`
	PostponedEndTime   *string `json:"postponed_end_time"`
	PostponedReason    *string `json:"postponed_reason"`
}

func (req statusRequest) patch() (events.StatusPatch, error) {
	p := events.StatusPatch{
		IsSoldOut:     req.IsSoldOut,
		DoorSalesOnly: req.DoorSalesOnly,
		IsPostponed:   req.IsPostponed,
		Postponement: models.Postponement{
			StartTime: blankToNil(req.PostponedStartTime),
			DoorTime:  blankToNil(req.PostponedDoorTime),
			EndTime:   blankToNil(req.PostponedEndTime),
			Reason:    blankToNil(req.PostponedReason),
		},
	}
	if date := blankToNil(req.PostponedDate); date != nil {
		parsed, err := utils.ParseDate(*date)
		if err != nil {
			return p, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
		}
		p.Postponement.Date = &parsed
	}
	if p.Empty() {
		return p, fmt.Errorf("%w: no status field given", models.ErrInvalidInput)
	}
	return p, nil
}

func blankToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// GetStatus is public: listings use it to label the event.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	event, err := h.Lifecycle.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		utils.WriteError(w, "Event not found", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event status", event.StatusResponse()))
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	patch, err := req.patch()
	if err != nil {
		utils.WriteError(w, "Invalid status update", err)
		return
	}

	event, err := h.Lifecycle.UpdateStatus(r.Context(), eventID, patch)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("Status update of event %s by %s rejected: %v", eventID, auth.UserID(r.Context()), err))
		utils.WriteError(w, "Failed to update event status", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event status updated", event.StatusResponse()))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelEvent cancels the event and refunds its orders. The response
// carries orders_refunded for the organizer UI.
func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	h.Logger.LogLifecycle("cancel", eventID, fmt.Sprintf("requested by %s", auth.UserID(r.Context())))
	result, err := h.Lifecycle.Cancel(r.Context(), eventID, req.Reason)
	h.writeCancellation(w, eventID, result, err)
}

// ResumeCancellation finishes a sweep that was interrupted.
func (h *Handler) ResumeCancellation(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	result, err := h.Lifecycle.ResumeCancellation(r.Context(), eventID)
	h.writeCancellation(w, eventID, result, err)
}

func (h *Handler) writeCancellation(w http.ResponseWriter, eventID string, result models.CancellationResult, err error) {
	if err != nil {
		// A sweep stopped midway still committed the cancellation flag.
		if result.CancellationID != "" {
			h.Logger.Error("API", fmt.Sprintf("Cancellation sweep of event %s incomplete: %v", eventID, err))
			resp := utils.ErrorResponse("Event cancelled; refunds still pending", err.Error())
			resp.Data = result
			utils.WriteJSON(w, http.StatusAccepted, resp)
			return
		}
		utils.WriteError(w, "Failed to cancel event", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(
		fmt.Sprintf("Event cancelled, %d orders refunded", result.OrdersRefunded), result))
}
