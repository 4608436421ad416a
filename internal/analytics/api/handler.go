package analytics_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ms-marketplace/internal/analytics"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"

	"github.com/go-chi/chi/v5"
)

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Events  EventReader
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, events EventReader, logger *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Events:  events,
		Logger:  logger,
	}
}

// RegisterRoutes registers the analytics routes under an organizer router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events/{eventID}/checkin-stats", h.GetCheckInStats)
	r.Get("/events/{eventID}/sales", h.GetSalesSummary)
	r.Get("/events/{eventID}/participants", h.GetParticipants)
	r.Get("/events/{eventID}/participants/export", h.ExportParticipants)
}

// eventFromRequest resolves the event in the URL, writing the error response
// itself when it cannot.
func (h *Handler) eventFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		h.Logger.Error("ANALYTICS", "event_id is required")
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Event ID is required", "missing event id"))
		return "", false
	}
	if _, err := h.Events.GetEvent(r.Context(), eventID); err != nil {
		h.Logger.Warn("ANALYTICS", fmt.Sprintf("User %s requested stats of event %s: %v", auth.UserID(r.Context()), eventID, err))
		utils.WriteError(w, "Event not available", err)
		return "", false
	}
	return eventID, true
}

func (h *Handler) GetCheckInStats(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventFromRequest(w, r)
	if !ok {
		return
	}

	stats, err := h.Service.GetCheckInStats(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error getting check-in stats: "+err.Error())
		utils.WriteError(w, "Failed to get check-in stats", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Check-in stats", stats))
}

func (h *Handler) GetSalesSummary(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventFromRequest(w, r)
	if !ok {
		return
	}

	summary, err := h.Service.GetSalesSummary(r.Context(), eventID)
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error getting sales summary: "+err.Error())
		utils.WriteError(w, "Failed to get sales summary", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Sales summary", summary))
}

func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventFromRequest(w, r)
	if !ok {
		return
	}
	filter, err := analytics.ParseParticipantFilter(r.URL.Query())
	if err != nil {
		utils.WriteError(w, "Invalid participant filter", err)
		return
	}

	page, err := h.Service.GetParticipants(r.Context(), eventID, filter)
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error listing participants: "+err.Error())
		utils.WriteError(w, "Failed to list participants", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Participants", page))
}

// ExportParticipants streams the filtered participant list as a CSV download.
func (h *Handler) ExportParticipants(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventFromRequest(w, r)
	if !ok {
		return
	}
	filter, err := analytics.ParseParticipantFilter(r.URL.Query())
	if err != nil {
		utils.WriteError(w, "Invalid participant filter", err)
		return
	}

	participants, err := h.Service.AllParticipants(r.Context(), eventID, filter)
	if err != nil {
		h.Logger.Error("ANALYTICS", "Error exporting participants: "+err.Error())
		utils.WriteError(w, "Failed to export participants", err)
		return
	}

	filename := fmt.Sprintf("participants-%s-%s.csv", eventID, time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := analytics.WriteParticipantsCSV(w, participants); err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Participant export of event %s failed: %v", eventID, err))
		return
	}
	h.Logger.Info("ANALYTICS", fmt.Sprintf("User %s exported %d participants of event %s", auth.UserID(r.Context()), len(participants), eventID))
}
