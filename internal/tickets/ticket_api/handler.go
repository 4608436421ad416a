package ticket_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/checkin"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/tickets/qr"
	"ms-marketplace/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Scanner interface {
	CheckIn(ctx context.Context, code, agentID string) (models.CheckInResult, error)
	DryRun(ctx context.Context, code string) (checkin.DryRunResult, error)
}

type Ledger interface {
	Lookup(ctx context.Context, code string) (models.TicketView, error)
	DryRunLookup(ctx context.Context, code string) (models.PublicTicketView, error)
}

type Refunder interface {
	RefundTicket(ctx context.Context, code string) (*models.RefundRecord, error)
}

type Handler struct {
	Scanner  Scanner
	Ledger   Ledger
	Refunder Refunder
	QR       *qr.Generator
	Logger   *logger.Logger
}

func NewHandler(scanner Scanner, ledger Ledger, refunder Refunder, qrGen *qr.Generator, log *logger.Logger) *Handler {
	return &Handler{
		Scanner:  scanner,
		Ledger:   ledger,
		Refunder: refunder,
		QR:       qrGen,
		Logger:   log,
	}
}

type checkInRequest struct {
	TicketCode string `json:"ticket_code"`
	DryRun     bool   `json:"dry_run"`
}

// CheckinTicket serves both scanner flows. Rapid mode posts the code and
// gets the final answer; manual mode posts with dry_run first, then again
// without it once the operator confirms.
func (h *Handler) CheckinTicket(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	req.TicketCode = strings.TrimSpace(req.TicketCode)
	if req.TicketCode == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("ticket_code is required", "missing ticket code"))
		return
	}

	if req.DryRun {
		res, err := h.Scanner.DryRun(r.Context(), req.TicketCode)
		if err != nil {
			h.Logger.Error("API", fmt.Sprintf("Dry-run check-in failed: %v", err))
			utils.WriteError(w, "Lookup failed", err)
			return
		}
		utils.WriteJSON(w, dryRunStatus(res.Outcome), envelope(res.Outcome, res.Reason, res))
		return
	}

	agentID := auth.UserID(r.Context())
	res, err := h.Scanner.CheckIn(r.Context(), req.TicketCode, agentID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Check-in by %s failed: %v", agentID, err))
		utils.WriteError(w, "Check-in failed", err)
		return
	}
	utils.WriteJSON(w, checkInStatus(res.Outcome), envelope(res.Outcome, res.Reason, res))
}

func checkInStatus(outcome models.CheckInOutcome) int {
	switch outcome {
	case models.CheckInAccepted:
		return http.StatusOK
	case models.CheckInNotFound:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

// A dry run is a lookup: a ticket that would be rejected is still a
// successful answer.
func dryRunStatus(outcome models.CheckInOutcome) int {
	if outcome == models.CheckInNotFound {
		return http.StatusNotFound
	}
	return http.StatusOK
}

func envelope(outcome models.CheckInOutcome, reason models.RejectReason, data interface{}) utils.APIResponse {
	switch outcome {
	case models.CheckInAccepted:
		return utils.SuccessResponse("Check-in successful", data)
	case models.CheckInValid:
		return utils.SuccessResponse("Ticket is valid", data)
	case models.CheckInNotFound:
		resp := utils.ErrorResponse("Ticket not found", string(models.CheckInNotFound))
		resp.Data = data
		return resp
	default:
		resp := utils.ErrorResponse("Ticket rejected", string(reason))
		resp.Data = data
		return resp
	}
}

// GetPublicTicket lets ticket holders check their ticket. It shows status
// and display fields only.
func (h *Handler) GetPublicTicket(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	view, err := h.Ledger.DryRunLookup(r.Context(), code)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.Logger.Error("API", fmt.Sprintf("Public ticket lookup failed: %v", err))
		}
		utils.WriteError(w, "Ticket not found", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket status", view))
}

// GetTicketQR renders the ticket code as a PNG for the holder's wallet.
func (h *Handler) GetTicketQR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, err := h.Ledger.DryRunLookup(r.Context(), code); err != nil {
		utils.WriteError(w, "Ticket not found", err)
		return
	}
	png, err := h.QR.PNG(code)
	if err != nil {
		h.Logger.Error("QR", fmt.Sprintf("Failed to render QR code: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to render QR code", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// GetTicket is the organizer view, redemption audit included.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	view, err := h.Ledger.Lookup(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		utils.WriteError(w, "Ticket not found", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket", view))
}

func (h *Handler) RefundTicket(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	rec, err := h.Refunder.RefundTicket(r.Context(), code)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("Refund by %s rejected: %v", auth.UserID(r.Context()), err))
		utils.WriteError(w, "Refund failed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket refunded", rec))
}
