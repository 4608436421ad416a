// Package checkin answers door scans. It adds event-level gating on top of
// the ticket ledger and broadcasts accepted check-ins.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

type Ledger interface {
	Lookup(ctx context.Context, code string) (models.TicketView, error)
	CheckIn(ctx context.Context, code, agentID string) (models.CheckInResult, error)
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Notifier receives every accepted check-in. Implementations must not block.
type Notifier interface {
	NotifyCheckIn(ctx context.Context, ev models.CheckInEvent)
}

// DryRunResult is what a scan would produce, without redeeming the ticket.
type DryRunResult struct {
	Outcome models.CheckInOutcome    `json:"outcome"`
	Reason  models.RejectReason      `json:"reason,omitempty"`
	Ticket  *models.PublicTicketView `json:"ticket,omitempty"`
}

type Gateway struct {
	Ledger    Ledger
	Events    EventReader
	Notifiers []Notifier
	Logger    *logger.Logger
	Now       func() time.Time
}

func NewGateway(ledger Ledger, events EventReader, log *logger.Logger, notifiers ...Notifier) *Gateway {
	return &Gateway{
		Ledger:    ledger,
		Events:    events,
		Notifiers: notifiers,
		Logger:    log,
		Now:       time.Now,
	}
}

func (g *Gateway) now() time.Time {
	if g.Now == nil {
		return time.Now().UTC()
	}
	return g.Now().UTC()
}

// gate returns the event-level rejection for a scan at the given time, if
// any. A postponed event only admits on its new date.
func gate(event models.Event, at time.Time) (models.RejectReason, bool) {
	if event.IsCancelled {
		return models.ReasonEventCancelled, true
	}
	if event.IsPostponed {
		if event.PostponedDate == nil || !utils.SameDay(*event.PostponedDate, at) {
			return models.ReasonEventPostponed, true
		}
	}
	return "", false
}

func (g *Gateway) resolve(ctx context.Context, code string) (models.TicketView, *models.Event, bool, error) {
	view, err := g.Ledger.Lookup(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return models.TicketView{}, nil, false, nil
	}
	if err != nil {
		return models.TicketView{}, nil, false, err
	}
	event, err := g.Events.GetEvent(ctx, view.EventID)
	if err != nil {
		return models.TicketView{}, nil, false, fmt.Errorf("failed to load event of ticket: %w", err)
	}
	return view, event, true, nil
}

// CheckIn redeems a scanned code. Event gating runs before the ledger, and
// the ledger re-checks cancellation inside its swap.
func (g *Gateway) CheckIn(ctx context.Context, code, agentID string) (models.CheckInResult, error) {
	if code == "" {
		return models.CheckInResult{}, fmt.Errorf("%w: ticket code is required", models.ErrInvalidInput)
	}
	view, event, found, err := g.resolve(ctx, code)
	if err != nil {
		return models.CheckInResult{}, err
	}
	if !found {
		g.Logger.LogCheckIn(code, "not_found", "unknown code")
		return models.NotFound(), nil
	}

	at := g.now()
	if reason, blocked := gate(*event, at); blocked {
		g.Logger.LogCheckIn(code, "rejected", string(reason))
		return models.Rejected(reason, view), nil
	}

	result, err := g.Ledger.CheckIn(ctx, code, agentID)
	if err != nil {
		return models.CheckInResult{}, err
	}
	if result.Outcome == models.CheckInAccepted {
		g.broadcast(ctx, code, agentID, result, at)
	}
	return result, nil
}

func (g *Gateway) broadcast(ctx context.Context, code, agentID string, result models.CheckInResult, at time.Time) {
	ev := models.CheckInEvent{
		EventID:        result.Ticket.EventID,
		Code:           code,
		TicketTypeName: result.Ticket.TicketTypeName,
		HolderName:     result.Ticket.HolderName,
		AgentID:        agentID,
		CheckedInAt:    at,
	}
	if result.Ticket.RedeemedAt != nil {
		ev.CheckedInAt = *result.Ticket.RedeemedAt
	}
	for _, n := range g.Notifiers {
		n.NotifyCheckIn(ctx, ev)
	}
}

// DryRun reports what CheckIn would answer right now. It never writes.
func (g *Gateway) DryRun(ctx context.Context, code string) (DryRunResult, error) {
	if code == "" {
		return DryRunResult{}, fmt.Errorf("%w: ticket code is required", models.ErrInvalidInput)
	}
	view, event, found, err := g.resolve(ctx, code)
	if err != nil {
		return DryRunResult{}, err
	}
	if !found {
		return DryRunResult{Outcome: models.CheckInNotFound}, nil
	}

	public := view.Public()
	res := DryRunResult{Outcome: models.CheckInValid, Ticket: &public}
	if reason, blocked := gate(*event, g.now()); blocked {
		res.Outcome, res.Reason = models.CheckInRejected, reason
		public.Valid = false
		return res, nil
	}
	if view.State != models.TicketIssued {
		res.Outcome, res.Reason = models.CheckInRejected, models.RejectReasonFor(view.State)
	}
	return res, nil
}
