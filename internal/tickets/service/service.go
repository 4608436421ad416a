package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
)

const defaultMaxRetries = 5

type TicketDBLayer interface {
	CreateTickets(ctx context.Context, tickets []models.Ticket) error
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	TransitionTicket(ctx context.Context, tr models.TicketTransition) error
	EventCancelled(ctx context.Context, eventID string) (bool, error)
}

// TicketService is the ticket ledger. It is the only writer of ticket state.
type TicketService struct {
	DB         TicketDBLayer
	Logger     *logger.Logger
	MaxRetries int
	Now        func() time.Time
}

func NewTicketService(db TicketDBLayer, log *logger.Logger, maxRetries int) *TicketService {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &TicketService{DB: db, Logger: log, MaxRetries: maxRetries, Now: time.Now}
}

func (s *TicketService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *TicketService) retries() int {
	if s.MaxRetries <= 0 {
		return defaultMaxRetries
	}
	return s.MaxRetries
}

func (s *TicketService) load(ctx context.Context, code string) (*models.Ticket, bool, error) {
	ticket, err := s.DB.GetTicketByCode(ctx, code)
	if err != nil {
		return nil, false, err
	}
	cancelled, err := s.DB.EventCancelled(ctx, ticket.EventID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read event status: %w", err)
	}
	return ticket, cancelled, nil
}

// Lookup returns the organizer view, audit fields included.
func (s *TicketService) Lookup(ctx context.Context, code string) (models.TicketView, error) {
	ticket, cancelled, err := s.load(ctx, code)
	if err != nil {
		return models.TicketView{}, err
	}
	return ticket.View(cancelled), nil
}

// DryRunLookup reports what a scan would see without touching the ticket.
func (s *TicketService) DryRunLookup(ctx context.Context, code string) (models.PublicTicketView, error) {
	view, err := s.Lookup(ctx, code)
	if err != nil {
		return models.PublicTicketView{}, err
	}
	return view.Public(), nil
}

func (s *TicketService) ListByOrder(ctx context.Context, orderID string) ([]models.TicketView, error) {
	tickets, err := s.DB.GetTicketsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets of order %s: %w", orderID, err)
	}
	views := make([]models.TicketView, 0, len(tickets))
	for _, t := range tickets {
		views = append(views, t.View(false))
	}
	return views, nil
}

// TicketsByOrder returns the raw ticket records of an order.
func (s *TicketService) TicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	return s.DB.GetTicketsByOrder(ctx, orderID)
}

// IssueTickets persists new tickets in the Issued state.
func (s *TicketService) IssueTickets(ctx context.Context, tickets []models.Ticket) error {
	for i := range tickets {
		tickets[i].State = models.TicketIssued
		tickets[i].Version = 0
		if tickets[i].IssuedAt.IsZero() {
			tickets[i].IssuedAt = s.now()
		}
	}
	return s.DB.CreateTickets(ctx, tickets)
}

// CheckIn redeems a ticket at most once. Every rejection is a typed result;
// only storage failures and exhausted retries are errors.
func (s *TicketService) CheckIn(ctx context.Context, code, agentID string) (models.CheckInResult, error) {
	for attempt := 0; attempt < s.retries(); attempt++ {
		ticket, cancelled, err := s.load(ctx, code)
		if errors.Is(err, models.ErrNotFound) {
			s.Logger.LogCheckIn(code, "not_found", "unknown code")
			return models.NotFound(), nil
		}
		if err != nil {
			return models.CheckInResult{}, err
		}

		view := ticket.View(cancelled)
		// A cancelled event rejects every ticket, whatever its state.
		if cancelled {
			s.Logger.LogCheckIn(code, "rejected", string(models.ReasonEventCancelled))
			return models.Rejected(models.ReasonEventCancelled, view), nil
		}
		if ticket.State != models.TicketIssued {
			reason := models.RejectReasonFor(ticket.State)
			s.Logger.LogCheckIn(code, "rejected", string(reason))
			return models.Rejected(reason, view), nil
		}

		at := s.now()
		agent := agentID
		err = s.DB.TransitionTicket(ctx, models.TicketTransition{
			Code:             ticket.Code,
			EventID:          ticket.EventID,
			ExpectedVersion:  ticket.Version,
			To:               models.TicketUsed,
			At:               at,
			AgentID:          &agent,
			RequireLiveEvent: true,
		})
		if errors.Is(err, models.ErrTransientConflict) {
			// Another scanner or the cancellation won; the next read says which.
			continue
		}
		if err != nil {
			return models.CheckInResult{}, fmt.Errorf("failed to redeem ticket: %w", err)
		}

		ticket.State = models.TicketUsed
		ticket.Version++
		ticket.RedeemedAt = &at
		ticket.RedeemedBy = &agent
		s.Logger.LogCheckIn(code, "accepted", "agent "+agentID)
		return models.Accepted(ticket.View(false)), nil
	}
	return models.CheckInResult{}, fmt.Errorf("check-in gave up after %d attempts: %w", s.retries(), models.ErrTransientConflict)
}

// transition moves an Issued ticket to a terminal state. A ticket that is
// already terminal is returned unchanged with changed=false.
func (s *TicketService) transition(ctx context.Context, code string, to models.TicketState) (*models.Ticket, bool, error) {
	for attempt := 0; attempt < s.retries(); attempt++ {
		ticket, err := s.DB.GetTicketByCode(ctx, code)
		if err != nil {
			return nil, false, err
		}
		if ticket.State != models.TicketIssued {
			return ticket, false, nil
		}

		err = s.DB.TransitionTicket(ctx, models.TicketTransition{
			Code:            ticket.Code,
			EventID:         ticket.EventID,
			ExpectedVersion: ticket.Version,
			To:              to,
			At:              s.now(),
		})
		if errors.Is(err, models.ErrTransientConflict) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to move ticket to %s: %w", to, err)
		}
		ticket.State = to
		ticket.Version++
		return ticket, true, nil
	}
	return nil, false, fmt.Errorf("ticket transition gave up after %d attempts: %w", s.retries(), models.ErrTransientConflict)
}

// Invalidate moves an Issued ticket to Invalidated. It reports whether this
// call made the change; Used tickets stay Used.
func (s *TicketService) Invalidate(ctx context.Context, code string) (bool, error) {
	_, changed, err := s.transition(ctx, code, models.TicketInvalidated)
	return changed, err
}

// RefundTicket moves an Issued ticket to Refunded. A ticket in any other
// state cannot be refunded.
func (s *TicketService) RefundTicket(ctx context.Context, code string) (*models.Ticket, error) {
	ticket, changed, err := s.transition(ctx, code, models.TicketRefunded)
	if err != nil {
		return nil, err
	}
	if !changed {
		return ticket, fmt.Errorf("%w: ticket is %s", models.ErrInvariantViolation, ticket.State)
	}
	return ticket, nil
}
