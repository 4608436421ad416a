package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-marketplace/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun bun.IDB
}

// CreateTickets inserts freshly issued tickets. Callers pass a transaction
// when the insert must commit together with the order.
func (d *DB) CreateTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&tickets).Exec(ctx)
	return err
}

func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTicketsByOrder → all tickets of an order, oldest first
func (d *DB) GetTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		OrderExpr("issued_at ASC, ticket_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// TransitionTicket applies a single compare-and-swap. A swap that matches no
// row returns models.ErrTransientConflict; the caller re-reads to learn why.
func (d *DB) TransitionTicket(ctx context.Context, tr models.TicketTransition) error {
	if !models.CanTransition(models.TicketIssued, tr.To) {
		return fmt.Errorf("%w: cannot move a ticket to %s", models.ErrInvariantViolation, tr.To)
	}

	q := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("state = ?", tr.To).
		Set("version = version + 1").
		Where("code = ?", tr.Code).
		Where("state = ?", models.TicketIssued).
		Where("version = ?", tr.ExpectedVersion)

	if tr.To == models.TicketUsed {
		q = q.Set("redeemed_at = ?", tr.At).Set("redeemed_by = ?", tr.AgentID)
	}
	if tr.RequireLiveEvent {
		q = q.Where("NOT EXISTS (SELECT 1 FROM events WHERE events.id = ? AND events.is_cancelled = ?)", tr.EventID, true)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrTransientConflict
	}
	return nil
}

// EventCancelled reads the cancellation flag of the ticket's event. A missing
// event reads as not cancelled.
func (d *DB) EventCancelled(ctx context.Context, eventID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Event)(nil)).
		Where("id = ?", eventID).
		Where("is_cancelled = ?", true).
		Exists(ctx)
}
