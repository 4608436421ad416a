package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-marketplace/internal/models"
	ticketsdb "ms-marketplace/internal/tickets/db"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun bun.IDB
}

// StockClaim is one conditional stock decrement of a sale.
type StockClaim struct {
	TicketTypeID string
	Quantity     int
}

// ---------------- TICKET TYPES ----------------

// UpsertTicketType inserts or replaces the catalog fields of a ticket type.
// Sold count is never overwritten.
func (d *DB) UpsertTicketType(ctx context.Context, tt models.TicketType) error {
	if err := tt.BulkDiscounts.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvariantViolation, err)
	}
	_, err := d.Bun.NewInsert().
		Model(&tt).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("unit_price = EXCLUDED.unit_price").
		Set("currency = EXCLUDED.currency").
		Set("total_stock = EXCLUDED.total_stock").
		Set("min_per_order = EXCLUDED.min_per_order").
		Set("max_per_order = EXCLUDED.max_per_order").
		Set("bulk_discounts = EXCLUDED.bulk_discounts").
		Exec(ctx)
	return err
}

func (d *DB) GetTicketTypes(ctx context.Context, eventID string, ids []string) ([]models.TicketType, error) {
	var types []models.TicketType
	err := d.Bun.NewSelect().
		Model(&types).
		Where("event_id = ?", eventID).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return types, nil
}

func (d *DB) ListTicketTypesByEvent(ctx context.Context, eventID string) ([]models.TicketType, error) {
	var types []models.TicketType
	err := d.Bun.NewSelect().
		Model(&types).
		Where("event_id = ?", eventID).
		OrderExpr("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return types, nil
}

// ---------------- ORDERS ----------------

// LockLiveEvent takes the event row's write lock inside db's transaction,
// provided the event is not cancelled. A cancellation's versioned update then
// waits for the transaction to finish, so its refund sweep sees every order
// committed before the flag. Once the flag is committed the guard fails with
// models.ErrEventCancelled.
func LockLiveEvent(ctx context.Context, db bun.IDB, eventID string) error {
	res, err := db.NewUpdate().
		Model((*models.Event)(nil)).
		Set("version = version").
		Where("id = ?", eventID).
		Where("is_cancelled = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to lock event %s: %w", eventID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("event %s: %w", eventID, models.ErrEventCancelled)
	}
	return nil
}

// PlaceOrder claims stock, then writes the order and its tickets, all in one
// transaction that holds the event's row lock. A claim that would oversell
// aborts everything with models.ErrInsufficientStock; a cancelled event aborts
// with models.ErrEventCancelled.
func (d *DB) PlaceOrder(ctx context.Context, order models.Order, claims []StockClaim, tickets []models.Ticket) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := LockLiveEvent(ctx, tx, order.EventID); err != nil {
			return err
		}

		for _, c := range claims {
			res, err := tx.NewUpdate().
				Model((*models.TicketType)(nil)).
				Set("sold_count = sold_count + ?", c.Quantity).
				Where("id = ?", c.TicketTypeID).
				Where("(total_stock IS NULL OR sold_count + ? <= total_stock)", c.Quantity).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to claim stock of %s: %w", c.TicketTypeID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return fmt.Errorf("ticket type %s: %w", c.TicketTypeID, models.ErrInsufficientStock)
			}
		}

		if _, err := tx.NewInsert().Model(&order).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		store := &ticketsdb.DB{Bun: tx}
		if err := store.CreateTickets(ctx, tickets); err != nil {
			return fmt.Errorf("failed to insert tickets: %w", err)
		}
		return nil
	})
}

func (d *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByEvent → every order of an event, oldest first
func (d *DB) ListOrdersByEvent(ctx context.Context, eventID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("event_id = ?", eventID).
		OrderExpr("created_at ASC, order_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ---------------- REFUNDS ----------------

// RecordRefund inserts the refund record and, only if this call inserted it,
// adds the amount to the order. It reports whether the insert happened.
func (d *DB) RecordRefund(ctx context.Context, rec models.RefundRecord) (bool, error) {
	inserted := false
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewInsert().
			Model(&rec).
			On("CONFLICT (order_id, refund_key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert refund record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		inserted = true

		_, err = tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("refunded_amount = refunded_amount + ?", rec.Amount).
			Set("status = CASE WHEN refunded_amount + ? >= total THEN ? ELSE ? END",
				rec.Amount, models.OrderRefunded, models.OrderPartiallyRefunded).
			Where("order_id = ?", rec.OrderID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update refunded amount: %w", err)
		}
		return nil
	})
	return inserted, err
}

func (d *DB) GetRefund(ctx context.Context, orderID, refundKey string) (*models.RefundRecord, error) {
	var rec models.RefundRecord
	err := d.Bun.NewSelect().
		Model(&rec).
		Where("order_id = ?", orderID).
		Where("refund_key = ?", refundKey).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("refund %s/%s: %w", orderID, refundKey, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRefundsByKey → all refund records written under one refund key
func (d *DB) ListRefundsByKey(ctx context.Context, eventID, refundKey string) ([]models.RefundRecord, error) {
	var recs []models.RefundRecord
	err := d.Bun.NewSelect().
		Model(&recs).
		Where("event_id = ?", eventID).
		Where("refund_key = ?", refundKey).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// ListUnpublishedRefunds → outbox rows whose intent never reached Kafka
func (d *DB) ListUnpublishedRefunds(ctx context.Context, limit int) ([]models.RefundRecord, error) {
	var recs []models.RefundRecord
	err := d.Bun.NewSelect().
		Model(&recs).
		Where("intent_published = ?", false).
		OrderExpr("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (d *DB) MarkIntentPublished(ctx context.Context, orderID, refundKey string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.RefundRecord)(nil)).
		Set("intent_published = ?", true).
		Where("order_id = ?", orderID).
		Where("refund_key = ?", refundKey).
		Exec(ctx)
	return err
}
