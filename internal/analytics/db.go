package analytics

import (
	"context"
	"time"

	"ms-marketplace/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DB handles analytics database operations
type DB struct {
	bun bun.IDB
}

// NewDB creates a new analytics DB handler
func NewDB(db bun.IDB) *DB {
	return &DB{bun: db}
}

type stateCount struct {
	State models.TicketState `bun:"state"`
	Count int                `bun:"count"`
}

// CountTicketsByState groups the tickets of an event by state
func (db *DB) CountTicketsByState(ctx context.Context, eventID string) ([]stateCount, error) {
	var rows []stateCount
	err := db.bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("state").
		ColumnExpr("COUNT(*) AS count").
		Where("event_id = ?", eventID).
		Group("state").
		Scan(ctx, &rows)
	return rows, err
}

type typeCount struct {
	TicketTypeID   string `bun:"ticket_type_id"`
	TicketTypeName string `bun:"ticket_type_name"`
	Issued         int    `bun:"issued"`
	CheckedIn      int    `bun:"checked_in"`
}

// CountTicketsByType returns sold and checked-in tickets per ticket type.
// Invalidated and refunded tickets are not counted as sold.
func (db *DB) CountTicketsByType(ctx context.Context, eventID string) ([]typeCount, error) {
	var rows []typeCount
	err := db.bun.NewRaw(`
		SELECT
			ticket_type_id,
			MAX(ticket_type_name) AS ticket_type_name,
			SUM(CASE WHEN state IN (?, ?) THEN 1 ELSE 0 END) AS issued,
			SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS checked_in
		FROM tickets
		WHERE event_id = ?
		GROUP BY ticket_type_id
		ORDER BY ticket_type_id`,
		models.TicketIssued, models.TicketUsed, models.TicketUsed, eventID).
		Scan(ctx, &rows)
	return rows, err
}

// LastCheckIn returns the most recent redemption time of an event, or nil
func (db *DB) LastCheckIn(ctx context.Context, eventID string) (*time.Time, error) {
	var tickets []models.Ticket
	err := db.bun.NewSelect().
		Model(&tickets).
		Column("redeemed_at").
		Where("event_id = ?", eventID).
		Where("state = ?", models.TicketUsed).
		Where("redeemed_at IS NOT NULL").
		OrderExpr("redeemed_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil || len(tickets) == 0 {
		return nil, err
	}
	return tickets[0].RedeemedAt, nil
}

// GetOrdersByEventID retrieves all orders associated with an event
func (db *DB) GetOrdersByEventID(ctx context.Context, eventID string) ([]models.Order, error) {
	var orders []models.Order
	err := db.bun.NewSelect().
		Model(&orders).
		Where("event_id = ?", eventID).
		Scan(ctx)
	return orders, err
}

// SumTicketValue adds up the purchase price of the tickets of an event in
// the given states
func (db *DB) SumTicketValue(ctx context.Context, eventID string, states ...models.TicketState) (decimal.Decimal, error) {
	var tickets []models.Ticket
	err := db.bun.NewSelect().
		Model(&tickets).
		Column("price_at_purchase").
		Where("event_id = ?", eventID).
		Where("state IN (?)", bun.In(states)).
		Scan(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, t := range tickets {
		sum = sum.Add(t.PriceAtPurchase)
	}
	return sum, nil
}
