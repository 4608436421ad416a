package analytics

import (
	"context"
	"fmt"
	"time"

	"ms-marketplace/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Service handles analytics operations
type Service struct {
	db *DB
}

// NewService creates a new analytics service
func NewService(db bun.IDB) *Service {
	return &Service{db: NewDB(db)}
}

// CheckInStats is the door dashboard of one event
type CheckInStats struct {
	EventID      string                     `json:"event_id"`
	TotalTickets int                        `json:"total_tickets"`
	Valid        int                        `json:"valid"`
	CheckedIn    int                        `json:"checked_in"`
	Remaining    int                        `json:"remaining"`
	ByState      map[models.TicketState]int `json:"by_state"`
	ByType       []TypeCheckIns             `json:"by_ticket_type"`

	// Percent of valid tickets already redeemed, two decimals
	PercentIn     float64    `json:"percent_checked_in"`
	LastCheckInAt *time.Time `json:"last_checkin_at,omitempty"`
}

// TypeCheckIns contains check-in progress for a ticket type
type TypeCheckIns struct {
	TicketTypeID string `json:"ticket_type_id"`
	Name         string `json:"name"`
	Valid        int    `json:"valid"`
	CheckedIn    int    `json:"checked_in"`
}

// SalesSummary aggregates orders and refunds of an event
type SalesSummary struct {
	EventID        string          `json:"event_id"`
	Orders         int             `json:"orders"`
	OnlineOrders   int             `json:"online_orders"`
	DoorOrders     int             `json:"door_orders"`
	GrossRevenue   decimal.Decimal `json:"gross_revenue"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	NetRevenue     decimal.Decimal `json:"net_revenue"`
	ByStatus       map[string]int  `json:"orders_by_status"`
	Currency       string          `json:"currency,omitempty"`

	// Value of tickets whose money is still held: issued or used
	HeldTicketValue decimal.Decimal `json:"held_ticket_value"`
}

// GetCheckInStats returns check-in progress for an event
func (s *Service) GetCheckInStats(ctx context.Context, eventID string) (*CheckInStats, error) {
	states, err := s.db.CountTicketsByState(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets by state: %w", err)
	}

	stats := &CheckInStats{
		EventID: eventID,
		ByState: map[models.TicketState]int{
			models.TicketIssued:      0,
			models.TicketUsed:        0,
			models.TicketInvalidated: 0,
			models.TicketRefunded:    0,
		},
		ByType: []TypeCheckIns{},
	}
	for _, row := range states {
		stats.ByState[row.State] = row.Count
		stats.TotalTickets += row.Count
	}
	stats.CheckedIn = stats.ByState[models.TicketUsed]
	stats.Valid = stats.ByState[models.TicketIssued] + stats.CheckedIn
	stats.Remaining = stats.ByState[models.TicketIssued]
	if stats.Valid > 0 {
		pct := decimal.NewFromInt(int64(stats.CheckedIn)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(stats.Valid))).
			Round(2)
		stats.PercentIn = pct.InexactFloat64()
	}

	types, err := s.db.CountTicketsByType(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets by type: %w", err)
	}
	for _, row := range types {
		stats.ByType = append(stats.ByType, TypeCheckIns{
			TicketTypeID: row.TicketTypeID,
			Name:         row.TicketTypeName,
			Valid:        row.Issued,
			CheckedIn:    row.CheckedIn,
		})
	}

	stats.LastCheckInAt, err = s.db.LastCheckIn(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last check-in: %w", err)
	}
	return stats, nil
}

// GetSalesSummary returns revenue and refund totals for an event
func (s *Service) GetSalesSummary(ctx context.Context, eventID string) (*SalesSummary, error) {
	orders, err := s.db.GetOrdersByEventID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	summary := &SalesSummary{
		EventID:        eventID,
		GrossRevenue:   decimal.Zero,
		RefundedAmount: decimal.Zero,
		ByStatus:       map[string]int{},
	}
	for _, o := range orders {
		summary.Orders++
		if o.Channel == models.ChannelDoor {
			summary.DoorOrders++
		} else {
			summary.OnlineOrders++
		}
		summary.GrossRevenue = summary.GrossRevenue.Add(o.Total)
		summary.RefundedAmount = summary.RefundedAmount.Add(o.RefundedAmount)
		summary.ByStatus[o.Status]++
		if summary.Currency == "" {
			summary.Currency = o.Currency
		}
	}
	summary.NetRevenue = summary.GrossRevenue.Sub(summary.RefundedAmount)

	summary.HeldTicketValue, err = s.db.SumTicketValue(ctx, eventID, models.TicketIssued, models.TicketUsed)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ticket value: %w", err)
	}
	return summary, nil
}
