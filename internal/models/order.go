package models

import (
	"time"

	"ms-marketplace/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	OrderCompleted         = "completed"
	OrderPartiallyRefunded = "partially_refunded"
	OrderRefunded          = "refunded"
)

const (
	ChannelOnline = "online"
	ChannelDoor   = "door"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID        string          `bun:"order_id,pk" json:"order_id"`
	EventID        string          `bun:"event_id,notnull" json:"event_id"`
	CustomerName   string          `bun:"customer_name" json:"customer_name"`
	CustomerEmail  string          `bun:"customer_email" json:"customer_email"`
	Channel        string          `bun:"channel,notnull" json:"channel"`
	Status         string          `bun:"status,notnull" json:"status"`
	Currency       string          `bun:"currency,notnull" json:"currency"`
	Total          decimal.Decimal `bun:"total,type:numeric(12,2),notnull" json:"total"`
	RefundedAmount decimal.Decimal `bun:"refunded_amount,type:numeric(12,2),notnull" json:"refunded_amount"`
	PaymentRef     string          `bun:"payment_ref" json:"payment_ref"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// TicketType belongs to one event. TotalStock nil means unlimited.
type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID            string          `bun:"id,pk" json:"id"`
	EventID       string          `bun:"event_id,notnull" json:"event_id"`
	Name          string          `bun:"name,notnull" json:"name"`
	UnitPrice     decimal.Decimal `bun:"unit_price,type:numeric(12,2),notnull" json:"unit_price"`
	Currency      string          `bun:"currency,notnull" json:"currency"`
	TotalStock    *int            `bun:"total_stock" json:"total_stock"`
	SoldCount     int             `bun:"sold_count,notnull" json:"sold_count"`
	MinPerOrder   int             `bun:"min_per_order,notnull" json:"min_per_order"`
	MaxPerOrder   int             `bun:"max_per_order,notnull" json:"max_per_order"`
	BulkDiscounts pricing.Rules   `bun:"bulk_discounts,type:jsonb" json:"bulk_discounts"`
}

// Remaining returns unsold stock, or -1 for unlimited.
func (tt TicketType) Remaining() int {
	if tt.TotalStock == nil {
		return -1
	}
	return *tt.TotalStock - tt.SoldCount
}

type OrderItem struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
	// HolderNames optionally names each ticket; missing names fall back to
	// the customer name.
	HolderNames []string `json:"holder_names,omitempty"`
}

type OrderRequest struct {
	CustomerName  string      `json:"customer_name"`
	CustomerEmail string      `json:"customer_email"`
	Channel       string      `json:"channel"`
	PaymentRef    string      `json:"payment_ref"`
	Items         []OrderItem `json:"items"`
}

type OrderResponse struct {
	OrderID  string          `json:"order_id"`
	EventID  string          `json:"event_id"`
	Status   string          `json:"status"`
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Discount decimal.Decimal `json:"discount"`
	Tickets  []OrderTicket   `json:"tickets"`
}

type OrderTicket struct {
	Code       string          `json:"code"`
	TicketType string          `json:"ticket_type"`
	HolderName string          `json:"holder_name"`
	Price      decimal.Decimal `json:"price"`
}
