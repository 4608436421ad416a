package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// RefundRecord makes refunds idempotent: at most one row exists per
// (order, refund key).
type RefundRecord struct {
	bun.BaseModel `bun:"table:refund_records"`

	OrderID            string          `bun:"order_id,pk" json:"order_id"`
	RefundKey          string          `bun:"refund_key,pk" json:"refund_key"`
	EventID            string          `bun:"event_id,notnull" json:"event_id"`
	Amount             decimal.Decimal `bun:"amount,type:numeric(12,2),notnull" json:"amount"`
	Currency           string          `bun:"currency,notnull" json:"currency"`
	TicketsInvalidated int             `bun:"tickets_invalidated,notnull" json:"tickets_invalidated"`
	IntentPublished    bool            `bun:"intent_published,notnull" json:"intent_published"`
	CreatedAt          time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// Intent converts the record to the message handed to the refund executor.
func (r RefundRecord) Intent(paymentRef string) RefundIntent {
	return RefundIntent{
		OrderID:    r.OrderID,
		EventID:    r.EventID,
		RefundKey:  r.RefundKey,
		Amount:     r.Amount,
		Currency:   r.Currency,
		PaymentRef: paymentRef,
		CreatedAt:  r.CreatedAt,
	}
}

// RefundIntent is published to Kafka for asynchronous payment reversal.
type RefundIntent struct {
	OrderID    string          `json:"order_id"`
	EventID    string          `json:"event_id"`
	RefundKey  string          `json:"refund_key"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	PaymentRef string          `json:"payment_ref,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// IdempotencyKey is stable across redeliveries of the same intent.
func (i RefundIntent) IdempotencyKey() string {
	return fmt.Sprintf("refund:%s:%s", i.OrderID, i.RefundKey)
}

// TicketRefundKey is the refund key of a single-ticket refund.
func TicketRefundKey(code string) string {
	return "ticket:" + code
}

// CancellationResult reports the outcome of an event cancellation sweep.
type CancellationResult struct {
	EventID            string          `json:"event_id"`
	CancellationID     string          `json:"cancellation_id"`
	OrdersRefunded     int             `json:"orders_refunded"`
	TicketsInvalidated int             `json:"tickets_invalidated"`
	TotalRefunded      decimal.Decimal `json:"total_refunded"`
	Completed          bool            `json:"completed"`
}
