package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type TicketState string

const (
	TicketIssued      TicketState = "issued"
	TicketUsed        TicketState = "used"
	TicketInvalidated TicketState = "invalidated"
	TicketRefunded    TicketState = "refunded"
)

// Terminal reports whether no transition leaves the state.
func (s TicketState) Terminal() bool {
	return s == TicketUsed || s == TicketInvalidated || s == TicketRefunded
}

// CanTransition reports whether from -> to is one of the three legal moves.
func CanTransition(from, to TicketState) bool {
	return from == TicketIssued && to.Terminal()
}

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	TicketID        string          `bun:"ticket_id,pk"`
	Code            string          `bun:"code,notnull,unique"`
	OrderID         string          `bun:"order_id,notnull"`
	EventID         string          `bun:"event_id,notnull"`
	TicketTypeID    string          `bun:"ticket_type_id,notnull"`
	State           TicketState     `bun:"state,notnull"`
	HolderName      string          `bun:"holder_name"`
	TicketTypeName  string          `bun:"ticket_type_name"`
	SeatLabel       string          `bun:"seat_label"`
	EventTitle      string          `bun:"event_title"`
	PriceAtPurchase decimal.Decimal `bun:"price_at_purchase,type:numeric(12,2),notnull"`
	IssuedAt        time.Time       `bun:"issued_at,notnull"`
	RedeemedAt      *time.Time      `bun:"redeemed_at"`
	RedeemedBy      *string         `bun:"redeemed_by"`
	Version         int64           `bun:"version,notnull"`
}

// TicketView is the organizer-facing snapshot of a ticket.
type TicketView struct {
	Code           string      `json:"code"`
	State          TicketState `json:"state"`
	OrderID        string      `json:"order_id"`
	EventID        string      `json:"event_id"`
	EventTitle     string      `json:"event_title"`
	TicketTypeName string      `json:"ticket_type"`
	HolderName     string      `json:"holder_name"`
	SeatLabel      string      `json:"seat_label,omitempty"`
	RedeemedAt     *time.Time  `json:"redeemed_at,omitempty"`
	RedeemedBy     *string     `json:"redeemed_by,omitempty"`
	EventCancelled bool        `json:"event_cancelled"`
}

// PublicTicketView is what unauthenticated callers may see: status and
// display fields, no audit data.
type PublicTicketView struct {
	Code           string      `json:"code"`
	State          TicketState `json:"state"`
	Valid          bool        `json:"valid"`
	EventID        string      `json:"event_id"`
	EventCancelled bool        `json:"event_cancelled"`
	EventTitle     string      `json:"event_title"`
	TicketTypeName string      `json:"ticket_type"`
	HolderName     string      `json:"holder_name"`
	SeatLabel      string      `json:"seat_label,omitempty"`
}

func (t Ticket) View(eventCancelled bool) TicketView {
	return TicketView{
		Code:           t.Code,
		State:          t.State,
		OrderID:        t.OrderID,
		EventID:        t.EventID,
		EventTitle:     t.EventTitle,
		TicketTypeName: t.TicketTypeName,
		HolderName:     t.HolderName,
		SeatLabel:      t.SeatLabel,
		RedeemedAt:     t.RedeemedAt,
		RedeemedBy:     t.RedeemedBy,
		EventCancelled: eventCancelled,
	}
}

func (v TicketView) Public() PublicTicketView {
	return PublicTicketView{
		Code:           v.Code,
		State:          v.State,
		Valid:          v.State == TicketIssued && !v.EventCancelled,
		EventID:        v.EventID,
		EventCancelled: v.EventCancelled,
		EventTitle:     v.EventTitle,
		TicketTypeName: v.TicketTypeName,
		HolderName:     v.HolderName,
		SeatLabel:      v.SeatLabel,
	}
}

// TicketTransition is one compare-and-swap from Issued to a terminal state.
// It only applies while the row still has ExpectedVersion.
type TicketTransition struct {
	Code            string
	EventID         string
	ExpectedVersion int64
	To              TicketState
	At              time.Time
	AgentID         *string
	// RequireLiveEvent makes the swap fail if the owning event is cancelled.
	RequireLiveEvent bool
}
