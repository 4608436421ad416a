package analytics

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ms-marketplace/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// ParticipantFilter narrows the participant list of an event. Zero values
// mean no filter.
type ParticipantFilter struct {
	State        models.TicketState
	CheckedIn    *bool
	Search       string
	TicketTypeID string
	Page         int
	PerPage      int
}

// ParseParticipantFilter reads status, checked_in, search, ticket_type_id,
// page and per_page from a query string.
func ParseParticipantFilter(q url.Values) (ParticipantFilter, error) {
	f := ParticipantFilter{
		State:        models.TicketState(q.Get("status")),
		Search:       strings.TrimSpace(q.Get("search")),
		TicketTypeID: q.Get("ticket_type_id"),
		Page:         1,
		PerPage:      defaultPerPage,
	}
	switch f.State {
	case "", models.TicketIssued, models.TicketUsed, models.TicketInvalidated, models.TicketRefunded:
	default:
		return f, fmt.Errorf("unknown ticket status %q: %w", f.State, models.ErrInvalidInput)
	}
	if v := q.Get("checked_in"); v != "" {
		in, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("checked_in must be a boolean: %w", models.ErrInvalidInput)
		}
		f.CheckedIn = &in
	}
	for name, dst := range map[string]*int{"page": &f.Page, "per_page": &f.PerPage} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, fmt.Errorf("%s must be a positive integer: %w", name, models.ErrInvalidInput)
		}
		*dst = n
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	return f, nil
}

// Participant is one ticket holder as the check-in desk sees them.
type Participant struct {
	TicketID      string             `bun:"ticket_id" json:"ticket_id"`
	Code          string             `bun:"code" json:"code"`
	TicketTypeID  string             `bun:"ticket_type_id" json:"ticket_type_id"`
	TicketType    string             `bun:"ticket_type_name" json:"ticket_type"`
	Price         decimal.Decimal    `bun:"price_at_purchase" json:"price"`
	State         models.TicketState `bun:"state" json:"status"`
	CheckedInAt   *time.Time         `bun:"redeemed_at" json:"checked_in_at"`
	CheckedInBy   *string            `bun:"redeemed_by" json:"checked_in_by"`
	HolderName    string             `bun:"holder_name" json:"holder_name"`
	CustomerName  string             `bun:"customer_name" json:"customer_name"`
	CustomerEmail string             `bun:"customer_email" json:"customer_email"`
	OrderID       string             `bun:"order_id" json:"order_id"`
	PurchasedAt   time.Time          `bun:"issued_at" json:"purchased_at"`
}

type ParticipantStats struct {
	Total        int     `json:"total"`
	CheckedIn    int     `json:"checked_in"`
	NotCheckedIn int     `json:"not_checked_in"`
	CheckInRate  float64 `json:"check_in_rate"`
}

type ParticipantPage struct {
	EventID      string           `json:"event_id"`
	Participants []Participant    `json:"participants"`
	Total        int              `json:"total"`
	Page         int              `json:"page"`
	PerPage      int              `json:"per_page"`
	Stats        ParticipantStats `json:"stats"`
}

func (db *DB) participantQuery(eventID string, f ParticipantFilter) *bun.SelectQuery {
	q := db.bun.NewSelect().
		TableExpr("tickets AS t").
		Join("JOIN orders AS o ON o.order_id = t.order_id").
		Where("t.event_id = ?", eventID)

	if f.State != "" {
		q = q.Where("t.state = ?", f.State)
	}
	if f.CheckedIn != nil {
		if *f.CheckedIn {
			q = q.Where("t.redeemed_at IS NOT NULL")
		} else {
			q = q.Where("t.redeemed_at IS NULL")
		}
	}
	if f.TicketTypeID != "" {
		q = q.Where("t.ticket_type_id = ?", f.TicketTypeID)
	}
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("LOWER(t.code) LIKE ?", like).
				WhereOr("LOWER(t.holder_name) LIKE ?", like).
				WhereOr("LOWER(o.customer_name) LIKE ?", like).
				WhereOr("LOWER(o.customer_email) LIKE ?", like)
		})
	}
	return q
}

// ListParticipants returns one page of matching participants, newest first,
// and the number of matches across all pages. A PerPage of zero returns
// every match.
func (db *DB) ListParticipants(ctx context.Context, eventID string, f ParticipantFilter) ([]Participant, int, error) {
	total, err := db.participantQuery(eventID, f).Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	q := db.participantQuery(eventID, f).
		ColumnExpr("t.ticket_id, t.code, t.ticket_type_id, t.ticket_type_name, t.price_at_purchase").
		ColumnExpr("t.state, t.redeemed_at, t.redeemed_by, t.holder_name, t.issued_at, t.order_id").
		ColumnExpr("o.customer_name, o.customer_email").
		OrderExpr("t.issued_at DESC, t.code ASC")
	if f.PerPage > 0 {
		q = q.Limit(f.PerPage).Offset((f.Page - 1) * f.PerPage)
	}

	participants := []Participant{}
	if err := q.Scan(ctx, &participants); err != nil {
		return nil, 0, err
	}
	return participants, total, nil
}

// GetParticipants lists the ticket holders of an event with door stats.
// Stats cover valid tickets (issued or used) and ignore the filter.
func (s *Service) GetParticipants(ctx context.Context, eventID string, f ParticipantFilter) (*ParticipantPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > maxPerPage {
		f.PerPage = defaultPerPage
	}

	participants, total, err := s.db.ListParticipants(ctx, eventID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	states, err := s.db.CountTicketsByState(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets by state: %w", err)
	}
	var stats ParticipantStats
	for _, row := range states {
		switch row.State {
		case models.TicketIssued:
			stats.Total += row.Count
		case models.TicketUsed:
			stats.Total += row.Count
			stats.CheckedIn += row.Count
		}
	}
	stats.NotCheckedIn = stats.Total - stats.CheckedIn
	if stats.Total > 0 {
		stats.CheckInRate = decimal.NewFromInt(int64(stats.CheckedIn)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(stats.Total))).
			Round(1).
			InexactFloat64()
	}

	return &ParticipantPage{
		EventID:      eventID,
		Participants: participants,
		Total:        total,
		Page:         f.Page,
		PerPage:      f.PerPage,
		Stats:        stats,
	}, nil
}

var participantCSVHeader = []string{
	"Ticket ID", "Code", "Ticket Type", "Price", "Status", "Holder Name",
	"Customer Name", "Customer Email", "Order ID", "Purchased At", "Checked In", "Checked In At",
}

// AllParticipants returns every participant matching f, ignoring pagination.
func (s *Service) AllParticipants(ctx context.Context, eventID string, f ParticipantFilter) ([]Participant, error) {
	f.PerPage = 0
	participants, _, err := s.db.ListParticipants(ctx, eventID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

// WriteParticipantsCSV writes participants as CSV with a header row.
// Timestamps are UTC.
func WriteParticipantsCSV(w io.Writer, participants []Participant) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(participantCSVHeader); err != nil {
		return err
	}
	const layout = "2006-01-02 15:04:05"
	for _, p := range participants {
		checkedIn, checkedInAt := "No", ""
		if p.CheckedInAt != nil {
			checkedIn, checkedInAt = "Yes", p.CheckedInAt.UTC().Format(layout)
		}
		err := cw.Write([]string{
			p.TicketID,
			p.Code,
			p.TicketType,
			p.Price.StringFixed(2),
			string(p.State),
			p.HolderName,
			p.CustomerName,
			p.CustomerEmail,
			p.OrderID,
			p.PurchasedAt.UTC().Format(layout),
			checkedIn,
			checkedInAt,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
