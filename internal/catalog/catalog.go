// Package catalog loads event and ticket type definitions from YAML files
// and writes them to the store. Discount rules are validated while the file
// is decoded, so a misconfigured rule never reaches the database.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/pricing"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Catalog struct {
	Events []Event `yaml:"events"`
}

type Event struct {
	ID          string       `yaml:"id"`
	Title       string       `yaml:"title"`
	TicketTypes []TicketType `yaml:"ticket_types"`
}

type TicketType struct {
	ID            string        `yaml:"id"`
	Name          string        `yaml:"name"`
	UnitPrice     string        `yaml:"unit_price"`
	Currency      string        `yaml:"currency"`
	TotalStock    *int          `yaml:"total_stock"`
	MinPerOrder   int           `yaml:"min_per_order"`
	MaxPerOrder   int           `yaml:"max_per_order"`
	BulkDiscounts pricing.Rules `yaml:"bulk_discounts"`
}

type EventStore interface {
	UpsertEvent(ctx context.Context, event models.Event) error
}

type TicketTypeStore interface {
	UpsertTicketType(ctx context.Context, tt models.TicketType) error
}

// Parse decodes and validates a catalog.
func Parse(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", models.ErrInvariantViolation, err)
	}
	if _, err := c.models(); err != nil {
		return nil, err
	}
	return &c, nil
}

type eventDef struct {
	event models.Event
	types []models.TicketType
}

func (c *Catalog) models() ([]eventDef, error) {
	defs := make([]eventDef, 0, len(c.Events))
	seenTypes := map[string]bool{}
	seenEvents := map[string]bool{}
	for _, e := range c.Events {
		if e.ID == "" || strings.TrimSpace(e.Title) == "" {
			return nil, fmt.Errorf("%w: every event needs an id and a title", models.ErrInvariantViolation)
		}
		if seenEvents[e.ID] {
			return nil, fmt.Errorf("%w: event %s defined twice", models.ErrInvariantViolation, e.ID)
		}
		seenEvents[e.ID] = true

		def := eventDef{event: models.Event{ID: e.ID, Title: strings.TrimSpace(e.Title)}}
		for _, tt := range e.TicketTypes {
			if seenTypes[tt.ID] {
				return nil, fmt.Errorf("%w: ticket type %s defined twice", models.ErrInvariantViolation, tt.ID)
			}
			seenTypes[tt.ID] = true
			m, err := tt.model(e.ID)
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", e.ID, err)
			}
			def.types = append(def.types, m)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (tt TicketType) model(eventID string) (models.TicketType, error) {
	fail := func(format string, args ...interface{}) (models.TicketType, error) {
		return models.TicketType{}, fmt.Errorf("%w: ticket type %s: %s", models.ErrInvariantViolation, tt.ID, fmt.Sprintf(format, args...))
	}
	if tt.ID == "" || tt.Name == "" {
		return fail("id and name are required")
	}
	price, err := decimal.NewFromString(tt.UnitPrice)
	if err != nil {
		return fail("unit_price %q is not a number", tt.UnitPrice)
	}
	if price.IsNegative() {
		return fail("unit_price must not be negative")
	}
	if len(tt.Currency) != 3 {
		return fail("currency must be a 3-letter code")
	}
	if tt.TotalStock != nil && *tt.TotalStock < 0 {
		return fail("total_stock must not be negative")
	}
	if tt.MinPerOrder < 0 || tt.MaxPerOrder < 0 {
		return fail("per-order limits must not be negative")
	}
	if tt.MaxPerOrder > 0 && tt.MinPerOrder > tt.MaxPerOrder {
		return fail("min_per_order %d exceeds max_per_order %d", tt.MinPerOrder, tt.MaxPerOrder)
	}
	if err := tt.BulkDiscounts.Validate(); err != nil {
		return fail("%v", err)
	}
	return models.TicketType{
		ID:            tt.ID,
		EventID:       eventID,
		Name:          tt.Name,
		UnitPrice:     price,
		Currency:      strings.ToUpper(tt.Currency),
		TotalStock:    tt.TotalStock,
		MinPerOrder:   tt.MinPerOrder,
		MaxPerOrder:   tt.MaxPerOrder,
		BulkDiscounts: tt.BulkDiscounts,
	}, nil
}

// Apply writes the catalog. Re-importing the same file is harmless: events
// keep their status and ticket types keep their sold count.
func Apply(ctx context.Context, c *Catalog, events EventStore, types TicketTypeStore, log *logger.Logger) (int, error) {
	defs, err := c.models()
	if err != nil {
		return 0, err
	}
	written := 0
	for _, def := range defs {
		if err := events.UpsertEvent(ctx, def.event); err != nil {
			return written, fmt.Errorf("failed to write event %s: %w", def.event.ID, err)
		}
		for _, tt := range def.types {
			if err := types.UpsertTicketType(ctx, tt); err != nil {
				return written, fmt.Errorf("failed to write ticket type %s: %w", tt.ID, err)
			}
			written++
		}
		log.LogDatabase("upsert", "events", fmt.Sprintf("%s with %d ticket types", def.event.ID, len(def.types)))
	}
	return written, nil
}
