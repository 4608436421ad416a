package catalog_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"ms-marketplace/internal/catalog"
	"ms-marketplace/internal/database"
	eventsdb "ms-marketplace/internal/events/db"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	ordersdb "ms-marketplace/internal/orders/db"
	"ms-marketplace/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const festival = `
events:
  - id: evt-fest
    title: Harbour Festival
    ticket_types:
      - id: fest-ga
        name: General Admission
        unit_price: "45.00"
        currency: eur
        total_stock: 1000
        min_per_order: 1
        max_per_order: 10
        bulk_discounts:
          - rule_type: buy_x_get_y
            buy_qty: 4
            get_qty: 1
          - id: crew
            rule_type: buy_x_percent_off
            min_qty: 8
            percent_off: "15"
      - id: fest-vip
        name: VIP
        unit_price: "120"
        currency: EUR
`

func TestParse(t *testing.T) {
	c, err := catalog.Parse(strings.NewReader(festival))
	require.NoError(t, err)
	require.Len(t, c.Events, 1)
	require.Len(t, c.Events[0].TicketTypes, 2)

	ga := c.Events[0].TicketTypes[0]
	require.Len(t, ga.BulkDiscounts, 2)
	assert.Equal(t, pricing.BuyXGetY{BuyQty: 4, GetQty: 1}, ga.BulkDiscounts[0].Discount)
	assert.Equal(t, "crew", ga.BulkDiscounts[1].ID)
}

func TestParse_RejectsMisconfiguration(t *testing.T) {
	cases := map[string]string{
		"pathological buy x get y": `
events:
  - id: e
    title: T
    ticket_types:
      - {id: a, name: A, unit_price: "10", currency: EUR, bulk_discounts: [{rule_type: buy_x_get_y, buy_qty: 2, get_qty: 2}]}
`,
		"negative price": `
events:
  - id: e
    title: T
    ticket_types:
      - {id: a, name: A, unit_price: "-1", currency: EUR}
`,
		"min above max": `
events:
  - id: e
    title: T
    ticket_types:
      - {id: a, name: A, unit_price: "10", currency: EUR, min_per_order: 5, max_per_order: 2}
`,
		"duplicate ticket type": `
events:
  - id: e
    title: T
    ticket_types:
      - {id: a, name: A, unit_price: "10", currency: EUR}
      - {id: a, name: B, unit_price: "10", currency: EUR}
`,
		"unknown field": `
events:
  - id: e
    title: T
    venue: Docks
`,
		"missing title": `
events:
  - id: e
`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := catalog.Parse(strings.NewReader(raw))
			assert.ErrorIs(t, err, models.ErrInvariantViolation)
		})
	}
}

func TestApply_IsRepeatable(t *testing.T) {
	ctx := context.Background()
	bunDB, err := database.NewTestDB(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	eventStore := &eventsdb.DB{Bun: bunDB}
	typeStore := &ordersdb.DB{Bun: bunDB}
	log := logger.NewLoggerWithWriter(io.Discard)

	c, err := catalog.Parse(strings.NewReader(festival))
	require.NoError(t, err)
	n, err := catalog.Apply(ctx, c, eventStore, typeStore, log)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A status change and a sale must survive a re-import.
	event, err := eventStore.GetEvent(ctx, "evt-fest")
	require.NoError(t, err)
	event.IsSoldOut = true
	require.NoError(t, eventStore.UpdateEvent(ctx, *event, event.Version))
	_, err = bunDB.NewUpdate().Model((*models.TicketType)(nil)).Set("sold_count = 3").Where("id = ?", "fest-ga").Exec(ctx)
	require.NoError(t, err)

	_, err = catalog.Apply(ctx, c, eventStore, typeStore, log)
	require.NoError(t, err)

	event, err = eventStore.GetEvent(ctx, "evt-fest")
	require.NoError(t, err)
	assert.True(t, event.IsSoldOut)
	assert.Equal(t, "Harbour Festival", event.Title)

	types, err := typeStore.ListTicketTypesByEvent(ctx, "evt-fest")
	require.NoError(t, err)
	require.Len(t, types, 2)
	for _, tt := range types {
		if tt.ID == "fest-ga" {
			assert.Equal(t, 3, tt.SoldCount)
			assert.Equal(t, "EUR", tt.Currency)
			assert.True(t, tt.UnitPrice.Equal(decimal.NewFromInt(45)))
			require.Len(t, tt.BulkDiscounts, 2)
			assert.Equal(t, "rule-1", tt.BulkDiscounts[0].ID)
		}
	}
}
