// Package pricing selects the cheapest applicable bulk discount for a line of
// tickets. Everything here is pure: no storage, no clock, no network.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeQuantity  = errors.New("quantity must not be negative")
	ErrNegativeUnitPrice = errors.New("unit price must not be negative")
)

var hundred = decimal.NewFromInt(100)

// Quote is the priced result of one ticket-type line.
type Quote struct {
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
	Discount  decimal.Decimal `json:"discount"`
	// Rule is nil when no rule beat the naive total.
	Rule *BulkDiscountRule `json:"rule,omitempty"`
}

// RuleID returns the applied rule ID, or "" when no rule applied.
func (q Quote) RuleID() string {
	if q.Rule == nil {
		return ""
	}
	return q.Rule.ID
}

// Price computes the payable total for quantity units at unitPrice. Each rule
// is evaluated on its own and the lowest candidate wins; on an exact tie the
// rule declared first wins. Rules are assumed to be validated already.
func Price(quantity int, unitPrice decimal.Decimal, rules []BulkDiscountRule) (Quote, error) {
	if quantity < 0 {
		return Quote{}, fmt.Errorf("%w: %d", ErrNegativeQuantity, quantity)
	}
	if unitPrice.IsNegative() {
		return Quote{}, fmt.Errorf("%w: %s", ErrNegativeUnitPrice, unitPrice)
	}

	naive := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	quote := Quote{
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Subtotal:  round(naive),
		Total:     round(naive),
		Discount:  decimal.Zero,
	}
	if quantity == 0 {
		return quote, nil
	}

	best := naive
	bestIdx := -1
	for i, rule := range rules {
		candidate, ok := candidateTotal(rule.Discount, quantity, unitPrice)
		if !ok {
			continue
		}
		if candidate.LessThan(best) {
			best = candidate
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return quote, nil
	}

	applied := rules[bestIdx]
	if applied.ID == "" {
		applied.ID = fmt.Sprintf("rule-%d", bestIdx+1)
	}
	quote.Total = round(best)
	quote.Discount = quote.Subtotal.Sub(quote.Total)
	quote.Rule = &applied
	return quote, nil
}

// candidateTotal returns the line total under a single rule and whether the
// rule applies at this quantity.
func candidateTotal(d Discount, quantity int, unitPrice decimal.Decimal) (decimal.Decimal, bool) {
	qty := decimal.NewFromInt(int64(quantity))
	naive := unitPrice.Mul(qty)

	switch r := d.(type) {
	case BuyXGetY:
		if r.BuyQty <= 0 {
			return decimal.Zero, false
		}
		sets := quantity / r.BuyQty
		if sets == 0 {
			return decimal.Zero, false
		}
		paid := quantity - sets*r.GetQty
		if paid < 0 {
			paid = 0
		}
		return unitPrice.Mul(decimal.NewFromInt(int64(paid))), true
	case AmountOffPerTicket:
		if quantity < r.MinQty {
			return decimal.Zero, false
		}
		return floorZero(naive.Sub(qty.Mul(r.AmountOff))), true
	case PercentOff:
		if quantity < r.MinQty {
			return decimal.Zero, false
		}
		return floorZero(naive.Sub(naive.Mul(r.PercentOff).Div(hundred))), true
	default:
		return decimal.Zero, false
	}
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
