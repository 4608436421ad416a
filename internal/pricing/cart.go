package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrMixedCurrency = errors.New("cart lines use different currencies")

// Line is one ticket type in a cart.
type Line struct {
	TicketTypeID string
	Currency     string
	Quantity     int
	UnitPrice    decimal.Decimal
	Rules        []BulkDiscountRule
}

type LineQuote struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quote
}

// CartQuote sums independent line quotes. There is no cross-line discount.
type CartQuote struct {
	Currency string          `json:"currency"`
	Lines    []LineQuote     `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

func PriceCart(lines []Line) (CartQuote, error) {
	cart := CartQuote{
		Lines:    make([]LineQuote, 0, len(lines)),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Total:    decimal.Zero,
	}
	for _, line := range lines {
		if cart.Currency == "" {
			cart.Currency = line.Currency
		} else if line.Currency != cart.Currency {
			return CartQuote{}, fmt.Errorf("%w: %s and %s", ErrMixedCurrency, cart.Currency, line.Currency)
		}

		quote, err := Price(line.Quantity, line.UnitPrice, line.Rules)
		if err != nil {
			return CartQuote{}, fmt.Errorf("ticket type %s: %w", line.TicketTypeID, err)
		}
		cart.Lines = append(cart.Lines, LineQuote{TicketTypeID: line.TicketTypeID, Quote: quote})
		cart.Subtotal = cart.Subtotal.Add(quote.Subtotal)
		cart.Discount = cart.Discount.Add(quote.Discount)
		cart.Total = cart.Total.Add(quote.Total)
	}
	return cart, nil
}
