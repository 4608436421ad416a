// Package payment executes refund intents against Stripe.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// RefundAPI is the Stripe refunds resource.
type RefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type RefundExecutor struct {
	Refunds RefundAPI
	Logger  *logger.Logger
}

func NewRefundExecutor(secretKey string, log *logger.Logger) (*RefundExecutor, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}
	sc := client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &RefundExecutor{Refunds: sc.Refunds, Logger: log}, nil
}

// zeroDecimal lists currencies Stripe charges in whole units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true,
	"mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true,
	"xof": true, "xpf": true,
}

// MinorUnits converts an amount to the integer unit Stripe expects.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// Execute refunds one intent. The Stripe idempotency key is derived from
// the intent, so redelivery never refunds twice. Intents without a payment
// reference were paid outside Stripe and are only logged.
func (e *RefundExecutor) Execute(ctx context.Context, intent models.RefundIntent) error {
	if intent.PaymentRef == "" {
		e.Logger.Info("STRIPE", fmt.Sprintf("Order %s has no payment reference; refund of %s %s settled offline",
			intent.OrderID, intent.Amount.StringFixed(2), intent.Currency))
		return nil
	}
	if !intent.Amount.IsPositive() {
		e.Logger.Warn("STRIPE", fmt.Sprintf("Skipping non-positive refund for order %s", intent.OrderID))
		return nil
	}

	params := &stripe.RefundParams{
		Amount: stripe.Int64(MinorUnits(intent.Amount, intent.Currency)),
		Reason: stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if strings.HasPrefix(intent.PaymentRef, "ch_") {
		params.Charge = stripe.String(intent.PaymentRef)
	} else {
		params.PaymentIntent = stripe.String(intent.PaymentRef)
	}
	params.Context = ctx
	params.SetIdempotencyKey(intent.IdempotencyKey())
	params.AddMetadata("order_id", intent.OrderID)
	params.AddMetadata("event_id", intent.EventID)
	params.AddMetadata("refund_key", intent.RefundKey)

	refund, err := e.Refunds.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded {
			e.Logger.Warn("STRIPE", fmt.Sprintf("Payment of order %s is already fully refunded", intent.OrderID))
			return nil
		}
		return fmt.Errorf("stripe refund for order %s: %w", intent.OrderID, err)
	}

	e.Logger.Info("STRIPE", fmt.Sprintf("Refund %s created for order %s (%s)", refund.ID, intent.OrderID, refund.Status))
	return nil
}
