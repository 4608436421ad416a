package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-marketplace/internal/events"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	ordersdb "ms-marketplace/internal/orders/db"
	"ms-marketplace/internal/pricing"
	"ms-marketplace/internal/utils"

	"github.com/shopspring/decimal"
)

type OrderDBLayer interface {
	GetTicketTypes(ctx context.Context, eventID string, ids []string) ([]models.TicketType, error)
	ListTicketTypesByEvent(ctx context.Context, eventID string) ([]models.TicketType, error)
	PlaceOrder(ctx context.Context, order models.Order, claims []ordersdb.StockClaim, tickets []models.Ticket) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	RecordRefund(ctx context.Context, rec models.RefundRecord) (bool, error)
	GetRefund(ctx context.Context, orderID, refundKey string) (*models.RefundRecord, error)
	MarkIntentPublished(ctx context.Context, orderID, refundKey string) error
}

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type TicketLedger interface {
	ListByOrder(ctx context.Context, orderID string) ([]models.TicketView, error)
	RefundTicket(ctx context.Context, code string) (*models.Ticket, error)
}

type RefundPublisher interface {
	PublishRefundIntent(ctx context.Context, intent models.RefundIntent) error
}

type OrderService struct {
	DB        OrderDBLayer
	Events    EventReader
	Tickets   TicketLedger
	Publisher RefundPublisher
	Logger    *logger.Logger
	Now       func() time.Time
}

func NewOrderService(db OrderDBLayer, events EventReader, tickets TicketLedger, publisher RefundPublisher, log *logger.Logger) *OrderService {
	return &OrderService{
		DB:        db,
		Events:    events,
		Tickets:   tickets,
		Publisher: publisher,
		Logger:    log,
		Now:       time.Now,
	}
}

func (s *OrderService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// ---------------- CATALOG ----------------

func (s *OrderService) TicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error) {
	if _, err := s.Events.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.DB.ListTicketTypesByEvent(ctx, eventID)
}

// ---------------- QUOTES ----------------

// pricedCart is a validated cart: the ticket type of each item, in item order,
// and its price.
type pricedCart struct {
	types []models.TicketType
	quote pricing.CartQuote
}

func (s *OrderService) price(ctx context.Context, eventID string, items []models.OrderItem) (pricedCart, error) {
	if len(items) == 0 {
		return pricedCart{}, fmt.Errorf("%w: order has no items", models.ErrInvalidInput)
	}

	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.TicketTypeID == "" {
			return pricedCart{}, fmt.Errorf("%w: ticket_type_id is required", models.ErrInvalidInput)
		}
		if seen[item.TicketTypeID] {
			return pricedCart{}, fmt.Errorf("%w: ticket type %s listed twice", models.ErrInvalidInput, item.TicketTypeID)
		}
		seen[item.TicketTypeID] = true
		ids = append(ids, item.TicketTypeID)
	}

	found, err := s.DB.GetTicketTypes(ctx, eventID, ids)
	if err != nil {
		return pricedCart{}, fmt.Errorf("failed to load ticket types: %w", err)
	}
	byID := make(map[string]models.TicketType, len(found))
	for _, tt := range found {
		byID[tt.ID] = tt
	}

	cart := pricedCart{types: make([]models.TicketType, 0, len(items))}
	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		tt, ok := byID[item.TicketTypeID]
		if !ok {
			return pricedCart{}, fmt.Errorf("ticket type %s of event %s: %w", item.TicketTypeID, eventID, models.ErrNotFound)
		}
		if err := checkQuantity(tt, item); err != nil {
			return pricedCart{}, err
		}
		cart.types = append(cart.types, tt)
		lines = append(lines, pricing.Line{
			TicketTypeID: tt.ID,
			Currency:     tt.Currency,
			Quantity:     item.Quantity,
			UnitPrice:    tt.UnitPrice,
			Rules:        tt.BulkDiscounts,
		})
	}

	cart.quote, err = pricing.PriceCart(lines)
	if err != nil {
		return pricedCart{}, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return cart, nil
}

func checkQuantity(tt models.TicketType, item models.OrderItem) error {
	switch {
	case item.Quantity < 1:
		return fmt.Errorf("%w: quantity of %s must be at least 1", models.ErrInvalidInput, tt.Name)
	case tt.MinPerOrder > 0 && item.Quantity < tt.MinPerOrder:
		return fmt.Errorf("%w: %s requires at least %d per order", models.ErrInvalidInput, tt.Name, tt.MinPerOrder)
	case tt.MaxPerOrder > 0 && item.Quantity > tt.MaxPerOrder:
		return fmt.Errorf("%w: %s allows at most %d per order", models.ErrInvalidInput, tt.Name, tt.MaxPerOrder)
	case len(item.HolderNames) > item.Quantity:
		return fmt.Errorf("%w: more holder names than tickets for %s", models.ErrInvalidInput, tt.Name)
	}
	if remaining := tt.Remaining(); remaining >= 0 && item.Quantity > remaining {
		return fmt.Errorf("ticket type %s has %d left: %w", tt.ID, remaining, models.ErrInsufficientStock)
	}
	return nil
}

// Quote prices a cart without reserving anything.
func (s *OrderService) Quote(ctx context.Context, eventID string, items []models.OrderItem) (pricing.CartQuote, error) {
	cart, err := s.price(ctx, eventID, items)
	if err != nil {
		return pricing.CartQuote{}, err
	}
	return cart.quote, nil
}

// ---------------- ORDERS ----------------

// PlaceOrder sells the cart. Stock, order and tickets commit together or
// not at all.
func (s *OrderService) PlaceOrder(ctx context.Context, eventID string, req models.OrderRequest) (*models.OrderResponse, error) {
	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = models.ChannelOnline
	}
	if channel != models.ChannelOnline && channel != models.ChannelDoor {
		return nil, fmt.Errorf("%w: unknown channel %q", models.ErrInvalidInput, req.Channel)
	}

	event, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := events.SalesGate(*event, channel); err != nil {
		return nil, err
	}

	cart, err := s.price(ctx, eventID, req.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := models.Order{
		OrderID:        utils.GenerateID("ord"),
		EventID:        eventID,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		Channel:        channel,
		Status:         models.OrderCompleted,
		Currency:       cart.quote.Currency,
		Total:          cart.quote.Total,
		RefundedAmount: decimal.Zero,
		PaymentRef:     req.PaymentRef,
		CreatedAt:      now,
	}

	resp := &models.OrderResponse{
		OrderID:  order.OrderID,
		EventID:  eventID,
		Status:   order.Status,
		Currency: order.Currency,
		Total:    order.Total,
		Discount: cart.quote.Discount,
	}
	claims := make([]ordersdb.StockClaim, 0, len(req.Items))
	var tickets []models.Ticket
	for i, item := range req.Items {
		tt := cart.types[i]
		claims = append(claims, ordersdb.StockClaim{TicketTypeID: tt.ID, Quantity: item.Quantity})

		for k, price := range splitTotal(cart.quote.Lines[i].Total, item.Quantity) {
			code, err := utils.GenerateTicketCode()
			if err != nil {
				return nil, err
			}
			holder := req.CustomerName
			if k < len(item.HolderNames) && strings.TrimSpace(item.HolderNames[k]) != "" {
				holder = strings.TrimSpace(item.HolderNames[k])
			}
			tickets = append(tickets, models.Ticket{
				TicketID:        utils.GenerateID("tkt"),
				Code:            code,
				OrderID:         order.OrderID,
				EventID:         eventID,
				TicketTypeID:    tt.ID,
				State:           models.TicketIssued,
				HolderName:      holder,
				TicketTypeName:  tt.Name,
				EventTitle:      event.Title,
				PriceAtPurchase: price,
				IssuedAt:        now,
			})
			resp.Tickets = append(resp.Tickets, models.OrderTicket{
				Code:       code,
				TicketType: tt.Name,
				HolderName: holder,
				Price:      price,
			})
		}
	}

	if err := s.DB.PlaceOrder(ctx, order, claims, tickets); err != nil {
		return nil, err
	}

	s.Logger.LogOrder("placed", order.OrderID, fmt.Sprintf("%d tickets, %s %s via %s",
		len(tickets), order.Total.StringFixed(2), order.Currency, channel))
	return resp, nil
}

// splitTotal spreads a line total over its tickets so the prices sum to the
// total exactly. The remainder of the division lands on the last ticket.
func splitTotal(total decimal.Decimal, quantity int) []decimal.Decimal {
	prices := make([]decimal.Decimal, quantity)
	if quantity == 0 {
		return prices
	}
	base := total.Div(decimal.NewFromInt(int64(quantity))).Truncate(2)
	for i := range prices {
		prices[i] = base
	}
	prices[quantity-1] = total.Sub(base.Mul(decimal.NewFromInt(int64(quantity - 1))))
	return prices
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.TicketView, error) {
	order, err := s.DB.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	tickets, err := s.Tickets.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, tickets, nil
}

// ---------------- REFUNDS ----------------

// RefundTicket refunds one Issued ticket at its purchase price. Repeating the
// call for a ticket already refunded returns the existing record.
func (s *OrderService) RefundTicket(ctx context.Context, code string) (*models.RefundRecord, error) {
	ticket, err := s.Tickets.RefundTicket(ctx, code)
	if err != nil {
		// A crash between the ticket swap and the refund record leaves a
		// Refunded ticket without a record; finish it.
		if !errors.Is(err, models.ErrInvariantViolation) || ticket == nil || ticket.State != models.TicketRefunded {
			return nil, err
		}
	}

	order, err := s.DB.GetOrder(ctx, ticket.OrderID)
	if err != nil {
		return nil, err
	}

	key := models.TicketRefundKey(ticket.Code)
	inserted, err := s.DB.RecordRefund(ctx, models.RefundRecord{
		OrderID:            order.OrderID,
		RefundKey:          key,
		EventID:            ticket.EventID,
		Amount:             ticket.PriceAtPurchase,
		Currency:           order.Currency,
		TicketsInvalidated: 1,
		CreatedAt:          s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record refund of ticket: %w", err)
	}
	if inserted {
		s.Logger.LogOrder("refund", order.OrderID, fmt.Sprintf("ticket refund %s %s", ticket.PriceAtPurchase.StringFixed(2), order.Currency))
	}

	rec, err := s.DB.GetRefund(ctx, order.OrderID, key)
	if err != nil {
		return nil, err
	}
	if !rec.IntentPublished && s.Publisher != nil {
		if err := s.Publisher.PublishRefundIntent(ctx, rec.Intent(order.PaymentRef)); err != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("Refund intent for order %s stays in the outbox: %v", order.OrderID, err))
			return rec, nil
		}
		if err := s.DB.MarkIntentPublished(ctx, rec.OrderID, rec.RefundKey); err != nil {
			return nil, err
		}
		rec.IntentPublished = true
	}
	return rec, nil
}
