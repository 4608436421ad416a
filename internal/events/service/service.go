package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-marketplace/internal/events"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxRetries   = 5
	defaultSweepWorkers = 8
)

type EventDBLayer interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	UpdateEvent(ctx context.Context, event models.Event, expectedVersion int64) error
	CompleteSweep(ctx context.Context, eventID string, at time.Time) error
	ListPendingSweeps(ctx context.Context) ([]models.Event, error)
}

type OrderDBLayer interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByEvent(ctx context.Context, eventID string) ([]models.Order, error)
}

// RefundStore is the idempotency ledger and outbox for refunds.
type RefundStore interface {
	RecordRefund(ctx context.Context, rec models.RefundRecord) (bool, error)
	GetRefund(ctx context.Context, orderID, refundKey string) (*models.RefundRecord, error)
	ListRefundsByKey(ctx context.Context, eventID, refundKey string) ([]models.RefundRecord, error)
	ListUnpublishedRefunds(ctx context.Context, limit int) ([]models.RefundRecord, error)
	MarkIntentPublished(ctx context.Context, orderID, refundKey string) error
}

// TicketInvalidator is the ledger surface the sweep may use.
type TicketInvalidator interface {
	TicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
	Invalidate(ctx context.Context, code string) (bool, error)
}

type RefundPublisher interface {
	PublishRefundIntent(ctx context.Context, intent models.RefundIntent) error
}

type SweepLock interface {
	TryLock(ctx context.Context, eventID string) (string, bool, error)
	Unlock(ctx context.Context, eventID, token string) error
}

// LifecycleService persists event transitions and runs the cancellation
// sweep. Publisher and Lock are optional.
type LifecycleService struct {
	Events       EventDBLayer
	Orders       OrderDBLayer
	Refunds      RefundStore
	Tickets      TicketInvalidator
	Publisher    RefundPublisher
	Lock         SweepLock
	Logger       *logger.Logger
	SweepWorkers int
	MaxRetries   int
	Now          func() time.Time
}

func NewLifecycleService(eventsDB EventDBLayer, orders OrderDBLayer, refunds RefundStore, tickets TicketInvalidator, log *logger.Logger) *LifecycleService {
	return &LifecycleService{
		Events:       eventsDB,
		Orders:       orders,
		Refunds:      refunds,
		Tickets:      tickets,
		Logger:       log,
		SweepWorkers: defaultSweepWorkers,
		MaxRetries:   defaultMaxRetries,
		Now:          time.Now,
	}
}

func (s *LifecycleService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *LifecycleService) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return s.Events.GetEvent(ctx, id)
}

// mutate loads the event, applies fn and writes the result under the
// optimistic version, retrying lost races.
func (s *LifecycleService) mutate(ctx context.Context, eventID string, fn func(models.Event) (models.Event, error)) (models.Event, error) {
	retries := s.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	for attempt := 0; attempt < retries; attempt++ {
		current, err := s.Events.GetEvent(ctx, eventID)
		if err != nil {
			return models.Event{}, err
		}
		next, err := fn(*current)
		if err != nil {
			return models.Event{}, err
		}
		err = s.Events.UpdateEvent(ctx, next, current.Version)
		if errors.Is(err, models.ErrTransientConflict) {
			continue
		}
		if err != nil {
			return models.Event{}, fmt.Errorf("failed to update event %s: %w", eventID, err)
		}
		next.Version = current.Version + 1
		return next, nil
	}
	return models.Event{}, fmt.Errorf("event %s update gave up after %d attempts: %w", eventID, retries, models.ErrTransientConflict)
}

// UpdateStatus applies a partial flag update. Cancelled events reject it.
func (s *LifecycleService) UpdateStatus(ctx context.Context, eventID string, patch events.StatusPatch) (models.Event, error) {
	event, err := s.mutate(ctx, eventID, func(e models.Event) (models.Event, error) {
		return events.ApplyStatus(e, patch)
	})
	if err != nil {
		return models.Event{}, err
	}
	s.Logger.LogLifecycle("status", eventID, event.DisplayStatus())
	return event, nil
}

func (s *LifecycleService) SetSoldOut(ctx context.Context, eventID string, soldOut bool) (models.Event, error) {
	return s.UpdateStatus(ctx, eventID, events.StatusPatch{IsSoldOut: &soldOut})
}

func (s *LifecycleService) SetDoorSalesOnly(ctx context.Context, eventID string, doorOnly bool) (models.Event, error) {
	return s.UpdateStatus(ctx, eventID, events.StatusPatch{DoorSalesOnly: &doorOnly})
}

func (s *LifecycleService) Postpone(ctx context.Context, eventID string, p models.Postponement) (models.Event, error) {
	postponed := true
	return s.UpdateStatus(ctx, eventID, events.StatusPatch{IsPostponed: &postponed, Postponement: p})
}

// Cancel commits the cancellation flag first, so check-ins are refused from
// that moment, then sweeps every order of the event.
func (s *LifecycleService) Cancel(ctx context.Context, eventID, reason string) (models.CancellationResult, error) {
	cancellationID := utils.GenerateID("can")
	event, err := s.mutate(ctx, eventID, func(e models.Event) (models.Event, error) {
		return events.Cancel(e, reason, cancellationID, s.now())
	})
	if err != nil {
		return models.CancellationResult{}, err
	}
	s.Logger.LogLifecycle("cancel", eventID, fmt.Sprintf("cancelled (%s): %s", cancellationID, *event.CancelReason))

	return s.sweep(ctx, event)
}

// ResumeCancellation re-runs the sweep of a cancelled event. Orders already
// refunded under its cancellation id are not refunded again.
func (s *LifecycleService) ResumeCancellation(ctx context.Context, eventID string) (models.CancellationResult, error) {
	event, err := s.Events.GetEvent(ctx, eventID)
	if err != nil {
		return models.CancellationResult{}, err
	}
	if !event.IsCancelled || event.CancellationID == nil {
		return models.CancellationResult{}, fmt.Errorf("%w: event %s is not cancelled", models.ErrInvalidInput, eventID)
	}
	s.Logger.LogLifecycle("resume", eventID, "resuming cancellation sweep")
	return s.sweep(ctx, *event)
}

// ResumePendingSweeps finishes every sweep a crash left behind. It returns
// how many sweeps ran to completion.
func (s *LifecycleService) ResumePendingSweeps(ctx context.Context) (int, error) {
	pending, err := s.Events.ListPendingSweeps(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending sweeps: %w", err)
	}
	done := 0
	var errs []error
	for _, e := range pending {
		result, err := s.sweep(ctx, e)
		if err != nil {
			s.Logger.Error("SWEEP", fmt.Sprintf("Resume of event %s failed: %v", e.ID, err))
			errs = append(errs, err)
			continue
		}
		if result.Completed {
			done++
		}
	}
	return done, errors.Join(errs...)
}

func (s *LifecycleService) sweep(ctx context.Context, event models.Event) (models.CancellationResult, error) {
	cancellationID := *event.CancellationID
	result := models.CancellationResult{
		EventID:        event.ID,
		CancellationID: cancellationID,
		TotalRefunded:  decimal.Zero,
	}

	if s.Lock != nil {
		token, ok, err := s.Lock.TryLock(ctx, event.ID)
		if err != nil {
			return result, err
		}
		if !ok {
			return result, fmt.Errorf("sweep of event %s is already running: %w", event.ID, models.ErrTransientConflict)
		}
		defer func() {
			if err := s.Lock.Unlock(context.WithoutCancel(ctx), event.ID, token); err != nil {
				s.Logger.Warn("SWEEP", fmt.Sprintf("Failed to release sweep lock of %s: %v", event.ID, err))
			}
		}()
	}

	orders, err := s.Orders.ListOrdersByEvent(ctx, event.ID)
	if err != nil {
		return result, fmt.Errorf("failed to list orders of event %s: %w", event.ID, err)
	}

	workers := s.SweepWorkers
	if workers <= 0 {
		workers = defaultSweepWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, order := range orders {
		order := order
		g.Go(func() error {
			return s.sweepOrder(gctx, event, cancellationID, order)
		})
	}
	if err := g.Wait(); err != nil {
		s.Logger.Error("SWEEP", fmt.Sprintf("Sweep of event %s stopped: %v", event.ID, err))
		return result, err
	}

	records, err := s.Refunds.ListRefundsByKey(ctx, event.ID, cancellationID)
	if err != nil {
		return result, fmt.Errorf("failed to read refunds of %s: %w", cancellationID, err)
	}
	for _, rec := range records {
		if rec.TicketsInvalidated == 0 {
			continue
		}
		result.OrdersRefunded++
		result.TicketsInvalidated += rec.TicketsInvalidated
		result.TotalRefunded = result.TotalRefunded.Add(rec.Amount)
	}

	if err := s.Events.CompleteSweep(ctx, event.ID, s.now()); err != nil {
		return result, fmt.Errorf("failed to mark sweep complete: %w", err)
	}
	result.Completed = true

	s.Logger.LogLifecycle("sweep", event.ID, fmt.Sprintf("%d orders refunded, %d tickets invalidated, %s total",
		result.OrdersRefunded, result.TicketsInvalidated, result.TotalRefunded.StringFixed(2)))
	return result, nil
}

// sweepOrder invalidates the Issued tickets of one order and records its
// refund. The refund covers every ticket of the order now in Invalidated
// state, so a sweep interrupted midway computes the same amount on resume.
func (s *LifecycleService) sweepOrder(ctx context.Context, event models.Event, cancellationID string, order models.Order) error {
	tickets, err := s.Tickets.TicketsByOrder(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("failed to list tickets of order %s: %w", order.OrderID, err)
	}

	invalidated := 0
	amount := decimal.Zero
	for _, t := range tickets {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch t.State {
		case models.TicketIssued:
			changed, err := s.Tickets.Invalidate(ctx, t.Code)
			if err != nil {
				return fmt.Errorf("failed to invalidate ticket of order %s: %w", order.OrderID, err)
			}
			if !changed {
				// Lost to a concurrent transition; only cancellation produces
				// Invalidated, so anything else stays out of the refund.
				continue
			}
		case models.TicketInvalidated:
		default:
			continue
		}
		invalidated++
		amount = amount.Add(t.PriceAtPurchase)
	}

	if invalidated == 0 {
		return nil
	}

	rec := models.RefundRecord{
		OrderID:            order.OrderID,
		RefundKey:          cancellationID,
		EventID:            event.ID,
		Amount:             amount,
		Currency:           order.Currency,
		TicketsInvalidated: invalidated,
		CreatedAt:          s.now(),
	}
	inserted, err := s.Refunds.RecordRefund(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to record refund of order %s: %w", order.OrderID, err)
	}
	if inserted {
		s.Logger.LogOrder("refund", order.OrderID, fmt.Sprintf("%s %s for %d tickets", amount.StringFixed(2), order.Currency, invalidated))
	}

	stored, err := s.Refunds.GetRefund(ctx, order.OrderID, cancellationID)
	if err != nil {
		return err
	}
	return s.publish(ctx, *stored, order.PaymentRef)
}

func (s *LifecycleService) publish(ctx context.Context, rec models.RefundRecord, paymentRef string) error {
	if rec.IntentPublished {
		return nil
	}
	if s.Publisher == nil {
		s.Logger.Warn("SWEEP", fmt.Sprintf("No refund publisher; intent for order %s stays in the outbox", rec.OrderID))
		return nil
	}
	if err := s.Publisher.PublishRefundIntent(ctx, rec.Intent(paymentRef)); err != nil {
		// The row stays in the outbox; RelayOutbox picks it up later.
		s.Logger.Error("SWEEP", fmt.Sprintf("Failed to publish refund intent for order %s: %v", rec.OrderID, err))
		return nil
	}
	return s.Refunds.MarkIntentPublished(ctx, rec.OrderID, rec.RefundKey)
}

// RelayOutbox publishes refund intents that were recorded but never reached
// the broker. It returns how many were published.
func (s *LifecycleService) RelayOutbox(ctx context.Context, batch int) (int, error) {
	if s.Publisher == nil {
		return 0, nil
	}
	pending, err := s.Refunds.ListUnpublishedRefunds(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to read refund outbox: %w", err)
	}
	published := 0
	for _, rec := range pending {
		order, err := s.Orders.GetOrder(ctx, rec.OrderID)
		if err != nil {
			return published, err
		}
		if err := s.Publisher.PublishRefundIntent(ctx, rec.Intent(order.PaymentRef)); err != nil {
			return published, fmt.Errorf("failed to publish refund intent for order %s: %w", rec.OrderID, err)
		}
		if err := s.Refunds.MarkIntentPublished(ctx, rec.OrderID, rec.RefundKey); err != nil {
			return published, err
		}
		published++
	}
	if published > 0 {
		s.Logger.LogKafka("relay", "refund-intents", fmt.Sprintf("%d pending intents published", published))
	}
	return published, nil
}
