// Package events holds the event status transitions. Every function takes the
// aggregate by value and returns the next state; persistence lives in
// events/service.
package events

import (
	"fmt"
	"strings"
	"time"

	"ms-marketplace/internal/models"
)

const DefaultCancelReason = "Event cancelled by organizer"

// StatusPatch is a partial status update. Nil fields are left alone.
type StatusPatch struct {
	IsSoldOut     *bool
	DoorSalesOnly *bool
	IsPostponed   *bool
	Postponement  models.Postponement
}

func (p StatusPatch) Empty() bool {
	return p.IsSoldOut == nil && p.DoorSalesOnly == nil && p.IsPostponed == nil
}

func guardLive(e models.Event) error {
	if e.IsCancelled {
		return fmt.Errorf("event %s: %w", e.ID, models.ErrEventCancelled)
	}
	return nil
}

func SetSoldOut(e models.Event, soldOut bool) (models.Event, error) {
	if err := guardLive(e); err != nil {
		return e, err
	}
	e.IsSoldOut = soldOut
	return e, nil
}

func SetDoorSalesOnly(e models.Event, doorOnly bool) (models.Event, error) {
	if err := guardLive(e); err != nil {
		return e, err
	}
	e.IsDoorSalesOnly = doorOnly
	return e, nil
}

// Postpone replaces the postponement detail wholesale. Tickets stay valid.
func Postpone(e models.Event, p models.Postponement) (models.Event, error) {
	if err := guardLive(e); err != nil {
		return e, err
	}
	e.IsPostponed = true
	if p.Date != nil {
		d := p.Date.UTC()
		e.PostponedDate = &d
	} else {
		e.PostponedDate = nil
	}
	e.PostponedStartTime = p.StartTime
	e.PostponedDoorTime = p.DoorTime
	e.PostponedEndTime = p.EndTime
	e.PostponedReason = p.Reason
	return e, nil
}

// ClearPostponement lifts the postponement and forgets its detail.
func ClearPostponement(e models.Event) (models.Event, error) {
	if err := guardLive(e); err != nil {
		return e, err
	}
	e.IsPostponed = false
	e.PostponedDate = nil
	e.PostponedStartTime = nil
	e.PostponedDoorTime = nil
	e.PostponedEndTime = nil
	e.PostponedReason = nil
	return e, nil
}

// ApplyStatus folds a patch into the event in a fixed order.
func ApplyStatus(e models.Event, p StatusPatch) (models.Event, error) {
	if err := guardLive(e); err != nil {
		return e, err
	}
	var err error
	if p.IsSoldOut != nil {
		if e, err = SetSoldOut(e, *p.IsSoldOut); err != nil {
			return e, err
		}
	}
	if p.DoorSalesOnly != nil {
		if e, err = SetDoorSalesOnly(e, *p.DoorSalesOnly); err != nil {
			return e, err
		}
	}
	if p.IsPostponed != nil {
		if *p.IsPostponed {
			e, err = Postpone(e, p.Postponement)
		} else {
			e, err = ClearPostponement(e)
		}
	}
	return e, err
}

// Cancel is terminal. It stamps the cancellation id the refund sweep uses as
// its idempotency key.
func Cancel(e models.Event, reason, cancellationID string, at time.Time) (models.Event, error) {
	if e.IsCancelled {
		return e, fmt.Errorf("event %s: %w", e.ID, models.ErrEventAlreadyCancelled)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultCancelReason
	}
	cancelledAt := at.UTC()
	e.IsCancelled = true
	e.CancelReason = &reason
	e.CancellationID = &cancellationID
	e.CancelledAt = &cancelledAt
	e.SweepCompletedAt = nil
	return e, nil
}

// CompleteSweep marks the cancellation sweep as done.
func CompleteSweep(e models.Event, at time.Time) models.Event {
	done := at.UTC()
	e.SweepCompletedAt = &done
	return e
}

// SweepPending reports whether a cancellation still has work outstanding.
func SweepPending(e models.Event) bool {
	return e.IsCancelled && e.SweepCompletedAt == nil
}

// SalesGate decides whether a sale through channel may proceed.
func SalesGate(e models.Event, channel string) error {
	switch {
	case e.IsCancelled:
		return fmt.Errorf("event %s: %w", e.ID, models.ErrEventCancelled)
	case e.IsSoldOut:
		return fmt.Errorf("event %s is sold out: %w", e.ID, models.ErrSalesClosed)
	case e.IsDoorSalesOnly && channel != models.ChannelDoor:
		return fmt.Errorf("event %s sells at the door only: %w", e.ID, models.ErrSalesClosed)
	}
	return nil
}
