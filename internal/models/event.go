package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is the lifecycle aggregate. The four flags are independent; only
// cancellation dominates.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID              string `bun:"id,pk"`
	Title           string `bun:"title,notnull"`
	IsSoldOut       bool   `bun:"is_sold_out,notnull"`
	IsDoorSalesOnly bool   `bun:"is_door_sales_only,notnull"`
	IsPostponed     bool   `bun:"is_postponed,notnull"`
	IsCancelled     bool   `bun:"is_cancelled,notnull"`

	PostponedDate      *time.Time `bun:"postponed_date"`
	PostponedStartTime *string    `bun:"postponed_start_time"`
	PostponedDoorTime  *string    `bun:"postponed_door_time"`
	PostponedEndTime   *string    `bun:"postponed_end_time"`
	PostponedReason    *string    `bun:"postponed_reason"`

	CancelReason     *string    `bun:"cancel_reason"`
	CancellationID   *string    `bun:"cancellation_id"`
	CancelledAt      *time.Time `bun:"cancelled_at"`
	SweepCompletedAt *time.Time `bun:"sweep_completed_at"`

	Version   int64     `bun:"version,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// Postponement is the new schedule of a postponed event.
type Postponement struct {
	Date      *time.Time
	StartTime *string
	DoorTime  *string
	EndTime   *string
	Reason    *string
}

// DisplayStatus is the single label listings show. Cancellation wins over
// everything else.
func (e Event) DisplayStatus() string {
	switch {
	case e.IsCancelled:
		return "cancelled"
	case e.IsPostponed:
		return "postponed"
	case e.IsSoldOut:
		return "sold_out"
	case e.IsDoorSalesOnly:
		return "door_sales_only"
	default:
		return "on_sale"
	}
}

type EventStatusResponse struct {
	ID                 string  `json:"id"`
	Status             string  `json:"status"`
	IsSoldOut          bool    `json:"is_sold_out"`
	DoorSalesOnly      bool    `json:"door_sales_only"`
	IsPostponed        bool    `json:"is_postponed"`
	PostponedDate      *string `json:"postponed_date"`
	PostponedStartTime *string `json:"postponed_start_time"`
	PostponedDoorTime  *string `json:"postponed_door_time"`
	PostponedEndTime   *string `json:"postponed_end_time"`
	PostponedReason    *string `json:"postponed_reason"`
	IsCancelled        bool    `json:"is_cancelled"`
	CancelReason       *string `json:"cancel_reason"`
}

func (e Event) StatusResponse() EventStatusResponse {
	var date *string
	if e.PostponedDate != nil {
		formatted := e.PostponedDate.Format("2006-01-02")
		date = &formatted
	}
	return EventStatusResponse{
		ID:                 e.ID,
		Status:             e.DisplayStatus(),
		IsSoldOut:          e.IsSoldOut,
		DoorSalesOnly:      e.IsDoorSalesOnly,
		IsPostponed:        e.IsPostponed,
		PostponedDate:      date,
		PostponedStartTime: e.PostponedStartTime,
		PostponedDoorTime:  e.PostponedDoorTime,
		PostponedEndTime:   e.PostponedEndTime,
		PostponedReason:    e.PostponedReason,
		IsCancelled:        e.IsCancelled,
		CancelReason:       e.CancelReason,
	}
}
