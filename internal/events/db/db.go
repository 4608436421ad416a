package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-marketplace/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun bun.IDB
}

func (d *DB) CreateEvent(ctx context.Context, event models.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := d.Bun.NewInsert().Model(&event).Exec(ctx)
	return err
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// UpdateEvent writes the status columns if the row still has
// expectedVersion, and bumps the version. A lost race returns
// models.ErrTransientConflict.
func (d *DB) UpdateEvent(ctx context.Context, event models.Event, expectedVersion int64) error {
	event.Version = expectedVersion + 1
	res, err := d.Bun.NewUpdate().
		Model(&event).
		Column(
			"is_sold_out", "is_door_sales_only", "is_postponed", "is_cancelled",
			"postponed_date", "postponed_start_time", "postponed_door_time", "postponed_end_time", "postponed_reason",
			"cancel_reason", "cancellation_id", "cancelled_at", "sweep_completed_at", "version",
		).
		Where("id = ?", event.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrTransientConflict
	}
	return nil
}

// CompleteSweep stamps sweep_completed_at on a cancelled event.
func (d *DB) CompleteSweep(ctx context.Context, eventID string, at time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Event)(nil)).
		Set("sweep_completed_at = ?", at).
		Where("id = ?", eventID).
		Where("is_cancelled = ?", true).
		Exec(ctx)
	return err
}

// ListPendingSweeps → cancelled events whose sweep never finished
func (d *DB) ListPendingSweeps(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := d.Bun.NewSelect().
		Model(&events).
		Where("is_cancelled = ?", true).
		Where("sweep_completed_at IS NULL").
		OrderExpr("cancelled_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// UpsertEvent creates the event or refreshes its title. Status columns are
// never touched; they change only through lifecycle transitions.
func (d *DB) UpsertEvent(ctx context.Context, event models.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := d.Bun.NewInsert().
		Model(&event).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Exec(ctx)
	return err
}
