// Package repository holds the data access layer of the event catalog.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/vidgate/internal/models"
)

// MotionEventRepository defines operations for motion event persistence.
type MotionEventRepository interface {
	// Create inserts an event.
	Create(ctx context.Context, event *models.MotionEvent) error
	// GetByID returns the event or nil when it does not exist.
	GetByID(ctx context.Context, id models.ULID) (*models.MotionEvent, error)
	// Complete marks the event complete. It inserts the row when the start
	// was never recorded.
	Complete(ctx context.Context, event *models.MotionEvent) error
	// ListByStream returns the newest events of a stream that started at or
	// after since, at most limit rows (0 for no limit).
	ListByStream(ctx context.Context, stream string, since time.Time, limit int) ([]*models.MotionEvent, error)
	// CloseStale completes the active events of a stream left behind by an
	// earlier run and returns how many were changed.
	CloseStale(ctx context.Context, stream string, endedAt time.Time) (int64, error)
}
