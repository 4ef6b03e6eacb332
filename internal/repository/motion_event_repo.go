package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/vidgate/internal/models"
)

// motionEventRepo implements MotionEventRepository using GORM.
type motionEventRepo struct {
	db *gorm.DB
}

// NewMotionEventRepository creates a new MotionEventRepository.
func NewMotionEventRepository(db *gorm.DB) *motionEventRepo {
	return &motionEventRepo{db: db}
}

func (r *motionEventRepo) Create(ctx context.Context, event *models.MotionEvent) error {
	if event.Status == "" {
		event.Status = models.MotionEventActive
	}
	if err := event.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("creating motion event: %w", err)
	}
	return nil
}

func (r *motionEventRepo) GetByID(ctx context.Context, id models.ULID) (*models.MotionEvent, error) {
	var event models.MotionEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting motion event by ID: %w", err)
	}
	return &event, nil
}

func (r *motionEventRepo) Complete(ctx context.Context, event *models.MotionEvent) error {
	event.Status = models.MotionEventComplete
	if err := event.Validate(); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "ended_at", "frames", "bytes", "clip_path", "object_key", "updated_at",
		}),
	}).Create(event).Error
	if err != nil {
		return fmt.Errorf("completing motion event %s: %w", event.ID, err)
	}
	return nil
}

func (r *motionEventRepo) ListByStream(ctx context.Context, stream string, since time.Time, limit int) ([]*models.MotionEvent, error) {
	var events []*models.MotionEvent
	q := r.db.WithContext(ctx).
		Where("stream = ? AND started_at >= ?", stream, since).
		Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing motion events: %w", err)
	}
	return events, nil
}

func (r *motionEventRepo) CloseStale(ctx context.Context, stream string, endedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.MotionEvent{}).
		Where("stream = ? AND status = ?", stream, models.MotionEventActive).
		Updates(map[string]any{
			"status":   models.MotionEventComplete,
			"ended_at": endedAt,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("closing stale motion events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
