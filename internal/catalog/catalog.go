// Package catalog records motion events in the event database.
package catalog

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vidgate/internal/eventwriter"
	"github.com/jmylchreest/vidgate/internal/models"
	"github.com/jmylchreest/vidgate/internal/repository"
)

// Hook writes a motion_events row when an event starts and completes it
// when the event ends.
type Hook struct {
	repo repository.MotionEventRepository
}

var _ eventwriter.Hook = (*Hook)(nil)

// NewHook creates a catalog hook.
func NewHook(repo repository.MotionEventRepository) *Hook {
	return &Hook{repo: repo}
}

func (h *Hook) Name() string { return "catalog" }

func (h *Hook) EventStarted(ctx context.Context, ev *eventwriter.Event) error {
	id, err := models.ParseULID(ev.ID)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}
	return h.repo.Create(ctx, &models.MotionEvent{
		BaseModel: models.BaseModel{ID: id},
		Stream:    ev.Stream,
		Status:    models.MotionEventActive,
		StartedAt: ev.StartedAt.UTC(),
	})
}

func (h *Hook) EventEnded(ctx context.Context, ev *eventwriter.Event) error {
	id, err := models.ParseULID(ev.ID)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.ID, err)
	}
	ended := ev.EndedAt.UTC()
	return h.repo.Complete(ctx, &models.MotionEvent{
		BaseModel: models.BaseModel{ID: id},
		Stream:    ev.Stream,
		StartedAt: ev.StartedAt.UTC(),
		EndedAt:   &ended,
		Frames:    ev.Frames,
		Bytes:     ev.Bytes,
		ClipPath:  ev.Path,
		ObjectKey: ev.ObjectKey,
	})
}
