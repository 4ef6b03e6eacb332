package models

import "time"

// MotionEventStatus is the lifecycle state of a catalogued event.
type MotionEventStatus string

const (
	MotionEventActive   MotionEventStatus = "active"
	MotionEventComplete MotionEventStatus = "complete"
)

// MotionEvent is one recorded motion event. The ID is the event ID handed
// out by the event writer so rows, clip files and notifications share it.
type MotionEvent struct {
	BaseModel
	Stream    string            `gorm:"not null;size:255;index:idx_motion_events_stream_started,priority:1" json:"stream"`
	Status    MotionEventStatus `gorm:"not null;size:16;default:'active'" json:"status"`
	StartedAt time.Time         `gorm:"not null;index:idx_motion_events_stream_started,priority:2" json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Frames    int               `gorm:"not null;default:0" json:"frames"`
	Bytes     int64             `gorm:"not null;default:0" json:"bytes"`
	// ClipPath is the local clip file, empty when clips are not kept on disk.
	ClipPath string `gorm:"size:1024" json:"clip_path,omitempty"`
	// ObjectKey is the uploaded clip object in the configured bucket.
	ObjectKey string `gorm:"size:1024" json:"object_key,omitempty"`
}

// TableName returns the table name for motion events.
func (MotionEvent) TableName() string {
	return "motion_events"
}

// Duration returns the event length, zero while the event is active.
func (e *MotionEvent) Duration() time.Duration {
	if e.EndedAt == nil {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// Validate checks the event fields.
func (e *MotionEvent) Validate() error {
	if e.Stream == "" {
		return ErrValidation{Field: "stream", Message: ErrStreamRequired.Error()}
	}
	if e.EndedAt != nil && e.EndedAt.Before(e.StartedAt) {
		return ErrValidation{Field: "ended_at", Message: ErrEndBeforeStart.Error()}
	}
	switch e.Status {
	case "", MotionEventActive, MotionEventComplete:
	default:
		return ErrValidation{Field: "status", Message: "must be active or complete"}
	}
	return nil
}
