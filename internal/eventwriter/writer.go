// Package eventwriter holds the sinks for motion events: MPEG-TS clip files,
// an in-memory recorder and a wrapper that runs hooks around another writer.
package eventwriter

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/media"
)

// Writer receives motion events.
type Writer interface {
	StartEvent(ctx context.Context) (string, error)
	Push(ctx context.Context, eventID string, p media.Packet) error
	EndEvent(ctx context.Context, eventID string) error
}

// Clip describes a finished event.
type Clip struct {
	ID        string
	Stream    string
	StartedAt time.Time
	EndedAt   time.Time
	Frames    int
	Bytes     int64
	// Path is the absolute clip file, empty for writers that keep no file.
	Path string
}

// ClipWriter is a Writer that reports what it produced for each event.
type ClipWriter interface {
	Writer
	EndClip(ctx context.Context, eventID string) (Clip, error)
}

// NewEventID returns a new time-ordered event ID.
func NewEventID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

func errUnknownEvent(id string) error {
	return status.Errorf(codes.NotFound, "unknown event %q", id)
}
