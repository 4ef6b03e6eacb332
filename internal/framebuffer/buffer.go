// Package framebuffer keeps a window of recent encoded video frames, evicting
// only whole groups of pictures so the retained frames stay decodable.
package framebuffer

import (
	"log/slog"
	"slices"
	"time"

	"github.com/jmylchreest/vidgate/internal/media"
)

// TimedFrame is an encoded frame stamped with its absolute time.
type TimedFrame struct {
	Timestamp time.Time
	Packet    media.Packet
	KeyFrame  bool
}

// Buffer is an ordered buffer of TimedFrames. It is not safe for concurrent use.
type Buffer struct {
	frames             []TimedFrame
	numKeyFrames       int
	secondKeyFrameTime time.Time
	logger             *slog.Logger
}

// New creates an empty buffer.
func New(logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{logger: logger}
}

// Push appends f. Frames out of timestamp order are accepted with a warning.
func (b *Buffer) Push(f TimedFrame) {
	if n := len(b.frames); n > 0 && f.Timestamp.Before(b.frames[n-1].Timestamp) {
		b.logger.Warn("frame pushed out of timestamp order",
			slog.Time("timestamp", f.Timestamp),
			slog.Time("previous", b.frames[n-1].Timestamp))
	}
	b.frames = append(b.frames, f)
	if f.KeyFrame {
		b.numKeyFrames++
		if b.numKeyFrames >= 2 && b.secondKeyFrameTime.IsZero() {
			b.updateSecondKeyFrame()
		}
	}
}

// Pop removes and returns the front frame.
func (b *Buffer) Pop() (TimedFrame, bool) {
	if len(b.frames) == 0 {
		return TimedFrame{}, false
	}
	f := b.frames[0]
	b.frames = slices.Delete(b.frames, 0, 1)
	if f.KeyFrame {
		b.numKeyFrames--
		b.updateSecondKeyFrame()
	}
	return f, true
}

// Front returns the oldest frame without removing it.
func (b *Buffer) Front() (TimedFrame, bool) {
	if len(b.frames) == 0 {
		return TimedFrame{}, false
	}
	return b.frames[0], true
}

func (b *Buffer) Size() int { return len(b.frames) }

func (b *Buffer) Empty() bool { return len(b.frames) == 0 }

// Clear drops every frame.
func (b *Buffer) Clear() {
	b.frames = nil
	b.numKeyFrames = 0
	b.secondKeyFrameTime = time.Time{}
}

// NumKeyFrames is the number of buffered key frames.
func (b *Buffer) NumKeyFrames() int { return b.numKeyFrames }

// SecondKeyFrameTime is the timestamp of the second oldest key frame, or the
// zero time with fewer than two key frames.
func (b *Buffer) SecondKeyFrameTime() time.Time { return b.secondKeyFrameTime }

// UpdateLookBackWindow evicts complete GOPs from the front while the GOP that
// follows them starts at or before boundary. It returns the number of frames
// evicted.
func (b *Buffer) UpdateLookBackWindow(boundary time.Time) int {
	evicted := 0
	for b.numKeyFrames >= 2 && !b.secondKeyFrameTime.After(boundary) {
		idx := b.secondKeyFrameIndex()
		if idx <= 0 {
			break
		}
		b.frames = slices.Delete(b.frames, 0, idx)
		evicted += idx
		b.numKeyFrames--
		b.updateSecondKeyFrame()
	}
	return evicted
}

// Drain removes and returns every frame in order.
func (b *Buffer) Drain() []TimedFrame {
	out := b.frames
	b.Clear()
	return out
}

// secondKeyFrameIndex scans for the second key frame, -1 when there is none.
func (b *Buffer) secondKeyFrameIndex() int {
	seen := 0
	for i, f := range b.frames {
		if !f.KeyFrame {
			continue
		}
		seen++
		if seen == 2 {
			return i
		}
	}
	return -1
}

func (b *Buffer) updateSecondKeyFrame() {
	b.secondKeyFrameTime = time.Time{}
	if b.numKeyFrames < 2 {
		return
	}
	if idx := b.secondKeyFrameIndex(); idx >= 0 {
		b.secondKeyFrameTime = b.frames[idx].Timestamp
	}
}
