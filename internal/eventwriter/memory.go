package eventwriter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/vidgate/internal/media"
)

// RecordedEvent is an event captured by Memory.
type RecordedEvent struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Frames    []media.Packet
	Ended     bool
}

// Memory records events in process. It backs dry runs and tests.
type Memory struct {
	stream string
	now    func() time.Time

	mu     sync.Mutex
	order  []string
	events map[string]*RecordedEvent
}

// NewMemory creates an in-memory writer.
func NewMemory(stream string) *Memory {
	return &Memory{
		stream: stream,
		now:    time.Now,
		events: make(map[string]*RecordedEvent),
	}
}

func (m *Memory) StartEvent(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	id := NewEventID(now)
	m.events[id] = &RecordedEvent{ID: id, StartedAt: now}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) Push(_ context.Context, id string, p media.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return errUnknownEvent(id)
	}
	if ev.Ended {
		return fmt.Errorf("event %s already ended", id)
	}
	ev.Frames = append(ev.Frames, p)
	return nil
}

func (m *Memory) EndEvent(ctx context.Context, id string) error {
	_, err := m.EndClip(ctx, id)
	return err
}

// EndClip ends the event and describes it. Memory clips have no path.
func (m *Memory) EndClip(_ context.Context, id string) (Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return Clip{}, errUnknownEvent(id)
	}
	if ev.Ended {
		return Clip{}, fmt.Errorf("event %s already ended", id)
	}
	ev.Ended = true
	ev.EndedAt = m.now()

	var size int64
	for _, p := range ev.Frames {
		size += int64(len(p.Data))
	}
	return Clip{
		ID:        id,
		Stream:    m.stream,
		StartedAt: ev.StartedAt,
		EndedAt:   ev.EndedAt,
		Frames:    len(ev.Frames),
		Bytes:     size,
	}, nil
}

// Events returns copies of the recorded events in start order.
func (m *Memory) Events() []RecordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedEvent, 0, len(m.order))
	for _, id := range m.order {
		ev := *m.events[id]
		ev.Frames = append([]media.Packet(nil), ev.Frames...)
		out = append(out, ev)
	}
	return out
}
