package eventwriter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/media"
	"github.com/jmylchreest/vidgate/internal/observability"
	"github.com/jmylchreest/vidgate/internal/queue"
)

// DefaultHookTimeout bounds a single hook invocation.
const DefaultHookTimeout = 30 * time.Second

// Event is what hooks see. EventEnded hooks run in registration order and
// may annotate the event for the hooks after them.
type Event struct {
	Clip
	// ObjectKey is the uploaded clip object, set by the upload hook.
	ObjectKey string
}

// Hook observes event boundaries.
type Hook interface {
	Name() string
	EventStarted(ctx context.Context, ev *Event) error
	EventEnded(ctx context.Context, ev *Event) error
}

type hookTask struct {
	ended bool
	event Event
}

// Hooked wraps a Writer and runs hooks for every started and ended event.
// Hooks run on a single background worker in event order so a slow upload
// never stalls frame processing. Hook errors are logged and counted, they
// do not fail the event.
type Hooked struct {
	inner   Writer
	stream  string
	hooks   []Hook
	logger  *slog.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu     sync.Mutex
	events map[string]*Event
	closed bool

	// tasks is unbounded so a stalled hook never blocks the frame path.
	tasks *queue.Queue[hookTask]
	done  chan struct{}
}

// HookedOption configures Hooked.
type HookedOption func(*Hooked)

func WithHookLogger(l *slog.Logger) HookedOption {
	return func(h *Hooked) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithHookMetrics(m *observability.Metrics) HookedOption {
	return func(h *Hooked) { h.metrics = m }
}

// WithHookTimeout bounds each hook call.
func WithHookTimeout(d time.Duration) HookedOption {
	return func(h *Hooked) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHooked wraps inner. Close must be called to flush pending hooks.
func NewHooked(inner Writer, stream string, hooks []Hook, opts ...HookedOption) *Hooked {
	h := &Hooked{
		inner:   inner,
		stream:  stream,
		hooks:   hooks,
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
		events:  make(map[string]*Event),
		tasks:   queue.New[hookTask](queue.Unbounded),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.work()
	return h
}

func (h *Hooked) StartEvent(ctx context.Context) (string, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", status.Error(codes.FailedPrecondition, "event writer closed")
	}
	id, err := h.inner.StartEvent(ctx)
	if err != nil {
		h.mu.Unlock()
		return "", err
	}
	ev := &Event{Clip: Clip{ID: id, Stream: h.stream, StartedAt: time.Now()}}
	h.events[id] = ev
	task := hookTask{event: *ev}
	h.mu.Unlock()

	h.tasks.Push(task)
	return id, nil
}

func (h *Hooked) Push(ctx context.Context, id string, p media.Packet) error {
	if err := h.inner.Push(ctx, id, p); err != nil {
		return err
	}
	h.mu.Lock()
	if ev, ok := h.events[id]; ok {
		ev.Frames++
		ev.Bytes += int64(len(p.Data))
	}
	h.mu.Unlock()
	return nil
}

func (h *Hooked) EndEvent(ctx context.Context, id string) error {
	var clip Clip
	var err error
	if cw, ok := h.inner.(ClipWriter); ok {
		clip, err = cw.EndClip(ctx, id)
	} else {
		err = h.inner.EndEvent(ctx, id)
	}

	h.mu.Lock()
	ev, ok := h.events[id]
	delete(h.events, id)
	closed := h.closed
	h.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		return errUnknownEvent(id)
	}
	if clip.ID != "" {
		ev.Clip = clip
	} else {
		ev.EndedAt = time.Now()
	}
	if closed {
		h.logger.Warn("event ended after close, skipping hooks",
			slog.String("event_id", id))
		return nil
	}
	h.tasks.Push(hookTask{ended: true, event: *ev})
	return nil
}

// Close stops accepting events and waits for queued hooks, at most until
// ctx is done.
func (h *Hooked) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.tasks.Close()

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hooked) work() {
	defer close(h.done)
	for {
		task, ok := h.tasks.Pop()
		if !ok {
			return
		}
		ev := task.event
		for _, hook := range h.hooks {
			h.run(hook, task.ended, &ev)
		}
	}
}

func (h *Hooked) run(hook Hook, ended bool, ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var err error
	if ended {
		err = hook.EventEnded(ctx, ev)
	} else {
		err = hook.EventStarted(ctx, ev)
	}
	if err != nil {
		h.metrics.HookFailed(hook.Name())
		h.logger.Warn("event hook failed",
			slog.String("hook", hook.Name()),
			slog.String("event_id", ev.ID),
			slog.Bool("ended", ended),
			slog.String("error", err.Error()))
	}
}
