// Package motionfilter turns a stream of encoded H.264 frames into motion
// events. Frames are decoded to motion vectors asynchronously, classified,
// and written to an EventWriter with a lookback window of preceding frames,
// a minimum event length after the last motion and an optional cooldown.
package motionfilter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/asyncmedia"
	"github.com/jmylchreest/vidgate/internal/framebuffer"
	"github.com/jmylchreest/vidgate/internal/media"
	"github.com/jmylchreest/vidgate/internal/motion"
	"github.com/jmylchreest/vidgate/internal/observability"
	"github.com/jmylchreest/vidgate/internal/pipeline"
)

// EventWriter receives motion events. Pushes within one event arrive in
// stream order.
type EventWriter interface {
	StartEvent(ctx context.Context) (string, error)
	Push(ctx context.Context, eventID string, p media.Packet) error
	EndEvent(ctx context.Context, eventID string) error
}

// FrameSource yields encoded frames.
type FrameSource interface {
	// Next returns the next frame. It returns io.EOF at the end of input and
	// a codes.DeadlineExceeded status when no frame arrives within timeout.
	Next(ctx context.Context, timeout time.Duration) (media.Packet, error)
}

// Option configures a Filter.
type Option func(*Filter)

func WithLogger(l *slog.Logger) Option {
	return func(f *Filter) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClassifierFactory replaces the grid classifier.
func WithClassifierFactory(fn motion.ClassifierFactory) Option {
	return func(f *Filter) {
		if fn != nil {
			f.classifierFactory = fn
		}
	}
}

// WithDecoderOptions passes options to the motion decoder adapter.
func WithDecoderOptions(opts ...asyncmedia.Option) Option {
	return func(f *Filter) { f.decoderOpts = append(f.decoderOpts, opts...) }
}

// WithClock sets the wall clock anchoring stream timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) {
		if now != nil {
			f.now = now
		}
	}
}

func WithMetrics(m *observability.StreamMetrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// Filter is the motion event state machine. All event state is owned by the
// decoder callback, which never runs concurrently with itself.
type Filter struct {
	writer            EventWriter
	opts              Options
	logger            *slog.Logger
	classifierFactory motion.ClassifierFactory
	decoderOpts       []asyncmedia.Option
	now               func() time.Time
	metrics           *observability.StreamMetrics

	decoder *asyncmedia.MotionDecoder[framebuffer.TimedFrame]

	// Set by Run before the first frame is fed.
	runCtx      context.Context
	initialized bool
	base        time.Time
	firstDTS    time.Duration
	classifier  motion.Classifier

	buffer            *framebuffer.Buffer
	consecutiveMotion int
	latestMotionTime  time.Time
	coolDownUntil     time.Time
	eventActive       bool
	eventID           string

	mu          sync.Mutex
	callbackErr error
	stopLoop    context.CancelFunc

	started   atomic.Bool
	finished  atomic.Bool
	cancelled atomic.Bool

	totalFiltered atomic.Int64
	eventsStarted atomic.Int64
	framesPushed  atomic.Int64
	active        atomic.Bool
}

// New creates a filter writing events to writer.
func New(writer EventWriter, opts Options, options ...Option) (*Filter, error) {
	if writer == nil {
		return nil, status.Error(codes.InvalidArgument, "motion filter needs an event writer")
	}
	f := &Filter{
		writer:            writer,
		logger:            slog.Default(),
		classifierFactory: motion.GridClassifierFactory,
		now:               time.Now,
	}
	for _, opt := range options {
		opt(f)
	}
	f.opts = opts.Normalize(f.logger)
	f.buffer = framebuffer.New(f.logger)

	decoderOpts := []asyncmedia.Option{asyncmedia.WithLogger(f.logger)}
	if f.metrics != nil {
		decoderOpts = append(decoderOpts, asyncmedia.WithDropHook(f.metrics.OutputDropped))
	}
	decoderOpts = append(decoderOpts, f.decoderOpts...)
	dec, err := asyncmedia.NewMotionDecoder(f.onVectors, decoderOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating motion decoder: %w", err)
	}
	f.decoder = dec
	return f, nil
}

// Run consumes src until it ends, the filter is cancelled or an error occurs.
// An event still open at the end of the stream is closed. Run may be called
// once.
func (f *Filter) Run(ctx context.Context, src FrameSource) error {
	if f.started.Swap(true) {
		return status.Error(codes.FailedPrecondition, "motion filter has already run")
	}
	defer f.finished.Store(true)

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	f.mu.Lock()
	f.stopLoop = stop
	f.mu.Unlock()
	if f.cancelled.Load() {
		stop()
	}

	f.runCtx = ctx
	runErr := f.loop(ctx, loopCtx, src)
	return f.finish(ctx, runErr)
}

func (f *Filter) loop(ctx, loopCtx context.Context, src FrameSource) error {
	for !f.cancelled.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.callbackError() != nil {
			return nil
		}

		pkt, err := src.Next(loopCtx, f.opts.Timeout)
		if f.cancelled.Load() {
			return nil
		}
		if errors.Is(err, io.EOF) {
			f.logger.Debug("end of input stream")
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.DeadlineExceeded {
				return status.Errorf(codes.DeadlineExceeded, "no frame received within %s", f.opts.Timeout)
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		if !f.initialized {
			if err := f.initInternal(pkt); err != nil {
				return err
			}
		}

		frame := framebuffer.TimedFrame{
			Timestamp: f.timestampOf(pkt),
			Packet:    pkt,
			KeyFrame:  pkt.KeyFrame,
		}
		if err := f.decoder.Feed(pipeline.SampleFromPacket(pkt), frame); err != nil {
			if status.Code(err) == codes.ResourceExhausted && (f.cancelled.Load() || f.callbackError() != nil) {
				return nil
			}
			return fmt.Errorf("feeding motion decoder: %w", err)
		}
	}
	return nil
}

func (f *Filter) initInternal(first media.Packet) error {
	width, height, err := media.ParseCaps(first.Caps).Resolution()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "first frame: %v", err)
	}
	classifier, err := f.classifierFactory(width, height, f.opts.ClassifierConfig())
	if err != nil {
		return status.Errorf(codes.FailedPrecondition, "creating motion classifier: %v", err)
	}

	f.classifier = classifier
	f.base = f.now()
	f.firstDTS = first.DecodeTime()
	if f.firstDTS == media.NoTimestamp {
		f.firstDTS = 0
	}
	f.initialized = true

	f.logger.Info("motion filter initialized",
		slog.Int("width", width),
		slog.Int("height", height),
		slog.Int("spatial_grid_number", f.opts.SpatialGridNumber),
		slog.String("sensitivity", string(f.opts.Sensitivity)),
		slog.Int("min_frames_trigger_motion", f.opts.MinFramesTriggerMotion),
		slog.Duration("min_event_length", f.opts.MinEventLength),
		slog.Duration("cool_down_period", f.opts.CoolDownPeriod),
		slog.Duration("lookback_window", f.opts.LookbackWindow))
	return nil
}

func (f *Filter) timestampOf(p media.Packet) time.Time {
	dts := p.DecodeTime()
	if dts == media.NoTimestamp {
		return f.now()
	}
	return f.base.Add(dts - f.firstDTS)
}

func (f *Filter) finish(ctx context.Context, runErr error) error {
	f.decoder.SignalEOS()
	drained := f.decoder.WaitUntilCompleted(f.opts.Timeout)
	if !drained {
		f.logger.Warn("motion decoder did not drain", slog.Duration("timeout", f.opts.Timeout))
	}
	f.decoder.Close()
	if !drained {
		drained = f.decoder.WaitUntilCompleted(time.Second)
	}

	var closeErr error
	if drained && f.eventActive {
		closeErr = f.endEvent(context.WithoutCancel(ctx))
	} else if f.active.Load() {
		f.logger.Warn("leaving event open, decoder still running")
	}

	switch {
	case runErr != nil:
		return runErr
	case f.callbackError() != nil:
		return f.callbackError()
	case closeErr != nil:
		return closeErr
	}
	if err := f.decoder.Status(); err != nil {
		return fmt.Errorf("motion decoder: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Cancel stops the run loop after the current frame. Frames already fed are
// still classified. It has no effect once Run has returned.
func (f *Filter) Cancel() {
	if f.finished.Load() || f.cancelled.Swap(true) {
		return
	}
	f.logger.Info("motion filter cancelled")
	f.mu.Lock()
	stop := f.stopLoop
	f.mu.Unlock()
	if stop != nil {
		stop()
	}
	f.decoder.SignalEOS()
}

func (f *Filter) onVectors(vectors []motion.Vector, frame framebuffer.TimedFrame, convErr error) error {
	if convErr != nil {
		f.logger.Warn("motion vectors unavailable, treating frame as still",
			slog.Time("timestamp", frame.Timestamp),
			slog.String("error", convErr.Error()))
		vectors = nil
	}
	start := time.Now()
	err := f.runInternal(f.runCtx, frame, vectors)
	f.metrics.FrameProcessed(time.Since(start))
	if err != nil {
		f.mu.Lock()
		if f.callbackErr == nil {
			f.callbackErr = err
		}
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *Filter) callbackError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbackErr
}

// runInternal advances the state machine by one classified frame.
func (f *Filter) runInternal(ctx context.Context, frame framebuffer.TimedFrame, vectors []motion.Vector) error {
	if f.classifier.DetectMotion(vectors) {
		f.consecutiveMotion++
		if f.consecutiveMotion >= f.opts.MinFramesTriggerMotion {
			f.latestMotionTime = frame.Timestamp
		}
	} else {
		f.consecutiveMotion = 0
	}

	// Events only close on key frames; the key frame goes to the closing
	// event so the clip ends on a decodable boundary.
	if frame.KeyFrame && f.eventActive && f.latestMotionTime.Add(f.opts.MinEventLength).Before(frame.Timestamp) {
		if err := f.push(ctx, frame); err != nil {
			return err
		}
		if err := f.endEvent(ctx); err != nil {
			return err
		}
		if until := frame.Timestamp.Add(f.opts.CoolDownPeriod); until.After(f.coolDownUntil) {
			f.coolDownUntil = until
		}
	}

	f.buffer.Push(frame)
	before, _ := f.buffer.Front()
	if f.buffer.UpdateLookBackWindow(frame.Timestamp.Add(-f.opts.LookbackWindow)) > 0 {
		after, _ := f.buffer.Front()
		filtered := after.Timestamp.Sub(before.Timestamp)
		f.totalFiltered.Add(int64(filtered))
		f.metrics.Filtered(filtered)
	}

	if frame.Timestamp.Before(f.coolDownUntil) {
		return nil
	}

	starting := f.consecutiveMotion == f.opts.MinFramesTriggerMotion
	switch {
	case f.eventActive:
		if n := f.buffer.Size(); n != 1 {
			f.logger.Debug("unexpected frames buffered during event", slog.Int("frames", n))
		}
		return f.drain(ctx)
	case starting:
		id, err := f.writer.StartEvent(ctx)
		if err != nil {
			return fmt.Errorf("starting event: %w", err)
		}
		f.eventID = id
		f.eventActive = true
		f.active.Store(true)
		f.eventsStarted.Add(1)
		f.metrics.EventStarted()
		f.logger.Info("motion event started",
			slog.String("event_id", id),
			slog.Time("timestamp", frame.Timestamp),
			slog.Int("lookback_frames", f.buffer.Size()))
		return f.drain(ctx)
	}
	return nil
}

func (f *Filter) drain(ctx context.Context) error {
	for _, fr := range f.buffer.Drain() {
		if err := f.push(ctx, fr); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filter) push(ctx context.Context, frame framebuffer.TimedFrame) error {
	if err := f.writer.Push(ctx, f.eventID, frame.Packet); err != nil {
		return fmt.Errorf("pushing frame to event %s: %w", f.eventID, err)
	}
	f.framesPushed.Add(1)
	f.metrics.FramePushed()
	return nil
}

func (f *Filter) endEvent(ctx context.Context) error {
	id := f.eventID
	f.eventActive = false
	f.active.Store(false)
	f.eventID = ""
	f.metrics.EventEnded()
	if err := f.writer.EndEvent(ctx, id); err != nil {
		return fmt.Errorf("ending event %s: %w", id, err)
	}
	f.logger.Info("motion event ended", slog.String("event_id", id))
	return nil
}

// TotalFilteredTime is the stream time evicted from the lookback buffer.
func (f *Filter) TotalFilteredTime() time.Duration {
	return time.Duration(f.totalFiltered.Load())
}

// EventsStarted is the number of events opened so far.
func (f *Filter) EventsStarted() int {
	return int(f.eventsStarted.Load())
}

// FramesPushed is the number of frames written to events so far.
func (f *Filter) FramesPushed() int {
	return int(f.framesPushed.Load())
}

// Active reports whether an event is currently open.
func (f *Filter) Active() bool {
	return f.active.Load()
}
