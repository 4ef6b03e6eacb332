// Package asyncmedia bridges callers that feed media samples one at a time
// with pipelines that deliver outputs asynchronously. Each fed input carries
// caller data that is handed back, in feed order, together with its output.
package asyncmedia

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/media"
	"github.com/jmylchreest/vidgate/internal/pipeline"
	"github.com/jmylchreest/vidgate/internal/queue"
)

// Callback receives one output, the data fed with its input and the error of
// converting the pipeline sample to O. Returning a codes.Canceled status ends
// the stream; any other error fails it.
type Callback[O, A any] func(out O, data A, convErr error) error

// Converter turns a pipeline output sample into the adapter output type.
type Converter[O any] func(pipeline.Sample) (O, error)

// Adapter pairs a lazily created pipeline runner with a queue of associated
// data. Feed may be called from any goroutine; the callback is never invoked
// concurrently with itself.
type Adapter[A, O any] struct {
	kind        string
	description string
	convert     Converter[O]
	callback    Callback[O, A]
	cfg         settings
	logger      *slog.Logger

	feedMu   sync.Mutex
	runnerMu sync.RWMutex
	runner   pipeline.Runner
	eos      atomic.Bool
	data     *queue.Queue[A]

	// Output window, touched only by the single-flight receiver.
	windowStart time.Duration
	windowSet   bool
}

func newAdapter[A, O any](kind, description string, convert Converter[O], callback Callback[O, A], cfg settings) (*Adapter[A, O], error) {
	if callback == nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: callback is required", kind)
	}
	if cfg.outputPeriod < 0 {
		return nil, status.Errorf(codes.InvalidArgument, "%s: output period must not be negative, got %s", kind, cfg.outputPeriod)
	}
	if cfg.feedTimeout < 0 {
		cfg.feedTimeout = 0
	}
	return &Adapter[A, O]{
		kind:        kind,
		description: description,
		convert:     convert,
		callback:    callback,
		cfg:         cfg,
		logger:      cfg.logger.With(slog.String("adapter", kind)),
		data:        queue.New[A](cfg.queueSize),
	}, nil
}

func errEOS(kind string) error {
	return status.Errorf(codes.ResourceExhausted, "%s: EOS reached", kind)
}

// Feed submits input with its associated data. The pipeline is created on the
// first call from the input caps.
func (a *Adapter[A, O]) Feed(input pipeline.Sample, data A) error {
	a.feedMu.Lock()
	defer a.feedMu.Unlock()

	if a.eos.Load() {
		return errEOS(a.kind)
	}

	r, err := a.ensureRunner(input.Caps)
	if err != nil {
		return err
	}
	// SignalEOS may have raced with the runner creation.
	if a.eos.Load() {
		r.SignalEOS()
		return errEOS(a.kind)
	}

	if err := r.Feed(input); err != nil {
		if status.Code(err) == codes.FailedPrecondition {
			a.logger.Debug("pipeline no longer accepts input, latching EOS",
				slog.String("error", err.Error()))
			a.eos.Store(true)
			return errEOS(a.kind)
		}
		return fmt.Errorf("%s: feeding pipeline: %w", a.kind, err)
	}

	if !a.data.TryPush(data, a.cfg.feedTimeout) {
		return status.Errorf(codes.DeadlineExceeded, "%s: no queue space within %s", a.kind, a.cfg.feedTimeout)
	}
	return nil
}

func (a *Adapter[A, O]) ensureRunner(caps string) (pipeline.Runner, error) {
	a.runnerMu.Lock()
	defer a.runnerMu.Unlock()
	if a.runner != nil {
		return a.runner, nil
	}
	r, err := a.cfg.factory(pipeline.Options{
		InputCaps:   caps,
		Description: a.description,
		Receiver:    a.receive,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "%s: initializing pipeline: %v", a.kind, err)
	}
	a.logger.Debug("pipeline created",
		slog.String("caps", caps),
		slog.String("description", a.description))
	a.runner = r
	return r, nil
}

func (a *Adapter[A, O]) currentRunner() pipeline.Runner {
	a.runnerMu.RLock()
	defer a.runnerMu.RUnlock()
	return a.runner
}

// SignalEOS ends the input stream. Later Feed calls fail with
// codes.ResourceExhausted.
func (a *Adapter[A, O]) SignalEOS() {
	if a.eos.Swap(true) {
		return
	}
	if r := a.currentRunner(); r != nil {
		r.SignalEOS()
	}
}

// EOS reports whether the end of stream has been reached or signaled.
func (a *Adapter[A, O]) EOS() bool {
	return a.eos.Load()
}

// WaitUntilCompleted waits for the pipeline to finish. It returns true
// immediately when no pipeline was ever created.
func (a *Adapter[A, O]) WaitUntilCompleted(timeout time.Duration) bool {
	r := a.currentRunner()
	if r == nil {
		return true
	}
	return r.WaitUntilCompleted(timeout)
}

// Status is the pipeline's terminal status, nil when none exists.
func (a *Adapter[A, O]) Status() error {
	if r := a.currentRunner(); r != nil {
		return r.Status()
	}
	return nil
}

// Close signals EOS, waits up to the grace period for the pipeline to drain
// and then releases any receiver still waiting for associated data.
func (a *Adapter[A, O]) Close() {
	a.SignalEOS()
	if !a.WaitUntilCompleted(a.cfg.closeGrace) {
		a.logger.Warn("pipeline did not complete within grace period",
			slog.Duration("grace_period", a.cfg.closeGrace),
			slog.Int("pending", a.data.Len()))
	}
	a.data.Close()
}

func (a *Adapter[A, O]) receive(s pipeline.Sample) error {
	data, ok := a.data.Pop()
	if !ok {
		a.logger.Error("associated data queue closed before output was delivered")
		return status.Errorf(codes.Internal, "%s: associated data queue closed", a.kind)
	}

	if a.cfg.outputPeriod > 0 && !a.admit(s.Timestamp()) {
		if a.cfg.onDrop != nil {
			a.cfg.onDrop()
		}
		return nil
	}

	var out O
	var convErr error
	if a.convert != nil {
		out, convErr = a.convert(s)
	}
	if err := a.callback(out, data, convErr); err != nil {
		if status.Code(err) == codes.Canceled {
			return pipeline.ErrEndOfStream
		}
		a.logger.Warn("callback failed", slog.String("error", err.Error()))
		return fmt.Errorf("%s: callback failed: %w", a.kind, err)
	}
	return nil
}

// admit applies the output window. Outputs before the window start are
// dropped; an admitted output moves the window start one period past the
// period containing it. Outputs without a timestamp are always admitted.
func (a *Adapter[A, O]) admit(t time.Duration) bool {
	if t == media.NoTimestamp {
		return true
	}
	p := a.cfg.outputPeriod
	if !a.windowSet {
		a.windowStart = t
		a.windowSet = true
	}
	if t < a.windowStart {
		return false
	}
	if t >= a.windowStart+p {
		a.windowStart += (t - a.windowStart) / p * p
	}
	a.windowStart += p
	return true
}
