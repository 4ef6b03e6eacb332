package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/vidgate/internal/completion"
)

// Transform turns one input sample into zero or more outputs.
type Transform func(Sample) ([]Sample, error)

// Passthrough emits every input unchanged.
func Passthrough(s Sample) ([]Sample, error) {
	return []Sample{s}, nil
}

// DefaultLocalBufferSize is the input buffer of a LocalRunner.
const DefaultLocalBufferSize = 64

type localItem struct {
	sample Sample
	eos    bool
}

// LocalRunner runs a Transform on a single worker goroutine, so the receiver
// is naturally single-flight.
type LocalRunner struct {
	opts      Options
	transform Transform

	feedMu sync.Mutex
	items  chan localItem
	eos    atomic.Bool
	done   chan struct{}

	completion *completion.Signal
}

// NewLocalRunner starts a runner applying transform to every fed sample.
func NewLocalRunner(opts Options, transform Transform, bufferSize int) (*LocalRunner, error) {
	if err := validate(&opts); err != nil {
		return nil, err
	}
	if transform == nil {
		transform = Passthrough
	}
	if bufferSize <= 0 {
		bufferSize = DefaultLocalBufferSize
	}

	r := &LocalRunner{
		opts:       opts,
		transform:  transform,
		items:      make(chan localItem, bufferSize),
		done:       make(chan struct{}),
		completion: completion.NewSignal(),
	}
	go r.run()
	return r, nil
}

// LocalFactory returns a Factory creating LocalRunners with transform.
func LocalFactory(transform Transform) Factory {
	return func(opts Options) (Runner, error) {
		return NewLocalRunner(opts, transform, DefaultLocalBufferSize)
	}
}

// Feed queues a sample for the worker.
func (r *LocalRunner) Feed(s Sample) error {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()

	if r.eos.Load() {
		return errNotAccepting("end of stream signaled")
	}
	select {
	case r.items <- localItem{sample: s}:
		return nil
	case <-r.done:
		return errNotAccepting("pipeline completed")
	}
}

// SignalEOS queues an end-of-stream marker behind the already fed samples.
func (r *LocalRunner) SignalEOS() {
	if r.eos.Swap(true) {
		return
	}
	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	select {
	case r.items <- localItem{eos: true}:
	case <-r.done:
	}
}

// WaitUntilCompleted waits for the worker to finish.
func (r *LocalRunner) WaitUntilCompleted(timeout time.Duration) bool {
	return r.completion.WaitUntilCompleted(timeout)
}

// IsCompleted reports whether the worker has finished.
func (r *LocalRunner) IsCompleted() bool {
	return r.completion.IsCompleted()
}

// Status returns the terminal status.
func (r *LocalRunner) Status() error {
	return r.completion.Status()
}

func (r *LocalRunner) run() {
	var err error
	defer func() {
		r.eos.Store(true)
		r.completion.SetStatus(err)
		r.completion.End()
		close(r.done)
	}()

	for item := range r.items {
		if item.eos {
			return
		}
		if err = r.process(item.sample); err != nil {
			if errors.Is(err, ErrEndOfStream) {
				r.opts.Logger.Debug("receiver requested end of stream")
				err = nil
			} else {
				r.opts.Logger.Warn("local pipeline stopped",
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (r *LocalRunner) process(in Sample) error {
	outs, err := r.transform(in)
	if err != nil {
		return fmt.Errorf("transforming sample: %w", err)
	}
	for _, out := range outs {
		if err := r.opts.Receiver(out); err != nil {
			return err
		}
	}
	return nil
}
