//go:build cgo

package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/completion"
	"github.com/jmylchreest/vidgate/internal/media"
)

var initOnce sync.Once

// Init initializes GStreamer. It must be called once by the host before any
// GstRunner is created.
func Init() {
	initOnce.Do(func() {
		gst.Init(nil)
	})
}

// GstRunner runs `appsrc ! <description> ! appsink` on a GStreamer pipeline.
type GstRunner struct {
	opts     Options
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink

	feedMu sync.Mutex
	eos    atomic.Bool

	completion *completion.Signal
}

// GstFactory creates GstRunners.
func GstFactory(opts Options) (Runner, error) {
	return NewGstRunner(opts)
}

// NewGstRunner builds the pipeline and sets it playing.
func NewGstRunner(opts Options) (*GstRunner, error) {
	if err := validate(&opts); err != nil {
		return nil, err
	}

	launch := fmt.Sprintf("appsrc name=src format=time ! %s ! appsink name=sink sync=false", opts.Description)
	p, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("parsing pipeline %q: %w", launch, err)
	}

	r := &GstRunner{
		opts:       opts,
		pipeline:   p,
		completion: completion.NewSignal(),
	}

	srcElem, err := p.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("looking up appsrc: %w", err)
	}
	r.src = app.SrcFromElement(srcElem)
	if opts.InputCaps != "" {
		r.src.SetCaps(gst.NewCapsFromString(opts.InputCaps))
	}

	sinkElem, err := p.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("looking up appsink: %w", err)
	}
	r.sink = app.SinkFromElement(sinkElem)
	r.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: r.onNewSample,
	})

	if err := p.SetState(gst.StatePlaying); err != nil {
		r.completion.End()
		return nil, fmt.Errorf("starting pipeline: %w", err)
	}
	go r.watchBus()

	opts.Logger.Debug("gstreamer pipeline started", slog.String("pipeline", launch))
	return r, nil
}

// Feed pushes one buffer into appsrc.
func (r *GstRunner) Feed(s Sample) error {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()

	if r.eos.Load() || r.completion.IsCompleted() {
		return errNotAccepting("end of stream signaled")
	}

	buffer := gst.NewBufferWithSize(int64(len(s.Data)))
	if ts := s.Timestamp(); ts != media.NoTimestamp {
		buffer.SetPresentationTimestamp(gst.ClockTime(ts))
	}
	if s.Duration > 0 {
		buffer.SetDuration(gst.ClockTime(s.Duration))
	}
	buffer.Map(gst.MapWrite).WriteData(s.Data)
	buffer.Unmap()

	if flow := r.src.PushBuffer(buffer); flow != gst.FlowOK {
		return errNotAccepting(fmt.Sprintf("appsrc returned %v", flow))
	}
	return nil
}

// SignalEOS ends the appsrc stream.
func (r *GstRunner) SignalEOS() {
	if r.eos.Swap(true) {
		return
	}
	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	if r.src != nil {
		r.src.EndStream()
		return
	}
	r.pipeline.SendEvent(gst.NewEOSEvent())
}

func (r *GstRunner) WaitUntilCompleted(timeout time.Duration) bool {
	return r.completion.WaitUntilCompleted(timeout)
}

func (r *GstRunner) IsCompleted() bool {
	return r.completion.IsCompleted()
}

func (r *GstRunner) Status() error {
	return r.completion.Status()
}

func (r *GstRunner) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapped := buffer.Map(gst.MapRead).Bytes()
	data := make([]byte, len(mapped))
	copy(data, mapped)
	buffer.Unmap()

	out := Sample{
		Data:     data,
		PTS:      clockToDuration(buffer.PresentationTimestamp()),
		DTS:      media.NoTimestamp,
		Duration: clockToDuration(buffer.Duration()),
	}
	if caps := sample.GetCaps(); caps != nil {
		out.Caps = caps.String()
	}

	if err := r.opts.Receiver(out); err != nil {
		if err == ErrEndOfStream {
			return gst.FlowEOS
		}
		r.opts.Logger.Warn("pipeline receiver failed", slog.String("error", err.Error()))
		return gst.FlowError
	}
	return gst.FlowOK
}

func (r *GstRunner) watchBus() {
	bus := r.pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(gst.ClockTimeNone)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			r.finish(nil)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			r.opts.Logger.Error("gstreamer pipeline error",
				slog.String("error", gerr.Error()),
				slog.String("debug", gerr.DebugString()))
			r.finish(status.Error(codes.Internal, gerr.Error()))
			return
		}
	}
}

func (r *GstRunner) finish(err error) {
	r.eos.Store(true)
	if serr := r.pipeline.SetState(gst.StateNull); serr != nil {
		r.opts.Logger.Warn("stopping pipeline", slog.String("error", serr.Error()))
	}
	r.completion.SetStatus(err)
	r.completion.End()
}

func clockToDuration(t gst.ClockTime) time.Duration {
	if t == gst.ClockTimeNone {
		return media.NoTimestamp
	}
	return time.Duration(t)
}
