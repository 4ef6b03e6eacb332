package motionfilter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/asyncmedia"
	"github.com/jmylchreest/vidgate/internal/media"
	"github.com/jmylchreest/vidgate/internal/motion"
	"github.com/jmylchreest/vidgate/internal/pipeline"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type recordedEvent struct {
	id     string
	frames []media.Packet
	ended  bool
}

type recordingWriter struct {
	mu       sync.Mutex
	events   []*recordedEvent
	startErr error
}

func (w *recordingWriter) StartEvent(context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return "", w.startErr
	}
	ev := &recordedEvent{id: fmt.Sprintf("event-%d", len(w.events))}
	w.events = append(w.events, ev)
	return ev.id, nil
}

func (w *recordingWriter) find(id string) (*recordedEvent, error) {
	for _, ev := range w.events {
		if ev.id == id {
			return ev, nil
		}
	}
	return nil, fmt.Errorf("no event %q", id)
}

func (w *recordingWriter) Push(_ context.Context, id string, p media.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ev, err := w.find(id)
	if err != nil {
		return err
	}
	if ev.ended {
		return fmt.Errorf("event %q already ended", id)
	}
	ev.frames = append(ev.frames, p)
	return nil
}

func (w *recordingWriter) EndEvent(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ev, err := w.find(id)
	if err != nil {
		return err
	}
	ev.ended = true
	return nil
}

func (w *recordingWriter) snapshot() []recordedEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]recordedEvent, 0, len(w.events))
	for _, ev := range w.events {
		out = append(out, *ev)
	}
	return out
}

type sliceSource struct {
	frames []media.Packet
	next   int
}

func (s *sliceSource) Next(context.Context, time.Duration) (media.Packet, error) {
	if s.next >= len(s.frames) {
		return media.Packet{}, io.EOF
	}
	p := s.frames[s.next]
	s.next++
	return p, nil
}

type scriptedClassifier struct {
	script []bool
	calls  int
}

func (c *scriptedClassifier) DetectMotion([]motion.Vector) bool {
	defer func() { c.calls++ }()
	return c.calls < len(c.script) && c.script[c.calls]
}

type nullExtractor struct{}

func (nullExtractor) Extract(media.RawImage) ([]motion.Vector, error) { return nil, nil }

func grayFrames(s pipeline.Sample) ([]pipeline.Sample, error) {
	return []pipeline.Sample{{
		Data: make([]byte, 16*16),
		Caps: media.RawCaps(media.FormatGray8, 16, 16),
		PTS:  s.PTS,
		DTS:  s.DTS,
	}}, nil
}

// stream builds n frames spaced by step with a key frame every gop frames.
func stream(n int, step time.Duration, gop int) []media.Packet {
	out := make([]media.Packet, n)
	for i := range out {
		ts := time.Duration(i) * step
		out[i] = media.Packet{
			Data:     []byte{0, 0, 0, 1, byte(i)},
			PTS:      ts,
			DTS:      ts,
			Caps:     media.H264Caps(16, 16),
			KeyFrame: i%gop == 0,
		}
	}
	return out
}

func motionAt(n int, idx ...int) []bool {
	script := make([]bool, n)
	for _, i := range idx {
		script[i] = true
	}
	return script
}

func newTestFilter(t *testing.T, w EventWriter, opts Options, script []bool, extra ...Option) *Filter {
	t.Helper()
	classifier := &scriptedClassifier{script: script}
	options := append([]Option{
		WithClock(func() time.Time { return epoch }),
		WithClassifierFactory(func(int, int, motion.ClassifierConfig) (motion.Classifier, error) {
			return classifier, nil
		}),
		WithDecoderOptions(
			asyncmedia.WithRunnerFactory(pipeline.LocalFactory(grayFrames)),
			asyncmedia.WithVectorExtractor(nullExtractor{}),
		),
	}, extra...)
	f, err := New(w, opts, options...)
	require.NoError(t, err)
	return f
}

func TestFilter_TooFewMotionFramesOpensNoEvent(t *testing.T) {
	w := &recordingWriter{}
	opts := DefaultOptions()
	opts.MinFramesTriggerMotion = 100
	f := newTestFilter(t, w, opts, motionAt(5, 0, 1, 2, 3, 4))

	require.NoError(t, f.Run(context.Background(), &sliceSource{frames: stream(5, 40*time.Millisecond, 5)}))

	assert.Empty(t, w.snapshot())
	assert.Zero(t, f.EventsStarted())
	assert.Zero(t, f.FramesPushed())
	assert.False(t, f.Active())
}

func TestFilter_SingleFrameTriggerPushesEveryFrame(t *testing.T) {
	w := &recordingWriter{}
	opts := DefaultOptions()
	opts.MinFramesTriggerMotion = 1
	input := stream(6, 40*time.Millisecond, 6)
	f := newTestFilter(t, w, opts, motionAt(6, 0, 1, 2, 3, 4, 5))

	require.NoError(t, f.Run(context.Background(), &sliceSource{frames: input}))

	events := w.snapshot()
	require.Len(t, events, 1)
	assert.True(t, events[0].ended)
	require.Len(t, events[0].frames, len(input))
	for i, p := range events[0].frames {
		assert.Equal(t, input[i].DTS, p.DTS)
		assert.Equal(t, input[i].Data, p.Data)
	}
	assert.Equal(t, 1, f.EventsStarted())
	assert.Equal(t, 6, f.FramesPushed())
	assert.False(t, f.Active())
}

func TestFilter_LongMotionStreakStartsOneEvent(t *testing.T) {
	w := &recordingWriter{}
	opts := DefaultOptions()
	opts.MinFramesTriggerMotion = 2
	f := newTestFilter(t, w, opts, motionAt(8, 0, 1, 2, 3, 4, 5, 6, 7))

	require.NoError(t, f.Run(context.Background(), &sliceSource{frames: stream(8, 40*time.Millisecond, 100)}))

	events := w.snapshot()
	require.Len(t, events, 1)
	assert.Len(t, events[0].frames, 8)
}

func TestFilter_LookbackKeepsWholeGOPs(t *testing.T) {
	w := &recordingWriter{}
	opts := DefaultOptions()
	opts.MinFramesTriggerMotion = 3
	opts.LookbackWindow = time.Second
	f := newTestFilter(t, w, opts, motionAt(11, 8, 9, 10))

	require.NoError(t, f.Run(context.Background(), &sliceSource{frames: stream(11, 250*time.Millisecond, 4)}))

	events := w.snapshot()
	require.Len(t, events, 1)
	frames := events[0].frames
	require.Len(t, frames, 7)
	assert.Equal(t, time.Second, frames[0].DTS)
	assert.True(t, frames[0].KeyFrame)
	assert.Equal(t, 2500*time.Millisecond, frames[6].DTS)
	assert.Equal(t, time.Second, f.TotalFilteredTime())
}

func TestFilter_EventClosesOnKeyFrameAndCoolsDown(t *testing.T) {
	w := &recordingWriter{}
	opts := DefaultOptions()
	opts.MinFramesTriggerMotion = 1
	opts.MinEventLength = time.Second
	opts.CoolDownPeriod = 2 * time.Second
	opts.LookbackWindow = 0
	f := newTestFilter(t, w, opts, motionAt(20, 0, 12, 17))

	require.NoError(t, f.Run(context.Background(), &sliceSource{frames: stream(20, 250*time.Millisecond, 4)}))

	events := w.snapshot()
	require.Len(t, events, 2)

	first := events[0]
	assert.True(t, first.ended)
	require.Len(t, first.frames, 9)
	last := first.frames[len(first.frames)-1]
	assert.True(t, last.KeyFrame)
	assert.Equal(t, 2*time.Second, last.DTS)

	second := events[1]
	assert.True(t, second.ended)
	require.Len(t, second.frames, 4)
	assert.Equal(t, 4*time.Second, second.frames[0].DTS)
	assert.Equal(t, 4750*time.Millisecond, second.frames[3].DTS)

	assert.Equal(t, 2, f.EventsStarted())
	assert.Equal(t, 13, f.FramesPushed())
	assert.Equal(t, 2*time.Second, f.TotalFilteredTime())
}

type blockingSource struct{}

func (blockingSource) Next(ctx context.Context, _ time.Duration) (media.Packet, error) {
	<-ctx.Done()
	return media.Packet{}, ctx.Err()
}

func TestFilter_CancelStopsRun(t *testing.T) {
	w := &recordingWriter{}
	f := newTestFilter(t, w, DefaultOptions(), nil)

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background(), blockingSource{}) }()

	f.Cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}
	f.Cancel()
}

type timeoutSource struct{}

func (timeoutSource) Next(context.Context, time.Duration) (media.Packet, error) {
	return media.Packet{}, status.Error(codes.DeadlineExceeded, "no frame")
}

func TestFilter_SourceTimeout(t *testing.T) {
	f := newTestFilter(t, &recordingWriter{}, DefaultOptions(), nil)
	err := f.Run(context.Background(), timeoutSource{})
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
}

func TestFilter_RunOnlyOnce(t *testing.T) {
	f := newTestFilter(t, &recordingWriter{}, DefaultOptions(), nil)
	require.NoError(t, f.Run(context.Background(), &sliceSource{}))
	err := f.Run(context.Background(), &sliceSource{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestFilter_StartEventErrorStopsRun(t *testing.T) {
	boom := errors.New("disk full")
	w := &recordingWriter{startErr: boom}
	opts := DefaultOptions()
	opts.MinFramesTriggerMotion = 1
	f := newTestFilter(t, w, opts, motionAt(50, 0))

	err := f.Run(context.Background(), &sliceSource{frames: stream(50, 40*time.Millisecond, 10)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.EventsStarted())
}

func TestFilter_FirstFrameWithoutResolution(t *testing.T) {
	f := newTestFilter(t, &recordingWriter{}, DefaultOptions(), nil)
	src := &sliceSource{frames: []media.Packet{{Caps: media.H264Caps(0, 0), KeyFrame: true}}}
	err := f.Run(context.Background(), src)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestNew_RequiresWriter(t *testing.T) {
	_, err := New(nil, DefaultOptions())
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
