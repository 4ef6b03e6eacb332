package eventwriter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/media"
	"github.com/jmylchreest/vidgate/internal/observability"
	"github.com/jmylchreest/vidgate/internal/source"
	"github.com/jmylchreest/vidgate/internal/storage"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xda, 0x05, 0x07, 0xe4}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x21}
	testP   = []byte{0x41, 0x9a, 0x02, 0x21}
)

func annexB(t *testing.T, nalus ...[]byte) []byte {
	t.Helper()
	b, err := h264.AnnexB(nalus).Marshal()
	require.NoError(t, err)
	return b
}

func packet(t *testing.T, dts time.Duration, key bool, nalus ...[]byte) media.Packet {
	return media.Packet{
		Data:     annexB(t, nalus...),
		PTS:      dts,
		DTS:      dts,
		Caps:     media.H264Caps(320, 240),
		KeyFrame: key,
	}
}

func hasNALU(au [][]byte, typ h264.NALUType) bool {
	for _, nalu := range au {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == typ {
			return true
		}
	}
	return false
}

func TestParamSets_PrependToKeyframe(t *testing.T) {
	aud := []byte{0x09, 0xf0}

	var p paramSets
	assert.Equal(t, [][]byte{testIDR}, p.prependToKeyframe([][]byte{testIDR}), "nothing known yet")

	p.extract([][]byte{testSPS, testPPS, testIDR})
	assert.Equal(t, testSPS, p.sps)
	assert.Equal(t, testPPS, p.pps)

	tests := []struct {
		name string
		in   [][]byte
		want [][]byte
	}{
		{"idr only", [][]byte{testIDR}, [][]byte{testSPS, testPPS, testIDR}},
		{"aud stays first", [][]byte{aud, testIDR}, [][]byte{aud, testSPS, testPPS, testIDR}},
		{"already complete", [][]byte{testSPS, testPPS, testIDR}, [][]byte{testSPS, testPPS, testIDR}},
		{"partial params replaced", [][]byte{testPPS, testIDR}, [][]byte{testSPS, testPPS, testIDR}},
		{"non idr untouched", [][]byte{testP}, [][]byte{testP}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.prependToKeyframe(tt.in))
		})
	}
}

func newTestTSWriter(t *testing.T) (*TSWriter, *storage.Sandbox) {
	t.Helper()
	sb, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)
	w, err := NewTSWriter(sb, "cam1")
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, sb
}

func TestNewTSWriter_Validation(t *testing.T) {
	sb, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	_, err = NewTSWriter(nil, "cam1")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	for _, name := range []string{"", ".", "..", "a/b", "../x"} {
		_, err := NewTSWriter(sb, name)
		assert.Equal(t, codes.InvalidArgument, status.Code(err), "stream %q", name)
	}
}

func TestTSWriter_ClipRoundTrip(t *testing.T) {
	w, sb := newTestTSWriter(t)
	ctx := context.Background()

	id, err := w.StartEvent(ctx)
	require.NoError(t, err)

	base := 10 * time.Second
	step := 40 * time.Millisecond
	require.NoError(t, w.Push(ctx, id, packet(t, base, true, testSPS, testPPS, testIDR)))
	require.NoError(t, w.Push(ctx, id, packet(t, base+step, false, testP)))
	require.NoError(t, w.Push(ctx, id, packet(t, base+2*step, false, testP)))
	// Keyframe without parameter sets.
	require.NoError(t, w.Push(ctx, id, packet(t, base+3*step, true, testIDR)))
	for i := 4; i < 8; i++ {
		require.NoError(t, w.Push(ctx, id, packet(t, base+time.Duration(i)*step, false, testP)))
	}

	pending, err := filepath.Glob(filepath.Join(sb.BaseDir(), "cam1", "*"+storage.TempSuffix))
	require.NoError(t, err)
	assert.Len(t, pending, 1, "clip stays pending until the event ends")

	clip, err := w.EndClip(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, clip.ID)
	assert.Equal(t, "cam1", clip.Stream)
	assert.Equal(t, 8, clip.Frames)
	assert.Positive(t, clip.Bytes)
	assert.Equal(t, filepath.Join(sb.BaseDir(), "cam1", id+".ts"), clip.Path)

	info, err := os.Stat(clip.Path)
	require.NoError(t, err)
	assert.Equal(t, clip.Bytes, info.Size())

	pending, err = filepath.Glob(filepath.Join(sb.BaseDir(), "cam1", "*"+storage.TempSuffix))
	require.NoError(t, err)
	assert.Empty(t, pending)

	f, err := os.Open(clip.Path)
	require.NoError(t, err)
	src := source.NewTSSource(f)
	defer src.Close()

	var got []media.Packet
	for {
		p, err := src.Next(ctx, 5*time.Second)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, p)
	}
	require.GreaterOrEqual(t, len(got), 7)
	assert.True(t, got[0].KeyFrame)
	assert.Contains(t, got[0].Caps, "width=320")
	assert.Equal(t, step, got[1].DTS-got[0].DTS)

	var au h264.AnnexB
	require.NoError(t, au.Unmarshal(got[3].Data))
	assert.True(t, got[3].KeyFrame)
	assert.True(t, hasNALU(au, h264.NALUTypeSPS), "parameter sets restored on keyframe")
	assert.True(t, hasNALU(au, h264.NALUTypePPS))
}

func TestTSWriter_Errors(t *testing.T) {
	w, _ := newTestTSWriter(t)
	ctx := context.Background()

	err := w.Push(ctx, "missing", packet(t, 0, true, testSPS, testPPS, testIDR))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = w.EndClip(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	id, err := w.StartEvent(ctx)
	require.NoError(t, err)
	err = w.Push(ctx, id, media.Packet{Data: []byte{0xff, 0xff}, PTS: 0, DTS: 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, w.EndEvent(ctx, id))
	err = w.EndEvent(ctx, id)
	assert.Equal(t, codes.NotFound, status.Code(err), "event can only end once")
}

func TestTSWriter_CloseDiscardsUnfinished(t *testing.T) {
	w, sb := newTestTSWriter(t)
	ctx := context.Background()

	id, err := w.StartEvent(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Push(ctx, id, packet(t, 0, true, testSPS, testPPS, testIDR)))
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(filepath.Join(sb.BaseDir(), "cam1"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	exists, err := sb.Exists(w.ClipPath(id))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_RecordsEvents(t *testing.T) {
	m := NewMemory("cam1")
	ctx := context.Background()

	first, err := m.StartEvent(ctx)
	require.NoError(t, err)
	second, err := m.StartEvent(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, m.Push(ctx, first, media.Packet{Data: []byte{1, 2, 3}}))
	require.NoError(t, m.Push(ctx, first, media.Packet{Data: []byte{4}}))
	require.NoError(t, m.Push(ctx, second, media.Packet{Data: []byte{5}}))

	clip, err := m.EndClip(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, clip.Frames)
	assert.Equal(t, int64(4), clip.Bytes)
	assert.Empty(t, clip.Path)

	assert.Error(t, m.Push(ctx, first, media.Packet{}), "push after end")
	assert.Error(t, m.EndEvent(ctx, first), "double end")
	assert.Equal(t, codes.NotFound, status.Code(m.Push(ctx, "nope", media.Packet{})))

	events := m.Events()
	require.Len(t, events, 2)
	assert.Equal(t, first, events[0].ID)
	assert.True(t, events[0].Ended)
	assert.Len(t, events[0].Frames, 2)
	assert.Equal(t, second, events[1].ID)
	assert.False(t, events[1].Ended)
}

type call struct {
	hook  string
	ended bool
	id    string
	key   string
}

type recordingHook struct {
	name string
	mu   *sync.Mutex
	log  *[]call
	fail bool
	key  string
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) record(ended bool, ev *Event) error {
	h.mu.Lock()
	*h.log = append(*h.log, call{hook: h.name, ended: ended, id: ev.ID, key: ev.ObjectKey})
	h.mu.Unlock()
	if h.fail {
		return errors.New("hook broken")
	}
	if ended && h.key != "" {
		ev.ObjectKey = h.key
	}
	return nil
}

func (h *recordingHook) EventStarted(_ context.Context, ev *Event) error { return h.record(false, ev) }
func (h *recordingHook) EventEnded(_ context.Context, ev *Event) error   { return h.record(true, ev) }

func TestHooked_RunsHooksInOrder(t *testing.T) {
	var mu sync.Mutex
	var log []call
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	hooks := []Hook{
		&recordingHook{name: "broken", mu: &mu, log: &log, fail: true},
		&recordingHook{name: "upload", mu: &mu, log: &log, key: "clips/cam1/x.ts"},
		&recordingHook{name: "catalog", mu: &mu, log: &log},
	}
	inner := NewMemory("cam1")
	h := NewHooked(inner, "cam1", hooks, WithHookMetrics(metrics))
	ctx := context.Background()

	id, err := h.StartEvent(ctx)
	require.NoError(t, err)
	require.NoError(t, h.Push(ctx, id, media.Packet{Data: []byte{1, 2}}))
	require.NoError(t, h.EndEvent(ctx, id))
	require.NoError(t, h.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []call{
		{hook: "broken", id: id},
		{hook: "upload", id: id},
		{hook: "catalog", id: id},
		{hook: "broken", ended: true, id: id},
		{hook: "upload", ended: true, id: id},
		{hook: "catalog", ended: true, id: id, key: "clips/cam1/x.ts"},
	}, log)
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.HookFailures.WithLabelValues("broken")))

	_, err = h.StartEvent(ctx)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.NoError(t, h.Close(ctx), "close is idempotent")
}

// plainWriter reports nothing on end, so Hooked fills in the clip itself.
type plainWriter struct {
	pushed int
}

func (w *plainWriter) StartEvent(context.Context) (string, error) { return "ev1", nil }
func (w *plainWriter) Push(context.Context, string, media.Packet) error {
	w.pushed++
	return nil
}
func (w *plainWriter) EndEvent(context.Context, string) error { return nil }

type clipHook struct {
	ended chan Event
}

func (h *clipHook) Name() string                                { return "clip" }
func (h *clipHook) EventStarted(context.Context, *Event) error  { return nil }
func (h *clipHook) EventEnded(_ context.Context, ev *Event) error {
	h.ended <- *ev
	return nil
}

func TestHooked_TracksClipForPlainWriter(t *testing.T) {
	hook := &clipHook{ended: make(chan Event, 1)}
	inner := &plainWriter{}
	h := NewHooked(inner, "cam2", []Hook{hook})
	ctx := context.Background()

	id, err := h.StartEvent(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Push(ctx, id, media.Packet{Data: bytes.Repeat([]byte{1}, 10)}))
	}
	require.NoError(t, h.EndEvent(ctx, id))

	select {
	case ev := <-hook.ended:
		assert.Equal(t, "ev1", ev.ID)
		assert.Equal(t, "cam2", ev.Stream)
		assert.Equal(t, 3, ev.Frames)
		assert.Equal(t, int64(30), ev.Bytes)
		assert.False(t, ev.EndedAt.Before(ev.StartedAt))
	case <-time.After(5 * time.Second):
		t.Fatal("hook not called")
	}
	assert.Equal(t, 3, inner.pushed)
	require.NoError(t, h.Close(ctx))

	assert.Equal(t, codes.NotFound, status.Code(h.EndEvent(ctx, "ev1")))
}

type blockingHook struct {
	release chan struct{}
}

func (h *blockingHook) Name() string { return "slow" }
func (h *blockingHook) EventStarted(ctx context.Context, _ *Event) error {
	select {
	case <-h.release:
	case <-ctx.Done():
	}
	return nil
}
func (h *blockingHook) EventEnded(context.Context, *Event) error { return nil }

func TestHooked_CloseHonoursContext(t *testing.T) {
	hook := &blockingHook{release: make(chan struct{})}
	h := NewHooked(NewMemory("cam1"), "cam1", []Hook{hook})

	_, err := h.StartEvent(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Close(ctx), context.DeadlineExceeded)

	close(hook.release)
	require.NoError(t, h.Close(context.Background()))
}

func TestHooked_EndAfterClose(t *testing.T) {
	mem := NewMemory("cam1")
	h := NewHooked(mem, "cam1", nil)

	id, err := h.StartEvent(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Close(context.Background()))

	assert.NotPanics(t, func() {
		assert.NoError(t, h.EndEvent(context.Background(), id))
	})
	events := mem.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Ended)
}

func TestHooked_SlowHookDoesNotBlockEvents(t *testing.T) {
	hook := &blockingHook{release: make(chan struct{})}
	h := NewHooked(NewMemory("cam1"), "cam1", []Hook{hook})

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 100; i++ {
			id, err := h.StartEvent(context.Background())
			if err != nil {
				done <- err
				return
			}
			if err := h.EndEvent(context.Background(), id); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("events stalled behind a slow hook")
	}

	close(hook.release)
	require.NoError(t, h.Close(context.Background()))
}
