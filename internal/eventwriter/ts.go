package eventwriter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/media"
	"github.com/jmylchreest/vidgate/internal/storage"
)

// VideoPID is the PID of the clip video track.
const VideoPID = 0x0100

// TSWriter writes each event as an MPEG-TS clip "<stream>/<event_id>.ts" in
// a sandboxed directory. Clips are written to a pending file and published
// when the event ends.
type TSWriter struct {
	sandbox *storage.Sandbox
	stream  string
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	clips  map[string]*tsClip
	params paramSets
}

type tsClip struct {
	file     *os.File
	buf      *bufio.Writer
	counter  *countingWriter
	muxer    *mpegts.Writer
	track    *mpegts.Track
	started  time.Time
	frames   int
	baseDTS  time.Duration
	lastDTS  time.Duration
	hasFrame bool
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// TSOption configures a TSWriter.
type TSOption func(*TSWriter)

func WithTSLogger(l *slog.Logger) TSOption {
	return func(w *TSWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithTSClock sets the clock used for event IDs and clip times.
func WithTSClock(now func() time.Time) TSOption {
	return func(w *TSWriter) {
		if now != nil {
			w.now = now
		}
	}
}

// NewTSWriter creates a clip writer for stream.
func NewTSWriter(sandbox *storage.Sandbox, stream string, opts ...TSOption) (*TSWriter, error) {
	if sandbox == nil {
		return nil, status.Error(codes.InvalidArgument, "ts writer needs an output sandbox")
	}
	if stream == "" || path.Base(stream) != stream || stream == "." || stream == ".." {
		return nil, status.Errorf(codes.InvalidArgument, "invalid stream name %q", stream)
	}
	w := &TSWriter{
		sandbox: sandbox,
		stream:  stream,
		logger:  slog.Default(),
		now:     time.Now,
		clips:   make(map[string]*tsClip),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// ClipPath returns the sandbox-relative clip path of an event.
func (w *TSWriter) ClipPath(id string) string {
	return path.Join(w.stream, id+".ts")
}

// StartEvent opens a new clip.
func (w *TSWriter) StartEvent(_ context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	id := NewEventID(now)
	f, err := w.sandbox.CreatePending(w.ClipPath(id))
	if err != nil {
		return "", fmt.Errorf("creating clip: %w", err)
	}

	buf := bufio.NewWriter(f)
	counter := &countingWriter{w: buf}
	track := &mpegts.Track{PID: VideoPID, Codec: &mpegts.CodecH264{}}
	muxer := &mpegts.Writer{W: counter, Tracks: []*mpegts.Track{track}}
	if err := muxer.Initialize(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("initializing mpegts writer: %w", err)
	}

	w.clips[id] = &tsClip{
		file:    f,
		buf:     buf,
		counter: counter,
		muxer:   muxer,
		track:   track,
		started: now,
	}
	w.logger.Debug("clip opened", slog.String("event_id", id), slog.String("pending", f.Name()))
	return id, nil
}

// Push muxes one access unit into the clip. Timestamps are rebased so the
// clip starts at zero.
func (w *TSWriter) Push(_ context.Context, id string, p media.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	clip, ok := w.clips[id]
	if !ok {
		return errUnknownEvent(id)
	}

	var au h264.AnnexB
	if err := au.Unmarshal(p.Data); err != nil {
		return status.Errorf(codes.InvalidArgument, "event %s: frame is not Annex-B H.264: %v", id, err)
	}
	w.params.extract(au)
	if p.KeyFrame {
		au = w.params.prependToKeyframe(au)
	}

	dts := p.DecodeTime()
	if dts == media.NoTimestamp {
		dts = clip.lastDTS
	}
	if !clip.hasFrame {
		clip.baseDTS = dts
		clip.hasFrame = true
	}
	pts := p.PTS
	if pts == media.NoTimestamp || pts < dts {
		pts = dts
	}
	clip.lastDTS = dts

	err := clip.muxer.WriteH264(clip.track,
		media.DurationToTicks(pts-clip.baseDTS),
		media.DurationToTicks(dts-clip.baseDTS),
		au)
	if err != nil {
		return fmt.Errorf("event %s: writing frame: %w", id, err)
	}
	clip.frames++
	return nil
}

// EndEvent finishes and publishes the clip.
func (w *TSWriter) EndEvent(ctx context.Context, id string) error {
	_, err := w.EndClip(ctx, id)
	return err
}

// EndClip finishes and publishes the clip and describes it.
func (w *TSWriter) EndClip(_ context.Context, id string) (Clip, error) {
	w.mu.Lock()
	clip, ok := w.clips[id]
	delete(w.clips, id)
	w.mu.Unlock()
	if !ok {
		return Clip{}, errUnknownEvent(id)
	}

	flushErr := clip.buf.Flush()
	closeErr := clip.file.Close()
	if flushErr != nil || closeErr != nil {
		os.Remove(clip.file.Name())
		return Clip{}, fmt.Errorf("event %s: finishing clip: %w", id, firstErr(flushErr, closeErr))
	}

	final, err := w.sandbox.Publish(clip.file.Name(), w.ClipPath(id))
	if err != nil {
		os.Remove(clip.file.Name())
		return Clip{}, fmt.Errorf("event %s: publishing clip: %w", id, err)
	}

	c := Clip{
		ID:        id,
		Stream:    w.stream,
		StartedAt: clip.started,
		EndedAt:   w.now(),
		Frames:    clip.frames,
		Bytes:     clip.counter.n,
		Path:      final,
	}
	w.logger.Info("clip written",
		slog.String("event_id", id),
		slog.String("path", final),
		slog.Int("frames", c.Frames),
		slog.Int64("bytes", c.Bytes))
	return c, nil
}

// Close abandons clips of events that never ended.
func (w *TSWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for id, clip := range w.clips {
		if err := clip.file.Close(); err != nil {
			errs = append(errs, err)
		}
		os.Remove(clip.file.Name())
		delete(w.clips, id)
		w.logger.Warn("discarded unfinished clip", slog.String("event_id", id))
	}
	return firstErr(errs...)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
