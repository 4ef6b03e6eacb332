// Package source turns MPEG-TS byte streams into encoded H.264 frames for the
// motion filter.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/media"
)

// DefaultFrameBuffer is the number of demuxed frames held ahead of the reader.
const DefaultFrameBuffer = 32

// TSSource demuxes the first H.264 track of an MPEG-TS stream. Access units
// before the first SPS are skipped since their resolution is unknown.
type TSSource struct {
	r      io.Reader
	logger *slog.Logger

	frames chan media.Packet
	done   chan struct{}
	once   sync.Once

	// Set before frames is closed.
	err error

	width, height int
	skipped       int
}

// TSOption configures a TSSource.
type TSOption func(*TSSource)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) TSOption {
	return func(s *TSSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFrameBuffer sets how many frames may be demuxed ahead of Next.
func WithFrameBuffer(n int) TSOption {
	return func(s *TSSource) {
		if n > 0 {
			s.frames = make(chan media.Packet, n)
		}
	}
}

// NewTSSource starts demuxing r. Close stops the reader goroutine; it also
// closes r when r is an io.Closer.
func NewTSSource(r io.Reader, opts ...TSOption) *TSSource {
	s := &TSSource{
		r:      r,
		logger: slog.Default(),
		frames: make(chan media.Packet, DefaultFrameBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Next returns the next frame. It fails with codes.DeadlineExceeded when no
// frame arrives within timeout and returns io.EOF at the end of the stream.
func (s *TSSource) Next(ctx context.Context, timeout time.Duration) (media.Packet, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p, ok := <-s.frames:
		if !ok {
			return media.Packet{}, s.err
		}
		return p, nil
	case <-timer.C:
		return media.Packet{}, status.Errorf(codes.DeadlineExceeded, "no frame within %s", timeout)
	case <-ctx.Done():
		return media.Packet{}, ctx.Err()
	}
}

// Close stops demuxing.
func (s *TSSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (s *TSSource) run() {
	err := s.demux()
	select {
	case <-s.done:
		err = io.EOF
	default:
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		err = io.EOF
	} else {
		s.logger.Warn("MPEG-TS demux failed", slog.String("error", err.Error()))
	}
	s.err = err
	close(s.frames)
}

func (s *TSSource) demux() error {
	reader := &mpegts.Reader{R: s.r}
	if err := reader.Initialize(); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return status.Errorf(codes.InvalidArgument, "initializing mpegts reader: %v", err)
	}

	var video *mpegts.Track
	for _, track := range reader.Tracks() {
		if _, ok := track.Codec.(*mpegts.CodecH264); ok {
			video = track
			break
		}
		s.logger.Debug("ignoring track",
			slog.Uint64("pid", uint64(track.PID)),
			slog.String("type", fmt.Sprintf("%T", track.Codec)))
	}
	if video == nil {
		return status.Error(codes.FailedPrecondition, "stream has no H.264 track")
	}
	s.logger.Debug("found H.264 video track", slog.Uint64("pid", uint64(video.PID)))

	reader.OnDecodeError(func(err error) {
		s.logger.Debug("MPEG-TS decode error", slog.String("error", err.Error()))
	})
	reader.OnDataH264(video, func(pts, dts int64, au [][]byte) error {
		return s.handleH264(pts, dts, au)
	})

	for {
		select {
		case <-s.done:
			return io.EOF
		default:
		}
		if err := reader.Read(); err != nil {
			return err
		}
	}
}

func (s *TSSource) handleH264(pts, dts int64, au [][]byte) error {
	if len(au) == 0 {
		return nil
	}
	s.updateResolution(au)
	if s.width == 0 {
		s.skipped++
		return nil
	}
	if s.skipped > 0 {
		s.logger.Debug("skipped access units before first SPS", slog.Int("count", s.skipped))
		s.skipped = 0
	}

	data, err := h264.AnnexB(au).Marshal()
	if err != nil || len(data) == 0 {
		return nil
	}
	p := media.Packet{
		Data:     data,
		PTS:      media.TicksToDuration(pts),
		DTS:      media.TicksToDuration(dts),
		Caps:     media.H264Caps(s.width, s.height),
		KeyFrame: h264.IsRandomAccess(au),
	}
	select {
	case s.frames <- p:
		return nil
	case <-s.done:
		return io.ErrClosedPipe
	}
}

func (s *TSSource) updateResolution(au [][]byte) {
	for _, nalu := range au {
		if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
			continue
		}
		var sps h264.SPS
		if err := sps.Unmarshal(nalu); err != nil {
			s.logger.Debug("invalid SPS", slog.String("error", err.Error()))
			continue
		}
		if w, h := sps.Width(), sps.Height(); w != s.width || h != s.height {
			s.logger.Info("video resolution", slog.Int("width", w), slog.Int("height", h))
			s.width, s.height = w, h
		}
	}
}
