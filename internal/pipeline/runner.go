// Package pipeline defines the media pipeline runner contract used by the
// async adapters, together with an in-process runner and a GStreamer-backed
// runner.
//
// A runner accepts input samples through Feed and delivers every output to a
// single receiver callback. The callback is never invoked concurrently with
// itself and outputs arrive in the order their inputs were fed; the adapters
// rely on this to pair outputs with caller context without sequence numbers.
package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/media"
)

// ErrEndOfStream is returned by a receiver to ask the runner to end the
// stream early. It is a normal termination, not a failure.
var ErrEndOfStream = errors.New("pipeline: end of stream requested")

// Sample is a unit of media flowing into or out of a runner.
type Sample struct {
	Data     []byte
	Caps     string
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration
	KeyFrame bool
}

// SampleFromPacket wraps an encoded packet as a runner input.
func SampleFromPacket(p media.Packet) Sample {
	return Sample{
		Data:     p.Data,
		Caps:     p.Caps,
		PTS:      p.PTS,
		DTS:      p.DTS,
		Duration: media.NoTimestamp,
		KeyFrame: p.KeyFrame,
	}
}

// Timestamp returns the presentation timestamp, falling back to the DTS.
func (s Sample) Timestamp() time.Duration {
	if s.PTS != media.NoTimestamp {
		return s.PTS
	}
	return s.DTS
}

// ReceiverFunc consumes one runner output.
type ReceiverFunc func(Sample) error

// Options configure a runner.
type Options struct {
	// InputCaps is the caps of the samples that will be fed.
	InputCaps string
	// Description is the processing section of the pipeline, placed between
	// the input and the receiver.
	Description string
	// Receiver is called once per output.
	Receiver ReceiverFunc
	Logger   *slog.Logger
}

// Runner executes a media pipeline.
type Runner interface {
	// Feed submits one input. It fails with codes.FailedPrecondition once the
	// runner can no longer accept input.
	Feed(Sample) error
	// SignalEOS ends the input stream. Already fed inputs are still processed.
	SignalEOS()
	// WaitUntilCompleted reports whether the pipeline finished within timeout.
	WaitUntilCompleted(timeout time.Duration) bool
	IsCompleted() bool
	// Status is the terminal status of the pipeline, nil meaning OK.
	Status() error
}

// Factory creates runners.
type Factory func(Options) (Runner, error)

func errNotAccepting(reason string) error {
	return status.Errorf(codes.FailedPrecondition, "pipeline not accepting input: %s", reason)
}

func validate(opts *Options) error {
	if opts.Receiver == nil {
		return status.Error(codes.InvalidArgument, "pipeline receiver is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}
