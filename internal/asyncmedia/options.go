package asyncmedia

import (
	"log/slog"
	"time"

	"github.com/jmylchreest/vidgate/internal/motion"
	"github.com/jmylchreest/vidgate/internal/pipeline"
)

// Defaults applied when the matching option is not given.
const (
	DefaultQueueSize        = 300
	DefaultFeedTimeout      = 60 * time.Second
	DefaultCloseGracePeriod = 5 * time.Second
)

type settings struct {
	queueSize    int
	feedTimeout  time.Duration
	outputPeriod time.Duration
	closeGrace   time.Duration
	factory      pipeline.Factory
	logger       *slog.Logger
	extractor    motion.VectorExtractor
	onDrop       func()
}

func defaultSettings() settings {
	return settings{
		queueSize:   DefaultQueueSize,
		feedTimeout: DefaultFeedTimeout,
		closeGrace:  DefaultCloseGracePeriod,
		factory:     pipeline.GstFactory,
		logger:      slog.Default(),
	}
}

// Option configures an adapter.
type Option func(*settings)

// WithQueueSize bounds the number of inputs awaiting their output.
func WithQueueSize(n int) Option {
	return func(s *settings) { s.queueSize = n }
}

// WithFeedTimeout bounds how long Feed waits for queue space.
func WithFeedTimeout(d time.Duration) Option {
	return func(s *settings) { s.feedTimeout = d }
}

// WithOutputPeriod limits decoders to at most one output per period.
// Zero disables the limit; a negative period is rejected.
func WithOutputPeriod(d time.Duration) Option {
	return func(s *settings) { s.outputPeriod = d }
}

// WithCloseGracePeriod bounds how long Close waits for the pipeline to drain.
func WithCloseGracePeriod(d time.Duration) Option {
	return func(s *settings) { s.closeGrace = d }
}

// WithRunnerFactory replaces the GStreamer runner factory.
func WithRunnerFactory(f pipeline.Factory) Option {
	return func(s *settings) {
		if f != nil {
			s.factory = f
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVectorExtractor replaces the motion decoder's block-matching estimator.
func WithVectorExtractor(e motion.VectorExtractor) Option {
	return func(s *settings) { s.extractor = e }
}

// WithDropHook is called whenever the output period discards an output.
func WithDropHook(fn func()) Option {
	return func(s *settings) { s.onDrop = fn }
}
