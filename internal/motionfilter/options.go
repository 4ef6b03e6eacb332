package motionfilter

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/config"
	"github.com/jmylchreest/vidgate/internal/motion"
)

// Attribute keys accepted by ParseAttributes.
const (
	AttrSpatialGridNumber      = "spatial_grid_number"
	AttrTemporalBufferFrames   = "temporal_buffer_frames"
	AttrSensitivity            = "motion_detection_sensitivity"
	AttrMinFramesTriggerMotion = "min_frames_trigger_motion"
	AttrMinEventLength         = "min_event_length_in_seconds"
	AttrCoolDownPeriod         = "cool_down_period_in_seconds"
	AttrLookbackWindow         = "lookback_window_in_seconds"
	AttrTimeout                = "time_out_in_ms"
)

// Defaults.
const (
	DefaultSpatialGridNumber      = 10
	DefaultTemporalBufferFrames   = 10
	DefaultSensitivity            = motion.SensitivityMedium
	DefaultMinFramesTriggerMotion = 5
	DefaultMinEventLength         = 10 * time.Second
	DefaultCoolDownPeriod         = 0
	DefaultLookbackWindow         = 3 * time.Second
	DefaultTimeout                = 30 * time.Second
)

// Options configure the motion event filter.
type Options struct {
	SpatialGridNumber      int
	TemporalBufferFrames   int
	Sensitivity            motion.Sensitivity
	MinFramesTriggerMotion int
	MinEventLength         time.Duration
	CoolDownPeriod         time.Duration
	LookbackWindow         time.Duration
	// Timeout bounds the wait for each input frame.
	Timeout time.Duration
}

// DefaultOptions returns the default filter options.
func DefaultOptions() Options {
	return Options{
		SpatialGridNumber:      DefaultSpatialGridNumber,
		TemporalBufferFrames:   DefaultTemporalBufferFrames,
		Sensitivity:            DefaultSensitivity,
		MinFramesTriggerMotion: DefaultMinFramesTriggerMotion,
		MinEventLength:         DefaultMinEventLength,
		CoolDownPeriod:         DefaultCoolDownPeriod,
		LookbackWindow:         DefaultLookbackWindow,
		Timeout:                DefaultTimeout,
	}
}

func logInvalidField(logger *slog.Logger, name string, got, def any) {
	logger.Warn("invalid motion filter option, using default",
		slog.String("option", name),
		slog.Any("value", got),
		slog.Any("default", def))
}

// Normalize resets out of range values to their defaults, logging a warning
// for each.
func (o Options) Normalize(logger *slog.Logger) Options {
	if logger == nil {
		logger = slog.Default()
	}
	if o.SpatialGridNumber <= 0 {
		logInvalidField(logger, AttrSpatialGridNumber, o.SpatialGridNumber, DefaultSpatialGridNumber)
		o.SpatialGridNumber = DefaultSpatialGridNumber
	}
	if o.TemporalBufferFrames <= 0 {
		logInvalidField(logger, AttrTemporalBufferFrames, o.TemporalBufferFrames, DefaultTemporalBufferFrames)
		o.TemporalBufferFrames = DefaultTemporalBufferFrames
	}
	if _, err := motion.ParseSensitivity(string(o.Sensitivity)); err != nil {
		logInvalidField(logger, AttrSensitivity, o.Sensitivity, DefaultSensitivity)
		o.Sensitivity = DefaultSensitivity
	}
	if o.MinFramesTriggerMotion <= 0 {
		logInvalidField(logger, AttrMinFramesTriggerMotion, o.MinFramesTriggerMotion, DefaultMinFramesTriggerMotion)
		o.MinFramesTriggerMotion = DefaultMinFramesTriggerMotion
	}
	if o.MinEventLength <= 0 {
		logInvalidField(logger, AttrMinEventLength, o.MinEventLength, DefaultMinEventLength)
		o.MinEventLength = DefaultMinEventLength
	}
	if o.CoolDownPeriod < 0 {
		logInvalidField(logger, AttrCoolDownPeriod, o.CoolDownPeriod, time.Duration(DefaultCoolDownPeriod))
		o.CoolDownPeriod = DefaultCoolDownPeriod
	}
	if o.LookbackWindow < 0 {
		logInvalidField(logger, AttrLookbackWindow, o.LookbackWindow, DefaultLookbackWindow)
		o.LookbackWindow = DefaultLookbackWindow
	}
	if o.Timeout <= 0 {
		logInvalidField(logger, AttrTimeout, o.Timeout, DefaultTimeout)
		o.Timeout = DefaultTimeout
	}
	return o
}

// ClassifierConfig derives the classifier settings.
func (o Options) ClassifierConfig() motion.ClassifierConfig {
	return motion.ClassifierConfig{
		SpatialGridNumber:    o.SpatialGridNumber,
		TemporalBufferFrames: o.TemporalBufferFrames,
		Sensitivity:          o.Sensitivity,
	}
}

// FromConfig maps the motion config section to filter options. The result
// still needs Normalize.
func FromConfig(c config.MotionConfig) Options {
	return Options{
		SpatialGridNumber:      c.SpatialGridNumber,
		TemporalBufferFrames:   c.TemporalBufferFrames,
		Sensitivity:            motion.Sensitivity(strings.ToLower(strings.TrimSpace(c.Sensitivity))),
		MinFramesTriggerMotion: c.MinFramesTriggerMotion,
		MinEventLength:         c.MinEventLength,
		CoolDownPeriod:         c.CoolDownPeriod,
		LookbackWindow:         c.LookbackWindow,
		Timeout:                c.FrameTimeout,
	}
}

// ParseAttributes builds Options from string attributes. Unknown keys are
// ignored, malformed numbers fail with codes.InvalidArgument and out of range
// values are reset to their defaults.
func ParseAttributes(attrs map[string]string, logger *slog.Logger) (Options, error) {
	o := DefaultOptions()

	ints := []struct {
		key string
		dst *int
	}{
		{AttrSpatialGridNumber, &o.SpatialGridNumber},
		{AttrTemporalBufferFrames, &o.TemporalBufferFrames},
		{AttrMinFramesTriggerMotion, &o.MinFramesTriggerMotion},
	}
	for _, f := range ints {
		raw, ok := attrs[f.key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Options{}, status.Errorf(codes.InvalidArgument, "%s: %q is not an integer", f.key, raw)
		}
		*f.dst = n
	}

	durations := []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{AttrMinEventLength, time.Second, &o.MinEventLength},
		{AttrCoolDownPeriod, time.Second, &o.CoolDownPeriod},
		{AttrLookbackWindow, time.Second, &o.LookbackWindow},
		{AttrTimeout, time.Millisecond, &o.Timeout},
	}
	for _, f := range durations {
		raw, ok := attrs[f.key]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Options{}, status.Errorf(codes.InvalidArgument, "%s: %q is not a number", f.key, raw)
		}
		if limit := float64(math.MaxInt64 / int64(f.unit)); v >= limit || v <= -limit {
			if logger == nil {
				logger = slog.Default()
			}
			logInvalidField(logger, f.key, raw, *f.dst)
			continue
		}
		*f.dst = time.Duration(v * float64(f.unit))
	}

	if raw, ok := attrs[AttrSensitivity]; ok {
		o.Sensitivity = motion.Sensitivity(strings.ToLower(strings.TrimSpace(raw)))
	}

	return o.Normalize(logger), nil
}
