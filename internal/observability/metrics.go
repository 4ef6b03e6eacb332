package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vidgate"

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	FramesProcessed       *prometheus.CounterVec
	FramesPushed          *prometheus.CounterVec
	OutputsDropped        *prometheus.CounterVec
	EventsStarted         *prometheus.CounterVec
	EventsEnded           *prometheus.CounterVec
	FilteredSeconds       *prometheus.CounterVec
	ActiveEvents          *prometheus.GaugeVec
	HookFailures          *prometheus.CounterVec
	ClassificationLatency *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		FramesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Total number of frames classified for motion",
		}, []string{"stream"}),
		FramesPushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_pushed_total",
			Help:      "Total number of frames written to motion events",
		}, []string{"stream"}),
		OutputsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outputs_dropped_total",
			Help:      "Total number of pipeline outputs dropped by the output period",
		}, []string{"stream"}),
		EventsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_started_total",
			Help:      "Total number of motion events opened",
		}, []string{"stream"}),
		EventsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ended_total",
			Help:      "Total number of motion events closed",
		}, []string{"stream"}),
		FilteredSeconds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookback_filtered_seconds_total",
			Help:      "Stream time evicted from the lookback buffer without being written",
		}, []string{"stream"}),
		ActiveEvents: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_events",
			Help:      "Number of currently open motion events",
		}, []string{"stream"}),
		HookFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_hook_failures_total",
			Help:      "Total number of failed event hook invocations",
		}, []string{"hook"}),
		ClassificationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classification_duration_seconds",
			Help:      "Duration of per-frame motion classification",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"stream"}),
	}
}

// StreamMetrics is the per-stream view of Metrics. A nil *StreamMetrics
// discards every observation.
type StreamMetrics struct {
	framesProcessed prometheus.Counter
	framesPushed    prometheus.Counter
	outputsDropped  prometheus.Counter
	eventsStarted   prometheus.Counter
	eventsEnded     prometheus.Counter
	filteredSeconds prometheus.Counter
	activeEvents    prometheus.Gauge
	classification  prometheus.Observer
}

// ForStream binds the stream label.
func (m *Metrics) ForStream(stream string) *StreamMetrics {
	if m == nil {
		return nil
	}
	return &StreamMetrics{
		framesProcessed: m.FramesProcessed.WithLabelValues(stream),
		framesPushed:    m.FramesPushed.WithLabelValues(stream),
		outputsDropped:  m.OutputsDropped.WithLabelValues(stream),
		eventsStarted:   m.EventsStarted.WithLabelValues(stream),
		eventsEnded:     m.EventsEnded.WithLabelValues(stream),
		filteredSeconds: m.FilteredSeconds.WithLabelValues(stream),
		activeEvents:    m.ActiveEvents.WithLabelValues(stream),
		classification:  m.ClassificationLatency.WithLabelValues(stream),
	}
}

// HookFailed counts a failed hook invocation.
func (m *Metrics) HookFailed(hook string) {
	if m == nil {
		return
	}
	m.HookFailures.WithLabelValues(hook).Inc()
}

func (s *StreamMetrics) FrameProcessed(took time.Duration) {
	if s == nil {
		return
	}
	s.framesProcessed.Inc()
	s.classification.Observe(took.Seconds())
}

func (s *StreamMetrics) FramePushed() {
	if s == nil {
		return
	}
	s.framesPushed.Inc()
}

func (s *StreamMetrics) OutputDropped() {
	if s == nil {
		return
	}
	s.outputsDropped.Inc()
}

func (s *StreamMetrics) EventStarted() {
	if s == nil {
		return
	}
	s.eventsStarted.Inc()
	s.activeEvents.Inc()
}

func (s *StreamMetrics) EventEnded() {
	if s == nil {
		return
	}
	s.eventsEnded.Inc()
	s.activeEvents.Dec()
}

func (s *StreamMetrics) Filtered(d time.Duration) {
	if s == nil || d <= 0 {
		return
	}
	s.filteredSeconds.Add(d.Seconds())
}
