// Package motion classifies per-frame motion from block motion vectors and
// estimates those vectors from consecutive grayscale frames.
package motion

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/vidgate/internal/media"
)

// Vector is the displacement of one macroblock between two frames.
type Vector struct {
	// X and Y are the block origin in pixels.
	X, Y int
	// DX and DY are the displacement in pixels.
	DX, DY float64
}

// Classifier decides whether a frame contains motion.
type Classifier interface {
	DetectMotion(vectors []Vector) bool
}

// ClassifierFactory builds a classifier for a stream resolution.
type ClassifierFactory func(width, height int, cfg ClassifierConfig) (Classifier, error)

// VectorExtractor derives motion vectors from a decoded frame. Implementations
// may keep state across frames.
type VectorExtractor interface {
	Extract(img media.RawImage) ([]Vector, error)
}

// Sensitivity selects the per-cell motion threshold.
type Sensitivity string

const (
	SensitivityHigh   Sensitivity = "high"
	SensitivityMedium Sensitivity = "medium"
	SensitivityLow    Sensitivity = "low"
)

// ParseSensitivity accepts high, medium or low in any case.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch v := Sensitivity(strings.ToLower(strings.TrimSpace(s))); v {
	case SensitivityHigh, SensitivityMedium, SensitivityLow:
		return v, nil
	default:
		return "", fmt.Errorf("unknown motion sensitivity %q", s)
	}
}

// Threshold is the fraction of moving blocks a cell needs to count as motion.
// Higher sensitivity means a lower threshold.
func (s Sensitivity) Threshold() float64 {
	switch s {
	case SensitivityHigh:
		return 0.3
	case SensitivityLow:
		return 0.9
	default:
		return 0.6
	}
}

// ClassifierConfig configures the grid classifier.
type ClassifierConfig struct {
	SpatialGridNumber    int
	TemporalBufferFrames int
	Sensitivity          Sensitivity
	// MinDisplacement is the displacement magnitude, in pixels, above which a
	// block counts as moving. Zero selects DefaultMinDisplacement.
	MinDisplacement float64
}

// DefaultMinDisplacement is the moving-block displacement threshold.
const DefaultMinDisplacement = 1.0
