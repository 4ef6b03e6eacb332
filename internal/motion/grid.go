package motion

import (
	"fmt"
	"math"
)

// GridClassifier splits the frame into a square grid of cells and reports
// motion when the moving-block fraction of any cell, averaged over the recent
// frames, reaches the sensitivity threshold.
type GridClassifier struct {
	width, height   int
	grid            int
	threshold       float64
	minDisplacement float64

	// history is a ring of per-cell fractions, one row per frame.
	history [][]float64
	sums    []float64
	next    int
	filled  int
}

// NewGridClassifier validates cfg and creates a classifier.
func NewGridClassifier(width, height int, cfg ClassifierConfig) (*GridClassifier, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if cfg.SpatialGridNumber < 1 {
		return nil, fmt.Errorf("spatial grid number must be positive, got %d", cfg.SpatialGridNumber)
	}
	if cfg.TemporalBufferFrames < 1 {
		return nil, fmt.Errorf("temporal buffer frames must be positive, got %d", cfg.TemporalBufferFrames)
	}
	minDisp := cfg.MinDisplacement
	if minDisp <= 0 {
		minDisp = DefaultMinDisplacement
	}

	cells := cfg.SpatialGridNumber * cfg.SpatialGridNumber
	history := make([][]float64, cfg.TemporalBufferFrames)
	for i := range history {
		history[i] = make([]float64, cells)
	}
	return &GridClassifier{
		width:           width,
		height:          height,
		grid:            cfg.SpatialGridNumber,
		threshold:       cfg.Sensitivity.Threshold(),
		minDisplacement: minDisp,
		history:         history,
		sums:            make([]float64, cells),
	}, nil
}

// GridClassifierFactory is a ClassifierFactory producing GridClassifiers.
func GridClassifierFactory(width, height int, cfg ClassifierConfig) (Classifier, error) {
	return NewGridClassifier(width, height, cfg)
}

// DetectMotion records the frame's vectors and classifies it.
func (g *GridClassifier) DetectMotion(vectors []Vector) bool {
	cells := len(g.sums)
	total := make([]int, cells)
	moving := make([]int, cells)
	for _, v := range vectors {
		idx := g.cell(v.X, v.Y)
		total[idx]++
		if math.Hypot(v.DX, v.DY) > g.minDisplacement {
			moving[idx]++
		}
	}

	row := g.history[g.next]
	for i := range row {
		g.sums[i] -= row[i]
		row[i] = 0
		if total[i] > 0 {
			row[i] = float64(moving[i]) / float64(total[i])
		}
		g.sums[i] += row[i]
	}
	g.next = (g.next + 1) % len(g.history)
	if g.filled < len(g.history) {
		g.filled++
	}

	detected := false
	for i := range g.sums {
		if g.sums[i]/float64(g.filled) >= g.threshold {
			detected = true
		}
	}
	return detected
}

func (g *GridClassifier) cell(x, y int) int {
	cx := clamp(x*g.grid/g.width, 0, g.grid-1)
	cy := clamp(y*g.grid/g.height, 0, g.grid-1)
	return cy*g.grid + cx
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
