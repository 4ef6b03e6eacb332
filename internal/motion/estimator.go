package motion

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jmylchreest/vidgate/internal/media"
)

// Estimator defaults.
const (
	DefaultBlockSize   = 16
	DefaultSearchRange = 4
)

// Estimator computes block motion vectors by exhaustive SAD block matching
// against the previous GRAY8 frame. It is not safe for concurrent use.
type Estimator struct {
	BlockSize   int
	SearchRange int

	prev          []byte
	width, height int
}

// NewEstimator returns an estimator with default block size and search range.
func NewEstimator() *Estimator {
	return &Estimator{BlockSize: DefaultBlockSize, SearchRange: DefaultSearchRange}
}

// Extract returns one vector per whole block of img. The first frame, and any
// frame whose size differs from its predecessor, yields zero displacements.
func (e *Estimator) Extract(img media.RawImage) ([]Vector, error) {
	if img.Format != media.FormatGray8 {
		return nil, status.Errorf(codes.InvalidArgument, "motion estimation needs %s frames, got %q", media.FormatGray8, img.Format)
	}
	if img.Width <= 0 || img.Height <= 0 || len(img.Pix) < img.Width*img.Height {
		return nil, fmt.Errorf("frame %dx%d has %d bytes", img.Width, img.Height, len(img.Pix))
	}
	bs := e.BlockSize
	if bs <= 0 {
		bs = DefaultBlockSize
	}

	reset := e.prev == nil || e.width != img.Width || e.height != img.Height
	cur := img.Pix[:img.Width*img.Height]

	vectors := make([]Vector, 0, (img.Width/bs)*(img.Height/bs))
	for by := 0; by+bs <= img.Height; by += bs {
		for bx := 0; bx+bs <= img.Width; bx += bs {
			v := Vector{X: bx, Y: by}
			if !reset {
				dx, dy := e.match(cur, bx, by, bs)
				// The block came from (bx+dx, by+dy), so it moved by the negation.
				v.DX, v.DY = float64(-dx), float64(-dy)
			}
			vectors = append(vectors, v)
		}
	}

	if reset {
		e.prev = make([]byte, len(cur))
		e.width, e.height = img.Width, img.Height
	}
	copy(e.prev, cur)
	return vectors, nil
}

func (e *Estimator) match(cur []byte, bx, by, bs int) (int, int) {
	best := e.sad(cur, bx, by, bx, by, bs, -1)
	bestDX, bestDY := 0, 0
	r := e.SearchRange
	for dy := -r; dy <= r && best > 0; dy++ {
		py := by + dy
		if py < 0 || py+bs > e.height {
			continue
		}
		for dx := -r; dx <= r; dx++ {
			px := bx + dx
			if (dx == 0 && dy == 0) || px < 0 || px+bs > e.width {
				continue
			}
			if s := e.sad(cur, bx, by, px, py, bs, best); s < best {
				best, bestDX, bestDY = s, dx, dy
			}
		}
	}
	return bestDX, bestDY
}

// sad sums absolute differences between the current block at (cx, cy) and the
// previous frame's block at (px, py), stopping early once limit is reached.
// A negative limit disables the early exit.
func (e *Estimator) sad(cur []byte, cx, cy, px, py, bs, limit int) int {
	sum := 0
	w := e.width
	for y := 0; y < bs; y++ {
		c := cur[(cy+y)*w+cx : (cy+y)*w+cx+bs]
		p := e.prev[(py+y)*w+px : (py+y)*w+px+bs]
		for x := range c {
			d := int(c[x]) - int(p[x])
			if d < 0 {
				d = -d
			}
			sum += d
		}
		if limit >= 0 && sum >= limit {
			return sum
		}
	}
	return sum
}
