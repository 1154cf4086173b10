package geo

import (
	"fmt"
	"math"
)

// AlignmentSpec describes the target geometry a reconciliation resolves to.
// It is an intermediate value computed per request, never persisted.
type AlignmentSpec struct {
	CRS         string
	ResolutionX float64
	ResolutionY float64
	MinX, MinY  float64
	MaxX, MaxY  float64
	Width       int
	Height      int
}

// Aligned reports whether two grids are pairwise identical in CRS,
// resolution, pixel dimensions, and extent. Bounding-box corners must match
// within a sub-pixel tolerance (half the pixel size). A nil reason means the
// grids are aligned; otherwise the reason names the first mismatch found,
// with enough numbers to diagnose it.
func Aligned(a, b *RasterGrid) error {
	if a.CRS != b.CRS {
		return fmt.Errorf("CRS differs: %q vs %q", a.CRS, b.CRS)
	}
	if a.Width != b.Width || a.Height != b.Height {
		return fmt.Errorf("dimensions differ: %dx%d vs %dx%d", a.Width, a.Height, b.Width, b.Height)
	}
	axr, ayr := a.Resolution()
	bxr, byr := b.Resolution()
	// Resolution tolerance is relative; grids resampled through float maths
	// may differ in the last few ulps.
	const relTol = 1e-9
	if !closeRel(axr, bxr, relTol) || !closeRel(ayr, byr, relTol) {
		return fmt.Errorf("resolution differs: (%g, %g) vs (%g, %g)", axr, ayr, bxr, byr)
	}
	subpixel := math.Min(axr, ayr) / 2
	ab, bb := a.Bound(), b.Bound()
	for _, c := range [][2]float64{
		{ab.Min[0], bb.Min[0]},
		{ab.Min[1], bb.Min[1]},
		{ab.Max[0], bb.Max[0]},
		{ab.Max[1], bb.Max[1]},
	} {
		if math.Abs(c[0]-c[1]) > subpixel {
			return fmt.Errorf("extent differs beyond sub-pixel tolerance: %v vs %v", ab, bb)
		}
	}
	return nil
}

func closeRel(a, b, tol float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= tol*scale
}
