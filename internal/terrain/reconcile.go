package terrain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/banshee-data/terrain.report/internal/geo"
)

// ResamplingKind selects the interpolation kernel used when a grid must be
// regridded onto the target lattice.
type ResamplingKind string

const (
	// ResampleBilinear interpolates elevation from the four surrounding
	// pixel centres. Nodata never contributes: a destination pixel with
	// any nodata neighbour in its footprint becomes nodata.
	ResampleBilinear ResamplingKind = "bilinear"
	// ResampleNearest takes the nearest pixel centre; appropriate for
	// categorical rasters.
	ResampleNearest ResamplingKind = "nearest"
)

// ReconcilePolicy tunes reconciliation. The zero value applies defaults.
type ReconcilePolicy struct {
	// TargetResolution fixes the output pixel size in degrees. Zero picks
	// the finer of the two inputs.
	TargetResolution float64 `json:"target_resolution,omitempty"`

	// MaxResolutionRatio bounds how much coarser one input may be before
	// resampling is refused. Zero means DefaultMaxResolutionRatio.
	MaxResolutionRatio float64 `json:"max_resolution_ratio,omitempty"`

	// Resampling selects the kernel. Empty means bilinear.
	Resampling ResamplingKind `json:"resampling,omitempty"`
}

// DefaultMaxResolutionRatio refuses to bridge inputs whose pixel sizes
// differ by more than this factor.
const DefaultMaxResolutionRatio = 4.0

func (p ReconcilePolicy) maxRatio() float64 {
	if p.MaxResolutionRatio > 0 {
		return p.MaxResolutionRatio
	}
	return DefaultMaxResolutionRatio
}

func (p ReconcilePolicy) kernel() ResamplingKind {
	if p.Resampling == "" {
		return ResampleBilinear
	}
	return p.Resampling
}

// Reconcile aligns two datasets onto a common grid: same CRS, resolution,
// extent, and dimensions. It distinguishes the two real-world cases that
// broke the original pipeline: offset-but-overlapping grids are resampled
// and cropped, while disjoint extents always fail with ExtentMismatchError.
// Inputs already satisfying the alignment invariant are returned unchanged.
func Reconcile(a, b *ElevationDataset, policy ReconcilePolicy) (*geo.RasterGrid, *geo.RasterGrid, error) {
	return ReconcileGrids(a.Grid, b.Grid, policy)
}

// ReconcileGrids is Reconcile on bare grids.
func ReconcileGrids(ga, gb *geo.RasterGrid, policy ReconcilePolicy) (*geo.RasterGrid, *geo.RasterGrid, error) {
	if err := ga.Validate(); err != nil {
		return nil, nil, fmt.Errorf("first input: %w", err)
	}
	if err := gb.Validate(); err != nil {
		return nil, nil, fmt.Errorf("second input: %w", err)
	}
	if ga.CRS != gb.CRS {
		return nil, nil, fmt.Errorf("cannot reconcile across CRS %q and %q; reproject upstream", ga.CRS, gb.CRS)
	}

	// Idempotence: aligned inputs pass through untouched.
	if geo.Aligned(ga, gb) == nil {
		return ga, gb, nil
	}

	spec, anchor, err := alignmentSpec(ga, gb, policy)
	if err != nil {
		return nil, nil, err
	}

	outA, err := regrid(ga, spec, anchor, policy.kernel())
	if err != nil {
		return nil, nil, err
	}
	outB, err := regrid(gb, spec, anchor, policy.kernel())
	if err != nil {
		return nil, nil, err
	}

	// Rounding at the snap boundary can leave the outputs a pixel apart;
	// clip both to the common window anchored at the top-left corner.
	if outA.Width != outB.Width || outA.Height != outB.Height {
		w := min(outA.Width, outB.Width)
		h := min(outA.Height, outB.Height)
		outA = cropPixels(outA, 0, 0, w, h)
		outB = cropPixels(outB, 0, 0, w, h)
	}
	if err := geo.Aligned(outA, outB); err != nil {
		return nil, nil, fmt.Errorf("reconciliation produced unaligned outputs: %w", err)
	}
	return outA, outB, nil
}

// alignmentSpec computes the target geometry: the intersection bbox snapped
// outward to the pixel lattice of the anchor grid (the finer input, or the
// first on a tie).
func alignmentSpec(ga, gb *geo.RasterGrid, policy ReconcilePolicy) (geo.AlignmentSpec, *geo.RasterGrid, error) {
	ba, bb := ga.Bound(), gb.Bound()
	inter, ok := intersect(ba, bb)
	if !ok {
		return geo.AlignmentSpec{}, nil, &ExtentMismatchError{BoundA: ba, BoundB: bb}
	}

	ra, _ := ga.Resolution()
	rb, _ := gb.Resolution()
	ratio := math.Max(ra, rb) / math.Min(ra, rb)
	if ratio > policy.maxRatio() {
		return geo.AlignmentSpec{}, nil, &ResolutionMismatchError{
			ResolutionA: ra,
			ResolutionB: rb,
			MaxRatio:    policy.maxRatio(),
		}
	}

	anchor := ga
	if rb < ra {
		anchor = gb
	}
	res := math.Min(ra, rb)
	if policy.TargetResolution > 0 {
		res = policy.TargetResolution
	}

	// Snap the intersection outward to full pixel boundaries of the
	// anchor lattice so pixel centres coincide exactly between outputs.
	tr := anchor.Transform
	minX := tr.OriginX + math.Floor((inter.Min[0]-tr.OriginX)/res)*res
	maxX := tr.OriginX + math.Ceil((inter.Max[0]-tr.OriginX)/res)*res
	// The Y lattice runs downward from the origin for north-up grids.
	maxY := tr.OriginY - math.Floor((tr.OriginY-inter.Max[1])/res)*res
	minY := tr.OriginY - math.Ceil((tr.OriginY-inter.Min[1])/res)*res

	width := int(math.Round((maxX - minX) / res))
	height := int(math.Round((maxY - minY) / res))
	if width < 1 || height < 1 {
		return geo.AlignmentSpec{}, nil, &ExtentMismatchError{BoundA: ba, BoundB: bb}
	}
	return geo.AlignmentSpec{
		CRS:         ga.CRS,
		ResolutionX: res,
		ResolutionY: res,
		MinX:        minX,
		MinY:        minY,
		MaxX:        maxX,
		MaxY:        maxY,
		Width:       width,
		Height:      height,
	}, anchor, nil
}

// regrid produces the grid covering spec from src. When src already lies on
// the target lattice the window is copied sample-for-sample; otherwise each
// destination pixel centre is interpolated from src.
func regrid(src *geo.RasterGrid, spec geo.AlignmentSpec, anchor *geo.RasterGrid, kernel ResamplingKind) (*geo.RasterGrid, error) {
	tr := geo.Transform{
		OriginX:     spec.MinX,
		OriginY:     spec.MaxY,
		PixelWidth:  spec.ResolutionX,
		PixelHeight: -spec.ResolutionY,
	}
	out, err := geo.NewRasterGrid(spec.CRS, tr, spec.Width, spec.Height, src.NoData)
	if err != nil {
		return nil, err
	}

	if onLattice(src, spec) {
		copyWindow(src, out)
		return out, nil
	}

	for row := 0; row < out.Height; row++ {
		for col := 0; col < out.Width; col++ {
			x, y := out.PixelCenter(col, row)
			var v float64
			var ok bool
			if kernel == ResampleNearest {
				v, ok = sampleNearest(src, x, y)
			} else {
				v, ok = sampleBilinear(src, x, y)
			}
			if ok {
				out.Set(col, row, v)
			}
		}
	}
	return out, nil
}

// onLattice reports whether src's pixel lattice coincides with the target:
// equal pixel size and an origin offset that is an integer pixel count.
func onLattice(src *geo.RasterGrid, spec geo.AlignmentSpec) bool {
	rx, ry := src.Resolution()
	const tol = 1e-9
	if math.Abs(rx-spec.ResolutionX) > tol*spec.ResolutionX ||
		math.Abs(ry-spec.ResolutionY) > tol*spec.ResolutionY {
		return false
	}
	dx := (spec.MinX - src.Transform.OriginX) / spec.ResolutionX
	dy := (src.Transform.OriginY - spec.MaxY) / spec.ResolutionY
	return math.Abs(dx-math.Round(dx)) < 1e-6 && math.Abs(dy-math.Round(dy)) < 1e-6
}

// copyWindow copies the samples of out's extent directly from src, pixel
// for pixel. Pixels outside src remain nodata.
func copyWindow(src, out *geo.RasterGrid) {
	colOff := int(math.Round((out.Transform.OriginX - src.Transform.OriginX) / src.Transform.PixelWidth))
	rowOff := int(math.Round((out.Transform.OriginY - src.Transform.OriginY) / src.Transform.PixelHeight))
	for row := 0; row < out.Height; row++ {
		srcRow := row + rowOff
		if srcRow < 0 || srcRow >= src.Height {
			continue
		}
		for col := 0; col < out.Width; col++ {
			srcCol := col + colOff
			if srcCol < 0 || srcCol >= src.Width {
				continue
			}
			out.Set(col, row, src.At(srcCol, srcRow))
		}
	}
}

// sampleBilinear interpolates src at (x, y) from the four surrounding pixel
// centres. Returns false when the point is outside src or any contributing
// neighbour is nodata.
func sampleBilinear(src *geo.RasterGrid, x, y float64) (float64, bool) {
	// Fractional pixel coordinates relative to pixel centres.
	fx := (x-src.Transform.OriginX)/src.Transform.PixelWidth - 0.5
	fy := (y-src.Transform.OriginY)/src.Transform.PixelHeight - 0.5
	c0 := int(math.Floor(fx))
	r0 := int(math.Floor(fy))
	wx := fx - float64(c0)
	wy := fy - float64(r0)

	v := 0.0
	for _, n := range [4]struct {
		dc, dr int
		w      float64
	}{
		{0, 0, (1 - wx) * (1 - wy)},
		{1, 0, wx * (1 - wy)},
		{0, 1, (1 - wx) * wy},
		{1, 1, wx * wy},
	} {
		c, r := c0+n.dc, r0+n.dr
		if c < 0 || c >= src.Width || r < 0 || r >= src.Height {
			return 0, false
		}
		s := src.At(c, r)
		if src.IsNoData(s) {
			return 0, false
		}
		v += n.w * s
	}
	return v, true
}

// sampleNearest takes the pixel containing (x, y).
func sampleNearest(src *geo.RasterGrid, x, y float64) (float64, bool) {
	c, r, ok := src.PixelAt(x, y)
	if !ok {
		return 0, false
	}
	v := src.At(c, r)
	if src.IsNoData(v) {
		return 0, false
	}
	return v, true
}

// cropPixels returns the sub-window [col0,col0+w) x [row0,row0+h).
func cropPixels(g *geo.RasterGrid, col0, row0, w, h int) *geo.RasterGrid {
	tr := g.Transform
	tr.OriginX += float64(col0) * tr.PixelWidth
	tr.OriginY += float64(row0) * tr.PixelHeight
	out, _ := geo.NewRasterGrid(g.CRS, tr, w, h, g.NoData)
	for row := 0; row < h; row++ {
		copy(out.Data[row*w:(row+1)*w], g.Data[(row0+row)*g.Width+col0:(row0+row)*g.Width+col0+w])
	}
	return out
}

// intersect computes the shared area of two bounds. False when they do not
// overlap with positive area.
func intersect(a, b orb.Bound) (orb.Bound, bool) {
	out := orb.Bound{
		Min: orb.Point{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: orb.Point{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}
	if out.Min[0] >= out.Max[0] || out.Min[1] >= out.Max[1] {
		return orb.Bound{}, false
	}
	return out, true
}
