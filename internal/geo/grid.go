// Package geo provides the in-memory raster model shared by the acquisition,
// reconciliation, and product-derivation layers. A RasterGrid is a dense
// row-major grid of float64 samples georeferenced by an affine transform.
// All geometric queries (bounds, pixel centres) derive solely from the
// transform and the pixel dimensions.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Transform is a rotation-free affine geotransform in the GDAL convention:
// OriginX/OriginY locate the outer corner of the top-left pixel, PixelWidth
// is positive east, and PixelHeight is negative for north-up grids.
type Transform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// RasterGrid is a single-band raster held fully in memory.
type RasterGrid struct {
	// CRS identifies the coordinate reference system, e.g. "EPSG:4326".
	CRS string `json:"crs"`

	Transform Transform `json:"transform"`

	// Width and Height are the pixel dimensions.
	Width  int `json:"width"`
	Height int `json:"height"`

	// NoData is the sentinel marking invalid samples. NaN is permitted.
	NoData float64 `json:"nodata"`

	// Data holds Width*Height samples, row-major with row 0 at the top.
	Data []float64 `json:"-"`
}

// NewRasterGrid allocates a grid of the given dimensions with every sample
// initialised to the nodata sentinel.
func NewRasterGrid(crs string, tr Transform, width, height int, nodata float64) (*RasterGrid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raster dimensions must be positive, got %dx%d", width, height)
	}
	if tr.PixelWidth == 0 || tr.PixelHeight == 0 {
		return nil, fmt.Errorf("pixel size must be non-zero, got %g x %g", tr.PixelWidth, tr.PixelHeight)
	}
	data := make([]float64, width*height)
	for i := range data {
		data[i] = nodata
	}
	return &RasterGrid{
		CRS:       crs,
		Transform: tr,
		Width:     width,
		Height:    height,
		NoData:    nodata,
		Data:      data,
	}, nil
}

// Validate checks the buffer-length invariant.
func (g *RasterGrid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("raster dimensions must be positive, got %dx%d", g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("raster buffer length %d does not match %dx%d", len(g.Data), g.Width, g.Height)
	}
	return nil
}

// Idx returns the buffer index for (col, row). No bounds check; callers
// iterate within [0,Width)x[0,Height).
func (g *RasterGrid) Idx(col, row int) int {
	return row*g.Width + col
}

// At returns the sample at (col, row).
func (g *RasterGrid) At(col, row int) float64 {
	return g.Data[row*g.Width+col]
}

// Set writes the sample at (col, row).
func (g *RasterGrid) Set(col, row int, v float64) {
	g.Data[row*g.Width+col] = v
}

// IsNoData reports whether v is the nodata sentinel. A NaN sentinel matches
// any NaN sample.
func (g *RasterGrid) IsNoData(v float64) bool {
	if math.IsNaN(g.NoData) {
		return math.IsNaN(v)
	}
	return v == g.NoData
}

// Resolution returns the absolute pixel size (x, y).
func (g *RasterGrid) Resolution() (float64, float64) {
	return math.Abs(g.Transform.PixelWidth), math.Abs(g.Transform.PixelHeight)
}

// Bound returns the geographic bounding box covered by the full pixel extent.
func (g *RasterGrid) Bound() orb.Bound {
	x0 := g.Transform.OriginX
	y0 := g.Transform.OriginY
	x1 := x0 + float64(g.Width)*g.Transform.PixelWidth
	y1 := y0 + float64(g.Height)*g.Transform.PixelHeight
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// PixelCenter returns the geographic coordinates of the centre of (col, row).
func (g *RasterGrid) PixelCenter(col, row int) (x, y float64) {
	x = g.Transform.OriginX + (float64(col)+0.5)*g.Transform.PixelWidth
	y = g.Transform.OriginY + (float64(row)+0.5)*g.Transform.PixelHeight
	return x, y
}

// PixelAt returns the (col, row) containing the geographic point, and whether
// the point falls inside the grid.
func (g *RasterGrid) PixelAt(x, y float64) (col, row int, ok bool) {
	col = int(math.Floor((x - g.Transform.OriginX) / g.Transform.PixelWidth))
	row = int(math.Floor((y - g.Transform.OriginY) / g.Transform.PixelHeight))
	ok = col >= 0 && col < g.Width && row >= 0 && row < g.Height
	return col, row, ok
}

// Clone returns a deep copy of the grid.
func (g *RasterGrid) Clone() *RasterGrid {
	out := *g
	out.Data = make([]float64, len(g.Data))
	copy(out.Data, g.Data)
	return &out
}

// ValidCount returns the number of non-nodata samples.
func (g *RasterGrid) ValidCount() int {
	n := 0
	for _, v := range g.Data {
		if !g.IsNoData(v) {
			n++
		}
	}
	return n
}
