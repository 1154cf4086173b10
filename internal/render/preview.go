// Package render produces PNG previews of terrain rasters for quick visual
// inspection of derived artifacts. Previews are advisory imagery, not the
// consumer-boundary raster itself.
package render

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/terrain.report/internal/geo"
)

// rasterXYZ adapts a RasterGrid to plotter.GridXYZ. Rows are flipped so Y
// increases with the row index, as the heat map expects, and nodata samples
// become NaN, which the heat map leaves blank.
type rasterXYZ struct {
	g *geo.RasterGrid
}

func (r rasterXYZ) Dims() (c, rows int) { return r.g.Width, r.g.Height }

func (r rasterXYZ) Z(c, row int) float64 {
	v := r.g.At(c, r.g.Height-1-row)
	if r.g.IsNoData(v) {
		return math.NaN()
	}
	return v
}

func (r rasterXYZ) X(c int) float64 {
	x, _ := r.g.PixelCenter(c, 0)
	return x
}

func (r rasterXYZ) Y(row int) float64 {
	_, y := r.g.PixelCenter(0, r.g.Height-1-row)
	return y
}

// PreviewPNG renders the grid as a heat-map PNG at path.
func PreviewPNG(g *geo.RasterGrid, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "longitude"
	p.Y.Label.Text = "latitude"

	pal := moreland.SmoothBlueRed().Palette(255)
	hm := plotter.NewHeatMap(rasterXYZ{g: g}, pal)
	p.Add(hm)

	img := vgimg.New(8*vg.Inch, 8*vg.Inch)
	dc := draw.New(img)
	p.Draw(dc)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	defer f.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	return nil
}
