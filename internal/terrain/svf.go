package terrain

import (
	"math"

	"github.com/banshee-data/terrain.report/internal/geo"
	"github.com/banshee-data/terrain.report/internal/units"
)

// ComputeSVF estimates the sky view factor: the fraction of the sky
// hemisphere visible from each pixel, in [0,1]. For each of the configured
// azimuth directions the maximum horizon angle within the search radius is
// found by stepping along the direction; the per-direction sky fraction is
// 1-sin(horizon), averaged over all directions. Nodata neighbours are
// treated as non-obstructing, so partially valid neighbourhoods still yield
// an estimate; a nodata centre yields nodata.
func ComputeSVF(dtm *geo.RasterGrid, params ProductParams) (*geo.RasterGrid, error) {
	if err := requireAligned(ProductSVF, dtm); err != nil {
		return nil, err
	}
	dirs := params.svfDirections()
	radius := params.svfRadius()

	pdx, pdy := dtm.Resolution()
	out := emptyLike(dtm)
	for row := 0; row < dtm.Height; row++ {
		// Metre scale varies with latitude; resolve once per row.
		_, y := dtm.PixelCenter(0, row)
		mx, my := units.PixelSizeMeters(pdx, pdy, y)

		for col := 0; col < dtm.Width; col++ {
			centre := dtm.At(col, row)
			if dtm.IsNoData(centre) {
				continue
			}
			skySum := 0.0
			for d := 0; d < dirs; d++ {
				theta := 2 * math.Pi * float64(d) / float64(dirs)
				dx := math.Cos(theta)
				dy := math.Sin(theta)
				maxHorizon := 0.0
				for step := 1; step <= radius; step++ {
					c := col + int(math.Round(dx*float64(step)))
					r := row + int(math.Round(dy*float64(step)))
					if c < 0 || c >= dtm.Width || r < 0 || r >= dtm.Height {
						break
					}
					v := dtm.At(c, r)
					if dtm.IsNoData(v) {
						continue
					}
					dist := math.Hypot(dx*float64(step)*mx, dy*float64(step)*my)
					if dist == 0 {
						continue
					}
					angle := math.Atan((v - centre) / dist)
					if angle > maxHorizon {
						maxHorizon = angle
					}
				}
				skySum += 1 - math.Sin(maxHorizon)
			}
			out.Set(col, row, skySum/float64(dirs))
		}
	}
	return out, nil
}
