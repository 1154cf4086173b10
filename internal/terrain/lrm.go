package terrain

import (
	"math"

	"github.com/banshee-data/terrain.report/internal/geo"
)

// ComputeLRM derives the local relief model: elevation minus an adaptively
// smoothed elevation surface. The smoothing window grows with estimated
// terrain roughness (the grid-wide mean TRI), so rugged terrain is compared
// against a broader trend surface and subtle micro-relief survives in flat
// terrain. Pixels whose smoothing window holds no valid neighbours are
// nodata.
func ComputeLRM(dtm *geo.RasterGrid, params ProductParams) (*geo.RasterGrid, error) {
	if err := requireAligned(ProductLRM, dtm); err != nil {
		return nil, err
	}

	radius := adaptiveRadius(dtm, params.lrmRadius())
	out := emptyLike(dtm)
	for row := 0; row < dtm.Height; row++ {
		for col := 0; col < dtm.Width; col++ {
			centre := dtm.At(col, row)
			if dtm.IsNoData(centre) {
				continue
			}
			sum := centre
			n := 1
			for dr := -radius; dr <= radius; dr++ {
				for dc := -radius; dc <= radius; dc++ {
					if dc == 0 && dr == 0 {
						continue
					}
					c, r := col+dc, row+dr
					if c < 0 || c >= dtm.Width || r < 0 || r >= dtm.Height {
						continue
					}
					v := dtm.At(c, r)
					if dtm.IsNoData(v) {
						continue
					}
					sum += v
					n++
				}
			}
			out.Set(col, row, centre-sum/float64(n))
		}
	}
	return out, nil
}

// adaptiveRadius scales the base smoothing radius by the grid's mean
// ruggedness: roughly one extra pixel of radius per 2m of mean absolute
// neighbour difference, capped at 4x the base.
func adaptiveRadius(dtm *geo.RasterGrid, base int) int {
	var sum float64
	var n int
	// Sparse sample of the grid is enough to estimate roughness.
	stride := dtm.Height/64 + 1
	for row := 1; row < dtm.Height-1; row += stride {
		for col := 1; col < dtm.Width-1; col += stride {
			centre := dtm.At(col, row)
			if dtm.IsNoData(centre) {
				continue
			}
			cnt, _, meanAbsDiff := neighbourhoodStats(dtm, col, row, 1, centre)
			if cnt == 0 {
				continue
			}
			sum += meanAbsDiff
			n++
		}
	}
	if n == 0 {
		return base
	}
	scaled := base + int(math.Round(sum/float64(n)/2))
	if scaled > 4*base {
		scaled = 4 * base
	}
	return scaled
}
