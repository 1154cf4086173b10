package terrain

import (
	"math"

	"github.com/banshee-data/terrain.report/internal/geo"
)

// neighbourhoodStats walks the square window of the given radius around
// (col, row), excluding the centre, and returns the count, mean, and mean
// absolute difference to the centre over valid neighbours.
func neighbourhoodStats(g *geo.RasterGrid, col, row, radius int, centre float64) (n int, mean, meanAbsDiff float64) {
	var sum, sumAbs float64
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			if dc == 0 && dr == 0 {
				continue
			}
			c, r := col+dc, row+dr
			if c < 0 || c >= g.Width || r < 0 || r >= g.Height {
				continue
			}
			v := g.At(c, r)
			if g.IsNoData(v) {
				continue
			}
			n++
			sum += v
			sumAbs += math.Abs(v - centre)
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	return n, sum / float64(n), sumAbs / float64(n)
}

// ComputeTRI derives the terrain ruggedness index: the mean absolute
// elevation difference between each pixel and its neighbours within the
// window radius.
func ComputeTRI(dtm *geo.RasterGrid, params ProductParams) (*geo.RasterGrid, error) {
	if err := requireAligned(ProductTRI, dtm); err != nil {
		return nil, err
	}
	radius := params.window()
	out := emptyLike(dtm)
	for row := 0; row < dtm.Height; row++ {
		for col := 0; col < dtm.Width; col++ {
			centre := dtm.At(col, row)
			if dtm.IsNoData(centre) {
				continue
			}
			n, _, meanAbsDiff := neighbourhoodStats(dtm, col, row, radius, centre)
			if n == 0 {
				continue
			}
			out.Set(col, row, meanAbsDiff)
		}
	}
	return out, nil
}

// ComputeTPI derives the topographic position index: centre elevation minus
// the neighbourhood mean. Positive values sit above their surroundings
// (ridges), negative below (valleys).
func ComputeTPI(dtm *geo.RasterGrid, params ProductParams) (*geo.RasterGrid, error) {
	if err := requireAligned(ProductTPI, dtm); err != nil {
		return nil, err
	}
	radius := params.window()
	out := emptyLike(dtm)
	for row := 0; row < dtm.Height; row++ {
		for col := 0; col < dtm.Width; col++ {
			centre := dtm.At(col, row)
			if dtm.IsNoData(centre) {
				continue
			}
			n, mean, _ := neighbourhoodStats(dtm, col, row, radius, centre)
			if n == 0 {
				continue
			}
			out.Set(col, row, centre-mean)
		}
	}
	return out, nil
}
