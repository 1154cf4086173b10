package terrain

import (
	"math"

	"github.com/banshee-data/terrain.report/internal/geo"
	"github.com/banshee-data/terrain.report/internal/units"
)

const degToRad = math.Pi / 180

// gradient computes the elevation gradient (dz/dx, dz/dy in m/m) at
// (col, row) with Horn's 8-neighbour weighting. Pixel sizes in degrees are
// scaled to metres at the pixel's latitude, since the grids are geographic.
// Returns false at edges and wherever any neighbour is nodata, so gradient
// products propagate nodata instead of inventing slopes from sentinels.
func gradient(g *geo.RasterGrid, col, row int) (dzdx, dzdy float64, ok bool) {
	if col < 1 || col >= g.Width-1 || row < 1 || row >= g.Height-1 {
		return 0, 0, false
	}
	var z [3][3]float64
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			v := g.At(col+dc, row+dr)
			if g.IsNoData(v) {
				return 0, 0, false
			}
			z[dr+1][dc+1] = v
		}
	}
	_, y := g.PixelCenter(col, row)
	pdx, pdy := g.Resolution()
	mx, my := units.PixelSizeMeters(pdx, pdy, y)

	dzdx = ((z[0][2] + 2*z[1][2] + z[2][2]) - (z[0][0] + 2*z[1][0] + z[2][0])) / (8 * mx)
	dzdy = ((z[2][0] + 2*z[2][1] + z[2][2]) - (z[0][0] + 2*z[0][1] + z[0][2])) / (8 * my)
	return dzdx, dzdy, true
}

// ComputeSlope derives slope in degrees from the finite-difference gradient.
func ComputeSlope(dtm *geo.RasterGrid) (*geo.RasterGrid, error) {
	if err := requireAligned(ProductSlope, dtm); err != nil {
		return nil, err
	}
	out := emptyLike(dtm)
	for row := 0; row < dtm.Height; row++ {
		for col := 0; col < dtm.Width; col++ {
			dzdx, dzdy, ok := gradient(dtm, col, row)
			if !ok {
				continue
			}
			out.Set(col, row, math.Atan(math.Hypot(dzdx, dzdy))/degToRad)
		}
	}
	return out, nil
}

// ComputeAspect derives aspect in compass degrees (0 north, clockwise).
// Flat pixels (zero gradient) are nodata, matching the convention that
// aspect is undefined on flats.
func ComputeAspect(dtm *geo.RasterGrid) (*geo.RasterGrid, error) {
	if err := requireAligned(ProductAspect, dtm); err != nil {
		return nil, err
	}
	out := emptyLike(dtm)
	for row := 0; row < dtm.Height; row++ {
		for col := 0; col < dtm.Width; col++ {
			dzdx, dzdy, ok := gradient(dtm, col, row)
			if !ok || (dzdx == 0 && dzdy == 0) {
				continue
			}
			a := math.Atan2(dzdy, -dzdx) / degToRad
			// Convert from math angle to compass bearing.
			bearing := 90 - a
			if bearing < 0 {
				bearing += 360
			}
			if bearing >= 360 {
				bearing -= 360
			}
			out.Set(col, row, bearing)
		}
	}
	return out, nil
}

// ComputeHillshade derives the standard illumination model (0-255) for a
// light source at the given azimuth/altitude, from slope and aspect of the
// 8-neighbour gradient. Edge pixels propagate nodata.
func ComputeHillshade(dtm *geo.RasterGrid, azimuthDeg, altitudeDeg float64) (*geo.RasterGrid, error) {
	if err := requireAligned(ProductHillshade, dtm); err != nil {
		return nil, err
	}
	azimuth := azimuthDeg * degToRad
	altitude := altitudeDeg * degToRad
	sinAlt := math.Sin(altitude)
	cosAlt := math.Cos(altitude)

	out := emptyLike(dtm)
	for row := 0; row < dtm.Height; row++ {
		for col := 0; col < dtm.Width; col++ {
			dzdx, dzdy, ok := gradient(dtm, col, row)
			if !ok {
				continue
			}
			slope := math.Atan(math.Hypot(dzdx, dzdy))
			aspect := math.Atan2(dzdy, -dzdx)
			shade := sinAlt*math.Cos(slope) +
				cosAlt*math.Sin(slope)*math.Cos(azimuth-math.Pi/2-aspect)
			if shade < 0 {
				shade = 0
			}
			out.Set(col, row, math.Round(shade*255))
		}
	}
	return out, nil
}
