package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGrid(t *testing.T, crs string, tr Transform, w, h int) *RasterGrid {
	t.Helper()
	g, err := NewRasterGrid(crs, tr, w, h, -9999)
	require.NoError(t, err)
	return g
}

func TestAligned(t *testing.T) {
	t.Parallel()

	base := func() *RasterGrid {
		return mustGrid(t, "EPSG:4326", northUp(-120, 48, 0.001), 100, 80)
	}

	t.Run("identical grids align", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, Aligned(base(), base()))
	})

	t.Run("CRS mismatch", func(t *testing.T) {
		t.Parallel()
		b := base()
		b.CRS = "EPSG:3857"
		err := Aligned(base(), b)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CRS")
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		t.Parallel()
		b := mustGrid(t, "EPSG:4326", northUp(-120, 48, 0.001), 100, 81)
		err := Aligned(base(), b)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dimensions")
	})

	t.Run("resolution mismatch", func(t *testing.T) {
		t.Parallel()
		b := mustGrid(t, "EPSG:4326", northUp(-120, 48, 0.002), 100, 80)
		err := Aligned(base(), b)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolution")
	})

	t.Run("resolution within relative tolerance aligns", func(t *testing.T) {
		t.Parallel()
		tr := northUp(-120, 48, 0.001)
		tr.PixelWidth += 1e-16
		tr.PixelHeight -= 1e-16
		b := mustGrid(t, "EPSG:4326", tr, 100, 80)
		assert.NoError(t, Aligned(base(), b))
	})

	t.Run("offset beyond half a pixel fails", func(t *testing.T) {
		t.Parallel()
		b := mustGrid(t, "EPSG:4326", northUp(-120+0.0006, 48, 0.001), 100, 80)
		err := Aligned(base(), b)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "extent")
	})

	t.Run("sub-pixel offset tolerated", func(t *testing.T) {
		t.Parallel()
		b := mustGrid(t, "EPSG:4326", northUp(-120+0.0004, 48, 0.001), 100, 80)
		assert.NoError(t, Aligned(base(), b))
	})
}
