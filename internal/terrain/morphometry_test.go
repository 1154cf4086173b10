package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTRI(t *testing.T) {
	t.Parallel()

	t.Run("flat terrain has zero ruggedness", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 1, 0.001), 5, 5, 200)
		out, err := ComputeTRI(g, ProductParams{})
		require.NoError(t, err)
		for _, v := range out.Data {
			assert.Equal(t, 0.0, v)
		}
	})

	t.Run("single spike", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 1, 0.001), 5, 5, 100)
		g.Set(2, 2, 110)

		out, err := ComputeTRI(g, ProductParams{})
		require.NoError(t, err)
		// The spike differs from all 8 flat neighbours by 10.
		assert.Equal(t, 10.0, out.At(2, 2))
		// Each adjacent pixel sees one 10m outlier among its 8 neighbours.
		assert.InDelta(t, 10.0/8, out.At(1, 2), 1e-12)
		// Pixels outside the spike's window are untouched.
		assert.Equal(t, 0.0, out.At(0, 0))
	})

	t.Run("nodata centre stays nodata", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 1, 0.001), 3, 3, 50)
		g.Set(1, 1, g.NoData)
		out, err := ComputeTRI(g, ProductParams{})
		require.NoError(t, err)
		assert.True(t, out.IsNoData(out.At(1, 1)))
		// Valid neighbours just skip the hole.
		assert.Equal(t, 0.0, out.At(0, 0))
	})

	t.Run("wider window reaches further", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 1, 0.001), 7, 7, 100)
		g.Set(3, 3, 124)

		out, err := ComputeTRI(g, ProductParams{WindowRadius: 2})
		require.NoError(t, err)
		// (2,2) has a full 5x5 window holding the spike: one 24m
		// outlier among 24 neighbours.
		assert.InDelta(t, 24.0/24, out.At(2, 2), 1e-12)
	})
}

func TestComputeTPI(t *testing.T) {
	t.Parallel()

	t.Run("ridge positive valley negative", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 1, 0.001), 5, 5, 100)
		g.Set(2, 2, 108) // local peak
		g.Set(0, 0, 92)  // local pit

		out, err := ComputeTPI(g, ProductParams{})
		require.NoError(t, err)
		assert.Equal(t, 8.0, out.At(2, 2))
		assert.Equal(t, -8.0, out.At(0, 0))
	})

	t.Run("flat terrain is zero", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 1, 0.001), 4, 4, 55)
		out, err := ComputeTPI(g, ProductParams{})
		require.NoError(t, err)
		for _, v := range out.Data {
			assert.Equal(t, 0.0, v)
		}
	})
}

func TestComputeSVF(t *testing.T) {
	t.Parallel()

	t.Run("flat terrain sees the whole sky", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 0.01, 0.001), 9, 9, 300)
		out, err := ComputeSVF(g, ProductParams{})
		require.NoError(t, err)
		for _, v := range out.Data {
			assert.Equal(t, 1.0, v)
		}
	})

	t.Run("pit sees less sky than the rim", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 0.01, 0.001), 9, 9, 100)
		g.Set(4, 4, 0) // deep pit in the centre

		out, err := ComputeSVF(g, ProductParams{SVFRadius: 3})
		require.NoError(t, err)
		pit := out.At(4, 4)
		assert.Less(t, pit, 1.0)
		assert.Greater(t, pit, 0.0)
		// A corner pixel is barely obstructed by the pit walls.
		assert.Greater(t, out.At(0, 0), pit)
	})

	t.Run("values stay within the unit interval", func(t *testing.T) {
		t.Parallel()
		g := planeGrid(t, northUp(0, 0.01, 0.001), 8, 8)
		out, err := ComputeSVF(g, ProductParams{SVFDirections: 8, SVFRadius: 4})
		require.NoError(t, err)
		for _, v := range out.Data {
			if out.IsNoData(v) {
				continue
			}
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	})

	t.Run("nodata centre stays nodata", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 0.01, 0.001), 5, 5, 10)
		g.Set(2, 2, g.NoData)
		out, err := ComputeSVF(g, ProductParams{})
		require.NoError(t, err)
		assert.True(t, out.IsNoData(out.At(2, 2)))
	})
}

func TestComputeLRM(t *testing.T) {
	t.Parallel()

	t.Run("flat terrain has zero relief", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 0.02, 0.001), 12, 12, 420)
		out, err := ComputeLRM(g, ProductParams{})
		require.NoError(t, err)
		for _, v := range out.Data {
			assert.InDelta(t, 0.0, v, 1e-9)
		}
	})

	t.Run("micro-relief survives on a flat background", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 0.02, 0.001), 15, 15, 100)
		g.Set(7, 7, 101.5) // subtle mound, e.g. a burial feature

		out, err := ComputeLRM(g, ProductParams{})
		require.NoError(t, err)
		assert.Greater(t, out.At(7, 7), 1.0)
		// Surrounding pixels dip slightly below the trend.
		assert.Less(t, out.At(6, 7), 0.0)
	})

	t.Run("linear slope is removed", func(t *testing.T) {
		t.Parallel()
		g := planeGrid(t, northUp(0, 0.02, 0.001), 15, 15)

		out, err := ComputeLRM(g, ProductParams{LRMBaseRadius: 3})
		require.NoError(t, err)
		// Interior pixels of a plane see a symmetric window, so the
		// smoothed surface equals the plane there.
		assert.InDelta(t, 0.0, out.At(7, 7), 1e-6)
	})

	t.Run("nodata centre stays nodata", func(t *testing.T) {
		t.Parallel()
		g := constGrid(t, northUp(0, 0.02, 0.001), 6, 6, 10)
		g.Set(3, 3, g.NoData)
		out, err := ComputeLRM(g, ProductParams{})
		require.NoError(t, err)
		assert.True(t, out.IsNoData(out.At(3, 3)))
	})
}
