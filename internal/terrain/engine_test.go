package terrain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticPair(t *testing.T) (*ElevationDataset, *ElevationDataset) {
	t.Helper()
	p := NewSyntheticProvider()

	dtmReq := testRequest()
	dtmReq.Surface = SurfaceTerrain
	dtm, err := p.Fetch(context.Background(), dtmReq)
	require.NoError(t, err)

	dsmReq := testRequest()
	dsmReq.Surface = SurfaceSurface
	dsm, err := p.Fetch(context.Background(), dsmReq)
	require.NoError(t, err)
	return dtm, dsm
}

func TestEngineCompute(t *testing.T) {
	t.Parallel()

	engine := NewEngine(EngineOptions{})
	dtm, dsm := syntheticPair(t)

	t.Run("dtm passthrough clones", func(t *testing.T) {
		t.Parallel()
		out, err := engine.Compute(ProductDTM, dtm.Grid, nil, ProductParams{})
		require.NoError(t, err)
		assert.Equal(t, dtm.Grid.Data, out.Data)
		assert.NotSame(t, dtm.Grid, out)
	})

	t.Run("chm requires a surface model", func(t *testing.T) {
		t.Parallel()
		_, err := engine.Compute(ProductCHM, dtm.Grid, nil, ProductParams{})
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()
		_, err := engine.Compute(ProductKind("contours"), dtm.Grid, dsm.Grid, ProductParams{})
		assert.Error(t, err)
	})

	t.Run("every kind computes over the synthetic pair", func(t *testing.T) {
		t.Parallel()
		for _, kind := range ProductKinds {
			out, err := engine.Compute(kind, dtm.Grid, dsm.Grid, ProductParams{})
			require.NoError(t, err, "kind %s", kind)
			assert.Greater(t, out.ValidCount(), 0, "kind %s", kind)
		}
	})
}

func TestEngineDerive(t *testing.T) {
	t.Parallel()

	dtm, dsm := syntheticPair(t)

	t.Run("product carries sources and quality", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(EngineOptions{})
		p, err := engine.Derive(context.Background(), ProductCHM, dtm, dsm, ProductParams{})
		require.NoError(t, err)

		assert.Equal(t, ProductCHM, p.Kind)
		assert.Equal(t, []Fingerprint{dtm.Fingerprint, dsm.Fingerprint}, p.Sources)
		assert.Equal(t, ProductParams{}.Hash(), p.ParamHash)
		require.NotNil(t, p.Quality)
		assert.Greater(t, p.Quality.ValidPixelFraction, 0.0)
	})

	t.Run("cancelled context computes nothing", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(EngineOptions{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := engine.Derive(ctx, ProductSlope, dtm, nil, ProductParams{})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("store round trip skips recomputation", func(t *testing.T) {
		t.Parallel()
		store := newMemoryProductStore()
		engine := NewEngine(EngineOptions{Store: store})

		first, err := engine.Derive(context.Background(), ProductHillshade, dtm, dsm, ProductParams{})
		require.NoError(t, err)
		assert.Equal(t, 1, store.saves)

		second, err := engine.Derive(context.Background(), ProductHillshade, dtm, dsm, ProductParams{})
		require.NoError(t, err)
		assert.Equal(t, 1, store.saves)
		assert.Same(t, first.Grid, second.Grid)

		// Different params mean a different key.
		_, err = engine.Derive(context.Background(), ProductHillshade, dtm, dsm, ProductParams{AzimuthDeg: 90})
		require.NoError(t, err)
		assert.Equal(t, 2, store.saves)
	})
}

func TestEngineDeriveAll(t *testing.T) {
	t.Parallel()

	dtm, dsm := syntheticPair(t)

	t.Run("all kinds in order", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(EngineOptions{Workers: 3})
		products, err := engine.DeriveAll(context.Background(), dtm, dsm, ProductKinds, ProductParams{}, ReconcilePolicy{})
		require.NoError(t, err)
		require.Len(t, products, len(ProductKinds))
		for i, kind := range ProductKinds {
			require.NotNil(t, products[i], "kind %s", kind)
			assert.Equal(t, kind, products[i].Kind)
		}
	})

	t.Run("chm is nonnegative over the synthetic pair", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(EngineOptions{})
		products, err := engine.DeriveAll(context.Background(), dtm, dsm, []ProductKind{ProductCHM}, ProductParams{}, ReconcilePolicy{})
		require.NoError(t, err)
		chm := products[0]
		for _, v := range chm.Grid.Data {
			if chm.Grid.IsNoData(v) {
				continue
			}
			assert.GreaterOrEqual(t, v, 0.0)
		}
		assert.False(t, chm.Quality.HasFlag(FlagSuspectRange))
	})

	t.Run("disjoint inputs fail up front", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(EngineOptions{})
		farReq := testRequest()
		farReq.Latitude = 12.0
		farReq.Longitude = 55.0
		farReq.Surface = SurfaceSurface
		far, err := NewSyntheticProvider().Fetch(context.Background(), farReq)
		require.NoError(t, err)

		_, err = engine.DeriveAll(context.Background(), dtm, far, []ProductKind{ProductCHM}, ProductParams{}, ReconcilePolicy{})
		assert.ErrorAs(t, err, new(*ExtentMismatchError))
	})

	t.Run("cancellation fails the batch", func(t *testing.T) {
		t.Parallel()
		engine := NewEngine(EngineOptions{Workers: 2})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := engine.DeriveAll(ctx, dtm, dsm, ProductKinds, ProductParams{}, ReconcilePolicy{})
		assert.Error(t, err)
	})
}

// memoryProductStore is an in-process ProductStore for engine tests.
type memoryProductStore struct {
	mu       sync.Mutex
	products map[string]*DerivedProduct
	saves    int
}

func newMemoryProductStore() *memoryProductStore {
	return &memoryProductStore{products: make(map[string]*DerivedProduct)}
}

func productKey(sources []Fingerprint, kind ProductKind, paramHash string) string {
	key := string(kind) + "|" + paramHash
	for _, s := range sources {
		key += "|" + string(s)
	}
	return key
}

func (s *memoryProductStore) SaveProduct(ctx context.Context, p *DerivedProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[productKey(p.Sources, p.Kind, p.ParamHash)] = p
	s.saves++
	return nil
}

func (s *memoryProductStore) LoadProduct(ctx context.Context, sources []Fingerprint, kind ProductKind, paramHash string) (*DerivedProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productKey(sources, kind, paramHash)]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func TestEngineWorkerDefaults(t *testing.T) {
	t.Parallel()

	e := NewEngine(EngineOptions{})
	assert.GreaterOrEqual(t, e.workers, 1)
	assert.LessOrEqual(t, e.workers, 4)

	e = NewEngine(EngineOptions{Workers: 9})
	assert.Equal(t, 9, e.workers)
}
