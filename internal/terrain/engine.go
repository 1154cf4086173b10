package terrain

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/terrain.report/internal/geo"
	"github.com/banshee-data/terrain.report/internal/monitoring"
)

// ProductStore persists derived products keyed by (sources, kind, params).
// Implemented by terraindb.
type ProductStore interface {
	SaveProduct(ctx context.Context, p *DerivedProduct) error
	LoadProduct(ctx context.Context, sources []Fingerprint, kind ProductKind, paramHash string) (*DerivedProduct, error)
}

// EngineOptions tunes the derivation engine.
type EngineOptions struct {
	// Workers bounds concurrent product computations. Raster buffers can
	// be tens of millions of samples, so the pool caps resident memory.
	// Zero means GOMAXPROCS capped at 4.
	Workers int

	// Store, when non-nil, persists products and serves repeat requests.
	Store ProductStore

	// Validation applies to every computed product.
	Validation ValidationPolicy
}

// Engine computes derived terrain products from aligned inputs on a bounded
// worker pool. Every compute operation is a pure function of its inputs and
// parameters; inputs are never mutated.
type Engine struct {
	workers    int
	store      ProductStore
	validation ValidationPolicy
}

// NewEngine builds a derivation engine.
func NewEngine(opts EngineOptions) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
		if workers > 4 {
			workers = 4
		}
	}
	return &Engine{
		workers:    workers,
		store:      opts.Store,
		validation: opts.Validation,
	}
}

// Compute runs one product computation. The alignment gate inside each
// compute function rejects unaligned inputs before any work happens. dsm is
// required only for CHM (and ignored elsewhere).
func (e *Engine) Compute(kind ProductKind, dtm, dsm *geo.RasterGrid, params ProductParams) (*geo.RasterGrid, error) {
	switch kind {
	case ProductDTM:
		if err := requireAligned(ProductDTM, dtm); err != nil {
			return nil, err
		}
		return dtm.Clone(), nil
	case ProductDSM:
		if dsm == nil {
			return nil, fmt.Errorf("compute %s: no surface model supplied", kind)
		}
		if err := requireAligned(ProductDSM, dsm); err != nil {
			return nil, err
		}
		return dsm.Clone(), nil
	case ProductCHM:
		if dsm == nil {
			return nil, fmt.Errorf("compute %s: no surface model supplied", kind)
		}
		return ComputeCHM(dtm, dsm)
	case ProductHillshade:
		return ComputeHillshade(dtm, params.azimuth(), params.altitude())
	case ProductSlope:
		return ComputeSlope(dtm)
	case ProductAspect:
		return ComputeAspect(dtm)
	case ProductTRI:
		return ComputeTRI(dtm, params)
	case ProductTPI:
		return ComputeTPI(dtm, params)
	case ProductSVF:
		return ComputeSVF(dtm, params)
	case ProductLRM:
		return ComputeLRM(dtm, params)
	case ProductColorRelief:
		return ComputeColorRelief(dtm, params)
	default:
		return nil, fmt.Errorf("unknown product kind %q", kind)
	}
}

// Derive computes, validates, and (when a store is configured) persists one
// product from already-reconciled datasets. A previously persisted product
// for the same sources, kind, and params is returned without recomputation;
// a changed source fingerprint changes the key and forces recomputation.
func (e *Engine) Derive(ctx context.Context, kind ProductKind, dtm, dsm *ElevationDataset, params ProductParams) (*DerivedProduct, error) {
	sources := []Fingerprint{dtm.Fingerprint}
	var dsmGrid *geo.RasterGrid
	if dsm != nil {
		sources = append(sources, dsm.Fingerprint)
		dsmGrid = dsm.Grid
	}
	paramHash := params.Hash()

	if e.store != nil {
		if p, err := e.store.LoadProduct(ctx, sources, kind, paramHash); err == nil && p != nil {
			return p, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grid, err := e.Compute(kind, dtm.Grid, dsmGrid, params)
	if err != nil {
		return nil, err
	}
	product := &DerivedProduct{
		Kind:      kind,
		Sources:   sources,
		ParamHash: paramHash,
		Grid:      grid,
		Quality:   Validate(grid, kind, e.validation),
		CreatedAt: time.Now().UTC(),
	}
	if err := ctx.Err(); err != nil {
		// Cancelled: discard the buffer, commit nothing.
		return nil, err
	}
	if e.store != nil {
		if serr := e.store.SaveProduct(ctx, product); serr != nil {
			monitoring.Logf("derive %s: persist failed: %v", kind, serr)
		}
	}
	return product, nil
}

// DeriveAll reconciles a DTM/DSM pair once and derives the requested
// product set on the worker pool. Results keep the order of kinds. On any
// failure (or cancellation) the whole batch fails; partially computed
// products are discarded.
func (e *Engine) DeriveAll(ctx context.Context, dtm, dsm *ElevationDataset, kinds []ProductKind, params ProductParams, policy ReconcilePolicy) ([]*DerivedProduct, error) {
	alignedDTM, alignedDSM, err := Reconcile(dtm, dsm, policy)
	if err != nil {
		return nil, err
	}
	// Datasets re-wrapped around the aligned grids keep their provenance
	// while satisfying the engine's gate.
	rd := *dtm
	rd.Grid = alignedDTM
	rs := *dsm
	rs.Grid = alignedDSM

	results := make([]*DerivedProduct, len(kinds))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			p, err := e.Derive(gctx, kind, &rd, &rs, params)
			if err != nil {
				return fmt.Errorf("derive %s: %w", kind, err)
			}
			mu.Lock()
			results[i] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
