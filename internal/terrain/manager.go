package terrain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/banshee-data/terrain.report/internal/monitoring"
	"github.com/banshee-data/terrain.report/internal/timeutil"
)

// DatasetStore persists acquired datasets beyond process lifetime. The
// manager writes through to it after the in-memory commit; reads fall back
// to it on a memory miss. Implemented by terraindb.
type DatasetStore interface {
	SaveDataset(ctx context.Context, ds *ElevationDataset, expiry time.Time) error
	LoadDataset(ctx context.Context, fp Fingerprint) (*ElevationDataset, time.Time, error)
}

// ManagerOptions tunes the acquisition manager.
type ManagerOptions struct {
	// CacheTTL bounds how long an acquired dataset stays live. Zero means
	// DefaultCacheTTL.
	CacheTTL time.Duration

	// MaxAttempts bounds retries per provider for transient failures.
	// Zero means DefaultMaxAttempts.
	MaxAttempts int

	// RetryBackoff is the base delay before the first retry; it doubles
	// per attempt. Zero means DefaultRetryBackoff.
	RetryBackoff time.Duration

	// Clock substitutes time operations in tests.
	Clock timeutil.Clock

	// Store, when non-nil, persists datasets across restarts.
	Store DatasetStore

	// Progress receives advisory progress events for every job.
	Progress ProgressFunc
}

// Defaults for ManagerOptions zero values.
const (
	DefaultCacheTTL     = 6 * time.Hour
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Manager acquires elevation datasets: provider selection, bounded-retry
// download, standardisation, and fingerprint-keyed caching. Concurrent
// acquisitions with an identical fingerprint collapse into one provider
// download via single-flight; the mutex guards only the in-flight key map,
// never the I/O itself.
type Manager struct {
	registry *Registry
	cache    *datasetCache
	clock    timeutil.Clock
	store    DatasetStore
	progress ProgressFunc

	maxAttempts  int
	retryBackoff time.Duration

	flights singleflight.Group
}

// NewManager builds an acquisition manager over the provider registry.
func NewManager(registry *Registry, opts ManagerOptions) *Manager {
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Manager{
		registry:     registry,
		cache:        newDatasetCache(opts.Clock, opts.CacheTTL),
		clock:        opts.Clock,
		store:        opts.Store,
		progress:     opts.Progress,
		maxAttempts:  opts.MaxAttempts,
		retryBackoff: opts.RetryBackoff,
	}
}

// Acquire returns an elevation dataset for the requested area. A live cache
// entry is returned without network access. Otherwise providers are ranked
// and attempted in order; the successful result is committed to the cache
// before being returned. Identical concurrent requests share one download.
func (m *Manager) Acquire(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
	if req.BufferKm <= 0 {
		return nil, fmt.Errorf("buffer must be positive, got %g km", req.BufferKm)
	}

	// Fast path: any ranked provider's fingerprint may already be live.
	if ds, ok := m.cachedFor(ctx, req); ok {
		return ds, nil
	}

	// The flight key quantises the request the same way fingerprints do,
	// so identical concurrent requests collapse regardless of which
	// provider ends up serving them.
	key := string(FingerprintFor(req.PreferredProvider, req))
	v, err, _ := m.flights.Do(key, func() (interface{}, error) {
		// Re-check inside the flight: a previous flight for this key may
		// have committed while we waited.
		if ds, ok := m.cachedFor(ctx, req); ok {
			return ds, nil
		}
		return m.acquire(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ElevationDataset), nil
}

// Invalidate drops a cached dataset so the next acquisition re-downloads.
func (m *Manager) Invalidate(fp Fingerprint) {
	m.cache.invalidate(fp)
}

// CachedCount reports live in-memory cache entries.
func (m *Manager) CachedCount() int { return m.cache.len() }

// cachedFor checks the memory cache (then the store) for every provider
// fingerprint this request could resolve to, preferred provider first.
func (m *Manager) cachedFor(ctx context.Context, req AcquireRequest) (*ElevationDataset, bool) {
	for _, p := range m.registry.Rank(req) {
		fp := FingerprintFor(p.Record().ID, req)
		if ds, ok := m.cache.get(fp); ok {
			return ds, true
		}
		if m.store != nil {
			if ds, expiry, err := m.store.LoadDataset(ctx, fp); err == nil && ds != nil && m.clock.Now().Before(expiry) {
				m.cache.put(ds)
				return ds, true
			}
		}
	}
	return nil, false
}

// acquire runs the provider attempt loop for one flight.
func (m *Manager) acquire(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	tracker := newProgressTracker(jobID, m.progress)
	tracker.emit(StageSelectingProvider, 0, "ranking providers")

	ranked := m.registry.Rank(req)
	if len(ranked) == 0 {
		return nil, &NoCoverageError{Lat: req.Latitude, Lon: req.Longitude}
	}
	tracker.emit(StageSelectingProvider, 5, fmt.Sprintf("%d candidate providers", len(ranked)))

	var lastErr error
	for _, p := range ranked {
		rec := p.Record()
		ds, err := m.fetchWithRetry(ctx, p, req, tracker)
		if err == nil {
			tracker.emit(StageStandardizing, 70, "validating raster")
			if verr := ds.Grid.Validate(); verr != nil {
				lastErr = fmt.Errorf("provider %s returned malformed raster: %w", rec.ID, verr)
				monitoring.Logf("acquire %s: %v", jobID, lastErr)
				continue
			}
			if err := ctx.Err(); err != nil {
				// Cancelled after download: discard, commit nothing.
				return nil, err
			}
			tracker.emit(StageCaching, 90, "committing to cache")
			expiry := m.cache.put(ds)
			if m.store != nil {
				if serr := m.store.SaveDataset(ctx, ds, expiry); serr != nil {
					monitoring.Logf("acquire %s: persist dataset %s: %v", jobID, ds.Fingerprint, serr)
				}
			}
			tracker.emit(StageCaching, 100, "done")
			return ds, nil
		}

		// Cancellation is judged by the caller's context, never by the
		// provider error chain: a client-side download timeout also wraps
		// context.DeadlineExceeded but must fall through to the next
		// ranked provider.
		var noCov *NoCoverageError
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &noCov):
			// Permanent for this provider; try the next ranked one.
			monitoring.Logf("acquire %s: provider %s has no coverage", jobID, rec.ID)
			lastErr = err
		default:
			monitoring.Logf("acquire %s: provider %s failed: %v", jobID, rec.ID, err)
			lastErr = err
		}
	}

	var netErr *NetworkError
	if lastErr != nil && !errors.As(lastErr, &netErr) {
		// All providers exhausted on permanent failures.
		return nil, &NoCoverageError{Lat: req.Latitude, Lon: req.Longitude}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &NoCoverageError{Lat: req.Latitude, Lon: req.Longitude}
}

// fetchWithRetry attempts one provider with bounded exponential backoff on
// transient NetworkErrors. Permanent errors return immediately.
func (m *Manager) fetchWithRetry(ctx context.Context, p Provider, req AcquireRequest, tracker *progressTracker) (*ElevationDataset, error) {
	rec := p.Record()
	backoff := m.retryBackoff
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tracker.emit(StageDownloading, 10, fmt.Sprintf("downloading from %s (attempt %d)", rec.ID, attempt))
		ds, err := p.Fetch(ctx, req)
		if err == nil {
			tracker.emit(StageDownloading, 60, "download complete")
			return ds, nil
		}
		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			return nil, err
		}
		lastErr = err
		if attempt < m.maxAttempts {
			m.clock.Sleep(backoff)
			backoff *= 2
		}
	}
	return nil, lastErr
}
