package terrain

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/terrain.report/internal/geo"
	"github.com/banshee-data/terrain.report/internal/timeutil"
)

// fakeProvider counts fetches and delegates to a configurable fetch func.
type fakeProvider struct {
	rec     ProviderRecord
	fetches atomic.Int32
	fetch   func(ctx context.Context, req AcquireRequest) (*ElevationDataset, error)
}

func (p *fakeProvider) Record() ProviderRecord         { return p.rec }
func (p *fakeProvider) Coverage(lat, lon float64) bool { return true }
func (p *fakeProvider) Fetch(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
	p.fetches.Add(1)
	return p.fetch(ctx, req)
}

func makeDataset(t *testing.T, providerID string, req AcquireRequest) *ElevationDataset {
	t.Helper()
	g, err := geo.NewRasterGrid("EPSG:4326", northUp(-120, 48, 0.001), 10, 10, -9999)
	require.NoError(t, err)
	for i := range g.Data {
		g.Data[i] = 100
	}
	surface := req.Surface
	if surface == "" {
		surface = SurfaceTerrain
	}
	return &ElevationDataset{
		Provider:    providerID,
		Fingerprint: FingerprintFor(providerID, req),
		Surface:     surface,
		Grid:        g,
		AcquiredAt:  time.Now().UTC(),
	}
}

func okProvider(t *testing.T, id string) *fakeProvider {
	t.Helper()
	p := &fakeProvider{rec: ProviderRecord{ID: id, ResolutionMin: 0.0001, ResolutionMax: 0.01}}
	p.fetch = func(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
		return makeDataset(t, id, req), nil
	}
	return p
}

func testRequest() AcquireRequest {
	return AcquireRequest{Latitude: 47.6, Longitude: -122.3, BufferKm: 1}
}

func TestAcquireRejectsNonPositiveBuffer(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(okProvider(t, "a"))
	m := NewManager(registry, ManagerOptions{})

	_, err := m.Acquire(context.Background(), AcquireRequest{Latitude: 1, Longitude: 1})
	assert.Error(t, err)
}

func TestAcquireCachesByFingerprint(t *testing.T) {
	t.Parallel()

	p := okProvider(t, "a")
	registry := NewRegistry()
	registry.Register(p)
	m := NewManager(registry, ManagerOptions{Clock: timeutil.NewMockClock(time.Now())})

	ds1, err := m.Acquire(context.Background(), testRequest())
	require.NoError(t, err)
	ds2, err := m.Acquire(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Same(t, ds1, ds2)
	assert.Equal(t, int32(1), p.fetches.Load())
	assert.Equal(t, 1, m.CachedCount())

	// A jittered request inside the fingerprint grid unit also hits.
	jittered := testRequest()
	jittered.Latitude += 1e-6
	_, err = m.Acquire(context.Background(), jittered)
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.fetches.Load())
}

func TestAcquireCacheExpiry(t *testing.T) {
	t.Parallel()

	p := okProvider(t, "a")
	registry := NewRegistry()
	registry.Register(p)
	clock := timeutil.NewMockClock(time.Now())
	m := NewManager(registry, ManagerOptions{Clock: clock, CacheTTL: time.Hour})

	_, err := m.Acquire(context.Background(), testRequest())
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = m.Acquire(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.fetches.Load())

	clock.Advance(2 * time.Minute)
	_, err = m.Acquire(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.fetches.Load())
}

func TestAcquireInvalidate(t *testing.T) {
	t.Parallel()

	p := okProvider(t, "a")
	registry := NewRegistry()
	registry.Register(p)
	m := NewManager(registry, ManagerOptions{})

	ds, err := m.Acquire(context.Background(), testRequest())
	require.NoError(t, err)

	m.Invalidate(ds.Fingerprint)
	assert.Equal(t, 0, m.CachedCount())

	_, err = m.Acquire(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.fetches.Load())
}

func TestAcquireConcurrentSingleFetch(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p := &fakeProvider{rec: ProviderRecord{ID: "slow", ResolutionMin: 0.0001, ResolutionMax: 0.01}}
	p.fetch = func(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
		<-release
		return makeDataset(t, "slow", req), nil
	}
	registry := NewRegistry()
	registry.Register(p)
	m := NewManager(registry, ManagerOptions{})

	const callers = 10
	results := make([]*ElevationDataset, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ds, err := m.Acquire(context.Background(), testRequest())
			assert.NoError(t, err)
			results[i] = ds
		}(i)
	}

	// Let the in-flight download finish once all callers are queued.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), p.fetches.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestAcquireRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	attempts := 0
	p := &fakeProvider{rec: ProviderRecord{ID: "flaky", ResolutionMin: 0.0001, ResolutionMax: 0.01}}
	p.fetch = func(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
		attempts++
		if attempts < 3 {
			return nil, &NetworkError{Provider: "flaky", Err: context.DeadlineExceeded}
		}
		return makeDataset(t, "flaky", req), nil
	}
	registry := NewRegistry()
	registry.Register(p)
	clock := timeutil.NewMockClock(time.Now())
	m := NewManager(registry, ManagerOptions{Clock: clock, RetryBackoff: 500 * time.Millisecond})

	_, err := m.Acquire(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	// Backoff doubles per retry.
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, clock.Sleeps())
}

func TestAcquireExhaustsRetries(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{rec: ProviderRecord{ID: "down", ResolutionMin: 0.0001, ResolutionMax: 0.01}}
	p.fetch = func(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
		return nil, &NetworkError{Provider: "down", Err: context.DeadlineExceeded}
	}
	registry := NewRegistry()
	registry.Register(p)
	m := NewManager(registry, ManagerOptions{Clock: timeutil.NewMockClock(time.Now()), MaxAttempts: 2})

	_, err := m.Acquire(context.Background(), testRequest())
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, int32(2), p.fetches.Load())
}

func TestAcquireFailsOverAfterRetryExhaustion(t *testing.T) {
	t.Parallel()

	// A client-side download timeout wraps context.DeadlineExceeded inside
	// url.Error. The manager must still move on to the next ranked
	// provider; only the caller's own context decides cancellation.
	primary := &fakeProvider{rec: ProviderRecord{ID: "primary", ResolutionMin: 0.0001, ResolutionMax: 0.01}}
	primary.fetch = func(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
		return nil, &NetworkError{Provider: "primary", Err: &url.Error{
			Op:  "Get",
			URL: "http://primary/dem",
			Err: context.DeadlineExceeded,
		}}
	}
	backup := okProvider(t, "backup")

	registry := NewRegistry()
	registry.Register(primary)
	registry.Register(backup)
	m := NewManager(registry, ManagerOptions{
		Clock:       timeutil.NewMockClock(time.Now()),
		MaxAttempts: 2,
	})

	req := testRequest()
	req.PreferredProvider = "primary"
	ds, err := m.Acquire(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "backup", ds.Provider)
	assert.Equal(t, int32(2), primary.fetches.Load())
	assert.Equal(t, int32(1), backup.fetches.Load())
}

func TestAcquireFallsThroughOnNoCoverage(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{rec: ProviderRecord{ID: "primary", ResolutionMin: 0.0001, ResolutionMax: 0.01}}
	primary.fetch = func(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
		return nil, &NoCoverageError{Provider: "primary", Lat: req.Latitude, Lon: req.Longitude}
	}
	backup := okProvider(t, "backup")

	registry := NewRegistry()
	registry.Register(primary)
	registry.Register(backup)
	m := NewManager(registry, ManagerOptions{})

	req := testRequest()
	req.PreferredProvider = "primary"
	ds, err := m.Acquire(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "backup", ds.Provider)
	assert.Equal(t, int32(1), primary.fetches.Load())
	assert.Equal(t, int32(1), backup.fetches.Load())
}

func TestAcquireAllProvidersLackCoverage(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{rec: ProviderRecord{ID: "a", ResolutionMin: 0.0001, ResolutionMax: 0.01}}
	p.fetch = func(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
		return nil, &NoCoverageError{Provider: "a", Lat: req.Latitude, Lon: req.Longitude}
	}
	registry := NewRegistry()
	registry.Register(p)
	m := NewManager(registry, ManagerOptions{})

	_, err := m.Acquire(context.Background(), testRequest())
	var noCov *NoCoverageError
	require.ErrorAs(t, err, &noCov)
}

func TestAcquireCancelledAfterDownloadCommitsNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{rec: ProviderRecord{ID: "a", ResolutionMin: 0.0001, ResolutionMax: 0.01}}
	p.fetch = func(innerCtx context.Context, req AcquireRequest) (*ElevationDataset, error) {
		// The caller walks away mid-download.
		cancel()
		return makeDataset(t, "a", req), nil
	}
	registry := NewRegistry()
	registry.Register(p)
	m := NewManager(registry, ManagerOptions{})

	_, err := m.Acquire(ctx, testRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.CachedCount())
}

func TestAcquireProgressEvents(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []ProgressEvent
	registry := NewRegistry()
	registry.Register(okProvider(t, "a"))
	m := NewManager(registry, ManagerOptions{Progress: func(ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}})

	req := testRequest()
	req.JobID = "job-1"
	_, err := m.Acquire(context.Background(), req)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	last := float64(-1)
	for _, ev := range events {
		assert.Equal(t, "job-1", ev.JobID)
		assert.GreaterOrEqual(t, ev.Percent, last)
		last = ev.Percent
	}
	assert.Equal(t, 100.0, last)
	assert.Equal(t, StageCaching, events[len(events)-1].Stage)
}

// memoryStore is an in-process DatasetStore for persistence tests.
type memoryStore struct {
	mu       sync.Mutex
	datasets map[Fingerprint]*ElevationDataset
	expiries map[Fingerprint]time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		datasets: make(map[Fingerprint]*ElevationDataset),
		expiries: make(map[Fingerprint]time.Time),
	}
}

func (s *memoryStore) SaveDataset(ctx context.Context, ds *ElevationDataset, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[ds.Fingerprint] = ds
	s.expiries[ds.Fingerprint] = expiry
	return nil
}

func (s *memoryStore) LoadDataset(ctx context.Context, fp Fingerprint) (*ElevationDataset, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[fp]
	if !ok {
		return nil, time.Time{}, context.Canceled
	}
	return ds, s.expiries[fp], nil
}

func TestAcquireStoreWriteThrough(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	clock := timeutil.NewMockClock(time.Now())

	p1 := okProvider(t, "a")
	registry1 := NewRegistry()
	registry1.Register(p1)
	m1 := NewManager(registry1, ManagerOptions{Clock: clock, Store: store})

	ds, err := m1.Acquire(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Contains(t, store.datasets, ds.Fingerprint)

	// A fresh manager sharing the store serves from it without fetching.
	p2 := okProvider(t, "a")
	registry2 := NewRegistry()
	registry2.Register(p2)
	m2 := NewManager(registry2, ManagerOptions{Clock: clock, Store: store})

	_, err = m2.Acquire(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(0), p2.fetches.Load())
}
