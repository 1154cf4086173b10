package terraindb

import (
	"context"
	"time"

	"github.com/banshee-data/terrain.report/internal/monitoring"
	"github.com/banshee-data/terrain.report/internal/timeutil"
)

// Sweeper periodically deletes elevation datasets whose cache expiry has
// passed. Derived products are kept: they are addressed by source
// fingerprints and remain valid even after the rasters that produced them
// age out of the cache.
type Sweeper struct {
	Store    *Store
	Clock    timeutil.Clock
	Interval time.Duration
	stop     chan struct{}
}

// NewSweeper builds a sweeper over the given store. A nil clock selects the
// real clock and a zero interval defaults to one hour.
func NewSweeper(store *Store, clock timeutil.Clock, interval time.Duration) *Sweeper {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		Store:    store,
		Clock:    clock,
		Interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until Stop is called or the
// context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := s.Clock.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if err := s.RunOnce(ctx); err != nil {
					monitoring.Logf("dataset sweep error: %v", err)
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop requests the sweep loop to exit. Safe to call once.
func (s *Sweeper) Stop() {
	close(s.stop)
}

// RunOnce performs a single eviction pass.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	removed, err := s.Store.EvictExpiredDatasets(ctx, s.Clock.Now())
	if err != nil {
		return err
	}
	if removed > 0 {
		monitoring.Logf("dataset sweep: evicted %d expired dataset(s)", removed)
	}
	return nil
}
