package terrain

import (
	"context"
	"math"
	"sort"
	"sync"
)

// ProviderRecord is the static descriptor a provider registers with.
type ProviderRecord struct {
	ID string `json:"id"`

	// ResolutionRange is the provider's supported pixel size in degrees
	// (min, max).
	ResolutionMin float64 `json:"resolution_min"`
	ResolutionMax float64 `json:"resolution_max"`

	// PointDensityRange is the source point density in points/m² for
	// LIDAR-derived products (0, 0 for raster-only providers).
	PointDensityMin float64 `json:"point_density_min"`
	PointDensityMax float64 `json:"point_density_max"`

	RequiresAuth bool `json:"requires_auth"`
}

// Provider is an elevation data source. Implementations must be safe for
// concurrent use; the manager may fetch from several providers at once for
// distinct fingerprints.
type Provider interface {
	// Record returns the static descriptor.
	Record() ProviderRecord

	// Coverage reports whether the provider has data at the location.
	Coverage(lat, lon float64) bool

	// Fetch downloads and standardises the requested area. Transient
	// failures must be returned as *NetworkError so the manager can
	// retry; a *NoCoverageError moves the manager to the next provider.
	Fetch(ctx context.Context, req AcquireRequest) (*ElevationDataset, error)
}

// Registry is a static table of providers. Registration happens at startup;
// the table is read-only afterwards, guarded only for Register/Lookup races
// in tests.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry returns an empty provider table.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Re-registering an id replaces the previous
// entry but keeps its position.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.Record().ID
	if _, exists := r.providers[id]; !exists {
		r.order = append(r.order, id)
	}
	r.providers[id] = p
}

// Lookup returns the provider with the given id.
func (r *Registry) Lookup(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Records returns the registered descriptors in registration order.
func (r *Registry) Records() []ProviderRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id].Record())
	}
	return out
}

// Rank orders providers for a request: the preferred provider first if it
// covers the location, then covering providers by closeness of their
// declared resolution range to the hint, densest point cloud breaking ties.
// Providers without coverage are excluded entirely.
func (r *Registry) Rank(req AcquireRequest) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type ranked struct {
		p     Provider
		score float64
	}
	var out []ranked
	for _, id := range r.order {
		p := r.providers[id]
		if !p.Coverage(req.Latitude, req.Longitude) {
			continue
		}
		out = append(out, ranked{p: p, score: rankScore(p.Record(), req)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].p.Record().ID, out[j].p.Record().ID
		if req.PreferredProvider != "" {
			if pi == req.PreferredProvider {
				return true
			}
			if pj == req.PreferredProvider {
				return false
			}
		}
		return out[i].score < out[j].score
	})
	ps := make([]Provider, len(out))
	for i, o := range out {
		ps[i] = o.p
	}
	return ps
}

// rankScore is lower for a better match. With no resolution hint the score
// rewards finer native resolution and higher point density.
func rankScore(rec ProviderRecord, req AcquireRequest) float64 {
	if req.ResolutionHint > 0 {
		// Distance from the hint to the supported range; zero when the
		// hint falls inside it.
		switch {
		case req.ResolutionHint < rec.ResolutionMin:
			return rec.ResolutionMin - req.ResolutionHint
		case req.ResolutionHint > rec.ResolutionMax:
			return req.ResolutionHint - rec.ResolutionMax
		default:
			return 0
		}
	}
	score := rec.ResolutionMin
	if rec.PointDensityMax > 0 {
		score -= math.Min(rec.PointDensityMax, 50) * 1e-6
	}
	return score
}
