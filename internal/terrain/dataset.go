// Package terrain implements the elevation pipeline: multi-provider
// acquisition with caching and single-flight deduplication, spatial
// reconciliation of raster pairs onto a common grid, derivation of terrain
// products from aligned inputs, and quality validation of the results.
package terrain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/terrain.report/internal/geo"
)

// SurfaceKind distinguishes what an elevation raster measures.
type SurfaceKind string

const (
	// SurfaceTerrain is bare-ground elevation (DTM).
	SurfaceTerrain SurfaceKind = "dtm"
	// SurfaceSurface is first-return elevation including canopy and
	// structures (DSM).
	SurfaceSurface SurfaceKind = "dsm"
)

// AcquireRequest describes the area and preferences for an acquisition.
// Every call carries the full request; nothing is read from ambient state.
type AcquireRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	BufferKm  float64 `json:"buffer_km"`

	// Surface selects DTM or DSM. Defaults to SurfaceTerrain.
	Surface SurfaceKind `json:"surface,omitempty"`

	// PreferredProvider pins a provider id; empty lets the manager rank.
	PreferredProvider string `json:"preferred_provider,omitempty"`

	// ResolutionHint is the desired pixel size in degrees; zero means the
	// provider default.
	ResolutionHint float64 `json:"resolution_hint,omitempty"`

	// JobID labels progress events for this request. Not part of the
	// fingerprint; empty means the manager assigns one.
	JobID string `json:"-"`
}

// Fingerprint is the deterministic cache key for an acquisition. Requests
// whose rounded geometry, resolution, surface, and provider match collapse
// to the same fingerprint.
type Fingerprint string

// roundGrid quantises a coordinate to the fingerprint grid unit so that
// jitter in request coordinates does not defeat the cache.
const fingerprintGridUnit = 1e-4

func roundGrid(v float64) float64 {
	return math.Round(v/fingerprintGridUnit) * fingerprintGridUnit
}

// FingerprintFor derives the cache key for a request resolved to a provider.
func FingerprintFor(providerID string, req AcquireRequest) Fingerprint {
	surface := req.Surface
	if surface == "" {
		surface = SurfaceTerrain
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%.4f|%.4f|%.4f|%.6f",
		providerID, surface,
		roundGrid(req.Latitude), roundGrid(req.Longitude),
		roundGrid(req.BufferKm), req.ResolutionHint)))
	return Fingerprint(hex.EncodeToString(h[:16]))
}

// ElevationDataset is an acquired elevation raster plus its provenance.
// Immutable once acquired; the manager hands out shared references, so
// callers must not mutate Grid.
type ElevationDataset struct {
	Provider    string            `json:"provider"`
	Fingerprint Fingerprint       `json:"fingerprint"`
	Surface     SurfaceKind       `json:"surface"`
	Grid        *geo.RasterGrid   `json:"grid"`
	AcquiredAt  time.Time         `json:"acquired_at"`
	Provenance  map[string]string `json:"provenance,omitempty"`
}
