package terrain

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/banshee-data/terrain.report/internal/geo"
	"github.com/banshee-data/terrain.report/internal/httputil"
	"github.com/banshee-data/terrain.report/internal/units"
)

// DefaultResolutionDeg is 1 arc-second, the common native resolution of
// global DSM products.
const DefaultResolutionDeg = 0.000278

// HTTPProvider downloads elevation rasters from an ASCII-grid endpoint.
// The endpoint contract is a GET with bbox/resolution/surface query
// parameters returning an ESRI ASCII grid body.
type HTTPProvider struct {
	record   ProviderRecord
	baseURL  string
	apiKey   string
	client   httputil.HTTPClient
	coverage func(lat, lon float64) bool
}

// NewHTTPProvider builds a provider over an HTTP elevation endpoint. A nil
// coverage predicate means global coverage. A nil client uses
// http.DefaultClient.
func NewHTTPProvider(rec ProviderRecord, baseURL, apiKey string, client httputil.HTTPClient, coverage func(lat, lon float64) bool) *HTTPProvider {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPProvider{
		record:   rec,
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   client,
		coverage: coverage,
	}
}

// Record returns the static descriptor.
func (p *HTTPProvider) Record() ProviderRecord { return p.record }

// Coverage reports whether the provider has data at the location.
func (p *HTTPProvider) Coverage(lat, lon float64) bool {
	if p.coverage == nil {
		return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
	}
	return p.coverage(lat, lon)
}

// Fetch downloads the requested area and standardises it to a RasterGrid.
// HTTP transport failures and 5xx responses are transient NetworkErrors;
// a 404 is a NoCoverageError for this provider.
func (p *HTTPProvider) Fetch(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
	if !p.Coverage(req.Latitude, req.Longitude) {
		return nil, &NoCoverageError{Provider: p.record.ID, Lat: req.Latitude, Lon: req.Longitude}
	}
	surface := req.Surface
	if surface == "" {
		surface = SurfaceTerrain
	}
	res := req.ResolutionHint
	if res <= 0 {
		res = p.record.ResolutionMin
	}

	minLon, minLat, maxLon, maxLat := units.BufferBox(req.Latitude, req.Longitude, req.BufferKm)
	q := url.Values{}
	q.Set("west", fmt.Sprintf("%.6f", minLon))
	q.Set("south", fmt.Sprintf("%.6f", minLat))
	q.Set("east", fmt.Sprintf("%.6f", maxLon))
	q.Set("north", fmt.Sprintf("%.6f", maxLat))
	q.Set("resolution", fmt.Sprintf("%.6f", res))
	q.Set("surface", string(surface))
	q.Set("format", "AAIGrid")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", p.record.ID, err)
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Provider: p.record.ID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NoCoverageError{Provider: p.record.ID, Lat: req.Latitude, Lon: req.Longitude}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &NetworkError{Provider: p.record.ID, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("provider %s: unexpected status %d", p.record.ID, resp.StatusCode)
	}

	grid, err := geo.ParseASCIIGrid(resp.Body, "EPSG:4326")
	if err != nil {
		return nil, fmt.Errorf("provider %s: decode: %w", p.record.ID, err)
	}
	return &ElevationDataset{
		Provider:    p.record.ID,
		Fingerprint: FingerprintFor(p.record.ID, req),
		Surface:     surface,
		Grid:        grid,
		AcquiredAt:  time.Now().UTC(),
		Provenance: map[string]string{
			"source":     p.baseURL,
			"resolution": fmt.Sprintf("%.6f", res),
		},
	}, nil
}

// SyntheticProvider generates deterministic analytic terrain in-process.
// It backs dev mode and tests: full global coverage, no network, no auth.
// The DTM is a smooth ridge-and-valley surface; the DSM adds a periodic
// canopy layer so CHM values land in a plausible 0-40m band.
type SyntheticProvider struct {
	record ProviderRecord
}

// NewSyntheticProvider returns the in-process terrain generator.
func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{record: ProviderRecord{
		ID:            "synthetic",
		ResolutionMin: DefaultResolutionDeg,
		ResolutionMax: 0.01,
		RequiresAuth:  false,
	}}
}

// Record returns the static descriptor.
func (p *SyntheticProvider) Record() ProviderRecord { return p.record }

// Coverage is global.
func (p *SyntheticProvider) Coverage(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Fetch synthesises the requested area.
func (p *SyntheticProvider) Fetch(ctx context.Context, req AcquireRequest) (*ElevationDataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	surface := req.Surface
	if surface == "" {
		surface = SurfaceTerrain
	}
	res := req.ResolutionHint
	if res <= 0 {
		res = DefaultResolutionDeg
	}

	minLon, minLat, maxLon, maxLat := units.BufferBox(req.Latitude, req.Longitude, req.BufferKm)
	width := int(math.Ceil((maxLon - minLon) / res))
	height := int(math.Ceil((maxLat - minLat) / res))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	tr := geo.Transform{OriginX: minLon, OriginY: maxLat, PixelWidth: res, PixelHeight: -res}
	grid, err := geo.NewRasterGrid("EPSG:4326", tr, width, height, -9999)
	if err != nil {
		return nil, err
	}
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			x, y := grid.PixelCenter(col, row)
			grid.Set(col, row, syntheticElevation(x, y, surface))
		}
	}
	return &ElevationDataset{
		Provider:    p.record.ID,
		Fingerprint: FingerprintFor(p.record.ID, req),
		Surface:     surface,
		Grid:        grid,
		AcquiredAt:  time.Now().UTC(),
		Provenance:  map[string]string{"source": "synthetic"},
	}, nil
}

// syntheticElevation is an analytic surface: broad ridges from low-frequency
// sinusoids on the DTM, plus a shorter-wavelength canopy term on the DSM.
func syntheticElevation(lon, lat float64, surface SurfaceKind) float64 {
	base := 120 +
		60*math.Sin(lon*40*math.Pi/180) +
		45*math.Cos(lat*55*math.Pi/180) +
		15*math.Sin((lon+lat)*200*math.Pi/180)
	if surface == SurfaceSurface {
		canopy := 18 + 14*math.Sin(lon*4000*math.Pi/180)*math.Cos(lat*4200*math.Pi/180)
		if canopy < 0 {
			canopy = 0
		}
		base += canopy
	}
	return base
}
