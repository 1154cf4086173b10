// Package api exposes the terrain pipeline over HTTP: dataset acquisition,
// derived product jobs, provider inventory, and debug charts.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/terrain.report/internal/httputil"
	"github.com/banshee-data/terrain.report/internal/terrain"
	"github.com/banshee-data/terrain.report/internal/timeutil"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// ProductStore is the persistence surface the API reads products from.
// Implemented by terraindb.Store.
type ProductStore interface {
	terrain.ProductStore
}

type Server struct {
	manager  *terrain.Manager
	engine   *terrain.Engine
	registry *terrain.Registry
	store    ProductStore
	jobs     *jobTracker

	// jobTimeout bounds each background job's lifetime.
	jobTimeout time.Duration
}

// NewServer wires the API over a manager, engine, and registry. The store
// may be nil when running without persistence; product lookup endpoints
// then return 503. The returned server's Progress method must be installed
// as the manager's progress sink for job events to flow.
func NewServer(manager *terrain.Manager, engine *terrain.Engine, registry *terrain.Registry, store ProductStore, clock timeutil.Clock) *Server {
	return &Server{
		manager:    manager,
		engine:     engine,
		registry:   registry,
		store:      store,
		jobs:       newJobTracker(clock),
		jobTimeout: 10 * time.Minute,
	}
}

// Progress implements terrain.ProgressFunc by routing events into the job
// tracker. Install it via ManagerOptions.Progress.
func (s *Server) Progress(ev terrain.ProgressEvent) {
	s.jobs.Progress(ev)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/providers", s.listProviders)
	mux.HandleFunc("/api/acquire", s.startAcquire)
	mux.HandleFunc("/api/derive", s.startDerive)
	mux.HandleFunc("/api/jobs", s.listJobs)
	mux.HandleFunc("/api/jobs/", s.showJob)
	mux.HandleFunc("/api/products", s.showProduct)
	mux.HandleFunc("/api/charts/histogram", s.histogramChart)
	return mux
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.registry.Records())
}

// DatasetSummary is the API shape of an acquired dataset. The raster body
// stays server-side; clients fetch derived products or previews instead.
type DatasetSummary struct {
	Provider    string              `json:"provider"`
	Fingerprint terrain.Fingerprint `json:"fingerprint"`
	Surface     terrain.SurfaceKind `json:"surface"`
	CRS         string              `json:"crs"`
	Width       int                 `json:"width"`
	Height      int                 `json:"height"`
	ResolutionX float64             `json:"resolution_x"`
	ResolutionY float64             `json:"resolution_y"`
	ValidPixels int                 `json:"valid_pixels"`
	AcquiredAt  time.Time           `json:"acquired_at"`
}

func summarizeDataset(ds *terrain.ElevationDataset) DatasetSummary {
	resX, resY := ds.Grid.Resolution()
	return DatasetSummary{
		Provider:    ds.Provider,
		Fingerprint: ds.Fingerprint,
		Surface:     ds.Surface,
		CRS:         ds.Grid.CRS,
		Width:       ds.Grid.Width,
		Height:      ds.Grid.Height,
		ResolutionX: resX,
		ResolutionY: resY,
		ValidPixels: ds.Grid.ValidCount(),
		AcquiredAt:  ds.AcquiredAt,
	}
}

// ProductSummary is the API shape of a derived product.
type ProductSummary struct {
	Kind      terrain.ProductKind    `json:"kind"`
	Sources   []terrain.Fingerprint  `json:"sources"`
	ParamHash string                 `json:"param_hash"`
	Width     int                    `json:"width"`
	Height    int                    `json:"height"`
	Quality   *terrain.QualityReport `json:"quality"`
	CreatedAt time.Time              `json:"created_at"`
}

func summarizeProduct(p *terrain.DerivedProduct) ProductSummary {
	return ProductSummary{
		Kind:      p.Kind,
		Sources:   p.Sources,
		ParamHash: p.ParamHash,
		Width:     p.Grid.Width,
		Height:    p.Grid.Height,
		Quality:   p.Quality,
		CreatedAt: p.CreatedAt,
	}
}

func (s *Server) startAcquire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req terrain.AcquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.BufferKm <= 0 {
		httputil.BadRequest(w, "buffer_km must be positive")
		return
	}

	jobID := s.jobs.create("acquire")
	req.JobID = jobID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		s.jobs.setState(jobID, JobRunning)
		ds, err := s.manager.Acquire(ctx, req)
		if err != nil {
			s.jobs.finish(jobID, nil, err)
			return
		}
		s.jobs.finish(jobID, summarizeDataset(ds), nil)
	}()

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// DeriveRequest asks for derived products over a DTM/DSM pair. Kinds
// defaults to every product the engine knows.
type DeriveRequest struct {
	DTM    terrain.AcquireRequest `json:"dtm"`
	DSM    terrain.AcquireRequest `json:"dsm"`
	Kinds  []terrain.ProductKind  `json:"kinds,omitempty"`
	Params terrain.ProductParams  `json:"params"`
}

func (s *Server) startDerive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req DeriveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.DTM.BufferKm <= 0 || req.DSM.BufferKm <= 0 {
		httputil.BadRequest(w, "dtm and dsm buffer_km must be positive")
		return
	}
	req.DTM.Surface = terrain.SurfaceTerrain
	req.DSM.Surface = terrain.SurfaceSurface
	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = terrain.ProductKinds
	}

	jobID := s.jobs.create("derive")
	req.DTM.JobID = jobID
	req.DSM.JobID = jobID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		s.jobs.setState(jobID, JobRunning)

		dtm, err := s.manager.Acquire(ctx, req.DTM)
		if err != nil {
			s.jobs.finish(jobID, nil, err)
			return
		}
		dsm, err := s.manager.Acquire(ctx, req.DSM)
		if err != nil {
			s.jobs.finish(jobID, nil, err)
			return
		}

		products, err := s.engine.DeriveAll(ctx, dtm, dsm, kinds, req.Params, terrain.ReconcilePolicy{})
		if err != nil {
			s.jobs.finish(jobID, nil, err)
			return
		}
		summaries := make([]ProductSummary, len(products))
		for i, p := range products {
			summaries[i] = summarizeProduct(p)
		}
		s.jobs.finish(jobID, summaries, nil)
	}()

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.jobs.list())
}

func (s *Server) showJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		httputil.BadRequest(w, "job id required")
		return
	}
	job, ok := s.jobs.get(id)
	if !ok {
		httputil.NotFound(w, "no such job")
		return
	}
	httputil.WriteJSONOK(w, job)
}

// productQuery parses the (sources, kind, param_hash) triple that keys a
// persisted product.
func productQuery(r *http.Request) ([]terrain.Fingerprint, terrain.ProductKind, string, bool) {
	q := r.URL.Query()
	rawSources := q.Get("sources")
	kind := terrain.ProductKind(q.Get("kind"))
	if rawSources == "" || kind == "" {
		return nil, "", "", false
	}
	parts := strings.Split(rawSources, ",")
	sources := make([]terrain.Fingerprint, len(parts))
	for i, p := range parts {
		sources[i] = terrain.Fingerprint(strings.TrimSpace(p))
	}
	return sources, kind, q.Get("param_hash"), true
}

func (s *Server) showProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	sources, kind, paramHash, ok := productQuery(r)
	if !ok {
		httputil.BadRequest(w, "sources and kind query parameters required")
		return
	}
	p, err := s.store.LoadProduct(r.Context(), sources, kind, paramHash)
	if err != nil {
		httputil.NotFound(w, "no such product")
		return
	}
	httputil.WriteJSONOK(w, summarizeProduct(p))
}
