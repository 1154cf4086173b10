package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/terrain.report/internal/api"
	"github.com/banshee-data/terrain.report/internal/config"
	"github.com/banshee-data/terrain.report/internal/geo"
	"github.com/banshee-data/terrain.report/internal/httputil"
	"github.com/banshee-data/terrain.report/internal/render"
	"github.com/banshee-data/terrain.report/internal/security"
	"github.com/banshee-data/terrain.report/internal/terrain"
	"github.com/banshee-data/terrain.report/internal/terraindb"
)

// Remote provider endpoints. API keys come from the environment so they
// never land in shell history.
const (
	openTopoBaseURL = "https://portal.opentopography.org/API/globaldem"
	usgs3depBaseURL = "https://elevation.nationalmap.gov/arcgis/rest/services/3DEPElevation/ImageServer/exportImage"
)

// buildRegistry assembles the provider table. Dev mode uses only the
// in-process synthetic provider so nothing touches the network.
func buildRegistry(dev bool) *terrain.Registry {
	registry := terrain.NewRegistry()
	if dev {
		registry.Register(terrain.NewSyntheticProvider())
		return registry
	}

	client := httputil.NewStandardClient(nil)

	registry.Register(terrain.NewHTTPProvider(terrain.ProviderRecord{
		ID:            "opentopo",
		ResolutionMin: terrain.DefaultResolutionDeg,
		ResolutionMax: 0.01,
		RequiresAuth:  true,
	}, openTopoBaseURL, os.Getenv("OPENTOPO_API_KEY"), client, func(lat, lon float64) bool {
		// SRTM-era global coverage band.
		return lat >= -56 && lat <= 60
	}))

	registry.Register(terrain.NewHTTPProvider(terrain.ProviderRecord{
		ID:              "usgs3dep",
		ResolutionMin:   0.0000925,
		ResolutionMax:   terrain.DefaultResolutionDeg,
		PointDensityMin: 0.5,
		PointDensityMax: 8,
		RequiresAuth:    false,
	}, usgs3depBaseURL, "", client, func(lat, lon float64) bool {
		// Continental US plus Alaska.
		return lat >= 24 && lat <= 72 && lon >= -170 && lon <= -66
	}))

	// Synthetic stays registered as a last-resort fallback so the ranked
	// loop always has a provider with coverage.
	registry.Register(terrain.NewSyntheticProvider())
	return registry
}

func loadTuning(path string) *config.TuningConfig {
	if path == "" {
		return config.EmptyTuningConfig()
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	return cfg
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", ":8080", "Listen address")
	dbPath := fs.String("db", "terrain.db", "SQLite database path")
	devMode := fs.Bool("dev", false, "Use the synthetic provider only")
	configPath := fs.String("config", "", "Tuning config JSON path")
	fs.Parse(args)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning := loadTuning(*configPath)

	db, err := terraindb.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	store := terraindb.NewStore(db)

	registry := buildRegistry(*devMode)

	// The server routes progress events into its job tracker; the manager
	// is built first, so bridge through a late-bound closure.
	var srv *api.Server
	manager := terrain.NewManager(registry, terrain.ManagerOptions{
		CacheTTL:     tuning.GetCacheTTL(),
		MaxAttempts:  tuning.GetMaxAttempts(),
		RetryBackoff: tuning.GetRetryBackoff(),
		Store:        store,
		Progress: func(ev terrain.ProgressEvent) {
			if srv != nil {
				srv.Progress(ev)
			}
		},
	})
	engine := terrain.NewEngine(terrain.EngineOptions{
		Workers:    tuning.GetWorkers(),
		Store:      store,
		Validation: tuning.ValidationPolicy(),
	})
	srv = api.NewServer(manager, engine, registry, store, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := terraindb.NewSweeper(store, nil, 0)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(srv.ServeMux()),
	}

	go func() {
		log.Printf("listening on %s (dev=%v db=%s)", *listen, *devMode, *dbPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// logProgress prints manager progress events for the one-shot commands.
func logProgress(ev terrain.ProgressEvent) {
	log.Printf("[%3.0f%%] %s: %s", ev.Percent, ev.Stage, ev.Message)
}

// newCLIManager builds a manager for the one-shot commands, with optional
// persistence when a db path is given.
func newCLIManager(dev bool, dbPath string, tuning *config.TuningConfig) (*terrain.Manager, *terraindb.Store, func()) {
	var store *terraindb.Store
	cleanup := func() {}
	if dbPath != "" {
		db, err := terraindb.NewDB(dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		store = terraindb.NewStore(db)
		cleanup = func() { db.Close() }
	}

	opts := terrain.ManagerOptions{
		CacheTTL:     tuning.GetCacheTTL(),
		MaxAttempts:  tuning.GetMaxAttempts(),
		RetryBackoff: tuning.GetRetryBackoff(),
		Progress:     logProgress,
	}
	if store != nil {
		opts.Store = store
	}
	return terrain.NewManager(buildRegistry(dev), opts), store, cleanup
}

func handleAcquire(args []string) {
	fs := flag.NewFlagSet("acquire", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Latitude of the area centre")
	lon := fs.Float64("lon", 0, "Longitude of the area centre")
	bufferKm := fs.Float64("buffer-km", 1, "Half-width of the square area in km")
	surface := fs.String("surface", "dtm", "Surface to fetch: dtm or dsm")
	provider := fs.String("provider", "", "Preferred provider id")
	resolution := fs.Float64("resolution", 0, "Desired pixel size in degrees (0 = provider default)")
	devMode := fs.Bool("dev", false, "Use the synthetic provider only")
	dbPath := fs.String("db", "", "SQLite database path for persistence (optional)")
	out := fs.String("out", "", "Output path for the ESRI ASCII grid")
	preview := fs.String("preview", "", "Output path for a PNG preview (optional)")
	configPath := fs.String("config", "", "Tuning config JSON path")
	fs.Parse(args)

	if *out == "" {
		log.Fatal("--out is required")
	}

	manager, _, cleanup := newCLIManager(*devMode, *dbPath, loadTuning(*configPath))
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := manager.Acquire(ctx, terrain.AcquireRequest{
		Latitude:          *lat,
		Longitude:         *lon,
		BufferKm:          *bufferKm,
		Surface:           terrain.SurfaceKind(*surface),
		PreferredProvider: *provider,
		ResolutionHint:    *resolution,
	})
	if err != nil {
		log.Fatalf("acquisition failed: %v", err)
	}

	if err := writeGrid(ds.Grid, *out); err != nil {
		log.Fatalf("failed to write grid: %v", err)
	}
	log.Printf("wrote %dx%d %s grid from %s to %s", ds.Grid.Width, ds.Grid.Height, ds.Surface, ds.Provider, *out)

	if *preview != "" {
		title := fmt.Sprintf("%s (%s)", ds.Surface, ds.Provider)
		if err := render.PreviewPNG(ds.Grid, title, *preview); err != nil {
			log.Fatalf("failed to render preview: %v", err)
		}
		log.Printf("wrote preview to %s", *preview)
	}
}

func handleDerive(args []string) {
	fs := flag.NewFlagSet("derive", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Latitude of the area centre")
	lon := fs.Float64("lon", 0, "Longitude of the area centre")
	bufferKm := fs.Float64("buffer-km", 1, "Half-width of the square area in km")
	kindsFlag := fs.String("kinds", "", "Comma-separated product kinds (default: all)")
	outDir := fs.String("out-dir", ".", "Directory for product grids and previews")
	devMode := fs.Bool("dev", false, "Use the synthetic provider only")
	dbPath := fs.String("db", "", "SQLite database path for persistence (optional)")
	noPreview := fs.Bool("no-preview", false, "Skip PNG previews")
	configPath := fs.String("config", "", "Tuning config JSON path")
	fs.Parse(args)

	tuning := loadTuning(*configPath)

	kinds := terrain.ProductKinds
	if *kindsFlag != "" {
		kinds = nil
		for _, k := range strings.Split(*kindsFlag, ",") {
			kinds = append(kinds, terrain.ProductKind(strings.TrimSpace(k)))
		}
	}

	manager, store, cleanup := newCLIManager(*devMode, *dbPath, tuning)
	defer cleanup()

	engineOpts := terrain.EngineOptions{
		Workers:    tuning.GetWorkers(),
		Validation: tuning.ValidationPolicy(),
	}
	if store != nil {
		engineOpts.Store = store
	}
	engine := terrain.NewEngine(engineOpts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base := terrain.AcquireRequest{Latitude: *lat, Longitude: *lon, BufferKm: *bufferKm}

	dtmReq := base
	dtmReq.Surface = terrain.SurfaceTerrain
	dtm, err := manager.Acquire(ctx, dtmReq)
	if err != nil {
		log.Fatalf("DTM acquisition failed: %v", err)
	}

	dsmReq := base
	dsmReq.Surface = terrain.SurfaceSurface
	dsm, err := manager.Acquire(ctx, dsmReq)
	if err != nil {
		log.Fatalf("DSM acquisition failed: %v", err)
	}

	products, err := engine.DeriveAll(ctx, dtm, dsm, kinds, terrain.ProductParams{}, tuning.ReconcilePolicy())
	if err != nil {
		log.Fatalf("derivation failed: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	for _, p := range products {
		name := security.SanitizeFilename(string(p.Kind))
		gridPath := filepath.Join(*outDir, name+".asc")
		if err := writeGrid(p.Grid, gridPath); err != nil {
			log.Fatalf("failed to write %s: %v", p.Kind, err)
		}
		if !*noPreview {
			pngPath := filepath.Join(*outDir, name+".png")
			if err := render.PreviewPNG(p.Grid, string(p.Kind), pngPath); err != nil {
				log.Fatalf("failed to render %s preview: %v", p.Kind, err)
			}
		}
		quality, _ := json.Marshal(p.Quality)
		log.Printf("%s: %s quality=%s", p.Kind, gridPath, quality)
	}
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "terrain.db", "SQLite database path")
	fs.Parse(args)

	direction := "up"
	if fs.NArg() > 0 {
		direction = fs.Arg(0)
	}

	db, err := terraindb.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	switch direction {
	case "up":
		if err := db.MigrateUp(); err != nil {
			log.Fatalf("migrate up failed: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := db.MigrateDown(); err != nil {
			log.Fatalf("migrate down failed: %v", err)
		}
		log.Println("migrations rolled back")
	case "version":
		v, dirty, err := db.MigrateVersion()
		if err != nil {
			log.Fatalf("migrate version failed: %v", err)
		}
		log.Printf("schema version %d (dirty=%v)", v, dirty)
	default:
		log.Fatalf("unknown migrate direction %q (want up, down, or version)", direction)
	}
}

func writeGrid(g *geo.RasterGrid, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := geo.WriteASCIIGrid(f, g); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
