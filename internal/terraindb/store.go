package terraindb

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/terrain.report/internal/geo"
	"github.com/banshee-data/terrain.report/internal/terrain"
)

// ErrNotFound is returned when no row matches the requested key.
var ErrNotFound = errors.New("terraindb: not found")

// Store persists datasets and derived products. It implements both
// terrain.DatasetStore and terrain.ProductStore.
type Store struct {
	db *DB
}

// NewStore wraps an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// SaveDataset upserts a dataset row. The row becomes visible to readers in
// one transaction, so a concurrent LoadDataset sees either the previous
// state or the complete new row.
func (s *Store) SaveDataset(ctx context.Context, ds *terrain.ElevationDataset, expiry time.Time) error {
	blob, err := encodeGridBlob(ds.Grid.Data)
	if err != nil {
		return fmt.Errorf("encode grid: %w", err)
	}
	provenance, err := json.Marshal(ds.Provenance)
	if err != nil {
		return fmt.Errorf("encode provenance: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO elevation_datasets (
			fingerprint, provider, surface, crs,
			origin_x, origin_y, pixel_width, pixel_height,
			width, height, nodata, grid_blob, provenance_json,
			acquired_at_ns, expiry_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ds.Fingerprint), ds.Provider, string(ds.Surface), ds.Grid.CRS,
		ds.Grid.Transform.OriginX, ds.Grid.Transform.OriginY,
		ds.Grid.Transform.PixelWidth, ds.Grid.Transform.PixelHeight,
		ds.Grid.Width, ds.Grid.Height, ds.Grid.NoData, blob, string(provenance),
		ds.AcquiredAt.UnixNano(), expiry.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

// LoadDataset fetches a dataset by fingerprint. Expired rows are still
// returned with their expiry so the caller decides liveness with its own
// clock.
func (s *Store) LoadDataset(ctx context.Context, fp terrain.Fingerprint) (*terrain.ElevationDataset, time.Time, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, surface, crs,
			origin_x, origin_y, pixel_width, pixel_height,
			width, height, nodata, grid_blob, provenance_json,
			acquired_at_ns, expiry_ns
		FROM elevation_datasets WHERE fingerprint = ?`, string(fp))

	var (
		provider, surface, crs, provenance string
		tr                                 geo.Transform
		width, height                      int
		nodata                             float64
		blob                               []byte
		acquiredNs, expiryNs               int64
	)
	err := row.Scan(&provider, &surface, &crs,
		&tr.OriginX, &tr.OriginY, &tr.PixelWidth, &tr.PixelHeight,
		&width, &height, &nodata, &blob, &provenance, &acquiredNs, &expiryNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load dataset %s: %w", fp, err)
	}

	grid, err := gridFromRow(crs, tr, width, height, nodata, blob)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load dataset %s: %w", fp, err)
	}
	var prov map[string]string
	if provenance != "" {
		if err := json.Unmarshal([]byte(provenance), &prov); err != nil {
			return nil, time.Time{}, fmt.Errorf("load dataset %s: provenance: %w", fp, err)
		}
	}
	return &terrain.ElevationDataset{
		Provider:    provider,
		Fingerprint: fp,
		Surface:     terrain.SurfaceKind(surface),
		Grid:        grid,
		AcquiredAt:  time.Unix(0, acquiredNs).UTC(),
		Provenance:  prov,
	}, time.Unix(0, expiryNs).UTC(), nil
}

// EvictExpiredDatasets deletes rows whose expiry has passed. Returns the
// number of rows removed.
func (s *Store) EvictExpiredDatasets(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM elevation_datasets WHERE expiry_ns < ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("evict datasets: %w", err)
	}
	return res.RowsAffected()
}

// SaveProduct upserts a derived product with its quality report sidecar.
// The raster and report are committed together: a product is never readable
// without its report.
func (s *Store) SaveProduct(ctx context.Context, p *terrain.DerivedProduct) error {
	if p.Quality == nil {
		return fmt.Errorf("refusing to persist product %s without a quality report", p.Kind)
	}
	blob, err := encodeGridBlob(p.Grid.Data)
	if err != nil {
		return fmt.Errorf("encode grid: %w", err)
	}
	quality, err := json.Marshal(p.Quality)
	if err != nil {
		return fmt.Errorf("encode quality report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO derived_products (
			sources, kind, param_hash, crs,
			origin_x, origin_y, pixel_width, pixel_height,
			width, height, nodata, grid_blob, quality_json, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		joinSources(p.Sources), string(p.Kind), p.ParamHash, p.Grid.CRS,
		p.Grid.Transform.OriginX, p.Grid.Transform.OriginY,
		p.Grid.Transform.PixelWidth, p.Grid.Transform.PixelHeight,
		p.Grid.Width, p.Grid.Height, p.Grid.NoData, blob, string(quality),
		p.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// LoadProduct fetches a derived product by its full key. A change in any
// source fingerprint changes the key, so stale products are simply never
// found and get recomputed.
func (s *Store) LoadProduct(ctx context.Context, sources []terrain.Fingerprint, kind terrain.ProductKind, paramHash string) (*terrain.DerivedProduct, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT crs, origin_x, origin_y, pixel_width, pixel_height,
			width, height, nodata, grid_blob, quality_json, created_at_ns
		FROM derived_products
		WHERE sources = ? AND kind = ? AND param_hash = ?`,
		joinSources(sources), string(kind), paramHash)

	var (
		crs, quality  string
		tr            geo.Transform
		width, height int
		nodata        float64
		blob          []byte
		createdNs     int64
	)
	err := row.Scan(&crs, &tr.OriginX, &tr.OriginY, &tr.PixelWidth, &tr.PixelHeight,
		&width, &height, &nodata, &blob, &quality, &createdNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", kind, err)
	}

	grid, err := gridFromRow(crs, tr, width, height, nodata, blob)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", kind, err)
	}
	var report terrain.QualityReport
	if err := json.Unmarshal([]byte(quality), &report); err != nil {
		return nil, fmt.Errorf("load product %s: quality report: %w", kind, err)
	}
	return &terrain.DerivedProduct{
		Kind:      kind,
		Sources:   sources,
		ParamHash: paramHash,
		Grid:      grid,
		Quality:   &report,
		CreatedAt: time.Unix(0, createdNs).UTC(),
	}, nil
}

func joinSources(sources []terrain.Fingerprint) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func gridFromRow(crs string, tr geo.Transform, width, height int, nodata float64, blob []byte) (*geo.RasterGrid, error) {
	data, err := decodeGridBlob(blob, width*height)
	if err != nil {
		return nil, err
	}
	grid := &geo.RasterGrid{
		CRS:       crs,
		Transform: tr,
		Width:     width,
		Height:    height,
		NoData:    nodata,
		Data:      data,
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	return grid, nil
}

// encodeGridBlob gzips the samples as little-endian float64s.
func encodeGridBlob(data []float64) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	raw := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGridBlob(blob []byte, samples int) ([]float64, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("grid blob: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("grid blob: %w", err)
	}
	if len(raw) != samples*8 {
		return nil, fmt.Errorf("grid blob holds %d bytes, want %d", len(raw), samples*8)
	}
	data := make([]float64, samples)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return data, nil
}
