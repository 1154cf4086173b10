package terrain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/terrain.report/internal/geo"
)

// ProductKind names a derived terrain product.
type ProductKind string

const (
	ProductDTM         ProductKind = "dtm"
	ProductDSM         ProductKind = "dsm"
	ProductCHM         ProductKind = "chm"
	ProductHillshade   ProductKind = "hillshade"
	ProductSlope       ProductKind = "slope"
	ProductAspect      ProductKind = "aspect"
	ProductTRI         ProductKind = "tri"
	ProductTPI         ProductKind = "tpi"
	ProductColorRelief ProductKind = "color_relief"
	ProductSVF         ProductKind = "svf"
	ProductLRM         ProductKind = "lrm"
)

// ProductKinds lists every derivable kind.
var ProductKinds = []ProductKind{
	ProductDTM, ProductDSM, ProductCHM, ProductHillshade, ProductSlope,
	ProductAspect, ProductTRI, ProductTPI, ProductColorRelief, ProductSVF,
	ProductLRM,
}

// ProductParams carries the tunables of the compute operations. Zero values
// select the defaults documented per field.
type ProductParams struct {
	// Hillshade illumination. Defaults: azimuth 315 (NW), altitude 45.
	AzimuthDeg  float64 `json:"azimuth_deg,omitempty"`
	AltitudeDeg float64 `json:"altitude_deg,omitempty"`

	// WindowRadius is the neighbourhood radius in pixels for TRI/TPI.
	// Default 1 (3x3 window).
	WindowRadius int `json:"window_radius,omitempty"`

	// SVFDirections and SVFRadius control sky-view sampling. Defaults:
	// 16 azimuth directions, 10 pixel search radius.
	SVFDirections int `json:"svf_directions,omitempty"`
	SVFRadius     int `json:"svf_radius,omitempty"`

	// LRMBaseRadius is the base smoothing radius in pixels for the local
	// relief model; the effective radius grows with terrain roughness.
	// Default 5.
	LRMBaseRadius int `json:"lrm_base_radius,omitempty"`

	// ReliefClasses is the number of elevation classes for color relief.
	// Default 12.
	ReliefClasses int `json:"relief_classes,omitempty"`
}

func (p ProductParams) azimuth() float64 {
	if p.AzimuthDeg == 0 {
		return 315
	}
	return p.AzimuthDeg
}

func (p ProductParams) altitude() float64 {
	if p.AltitudeDeg == 0 {
		return 45
	}
	return p.AltitudeDeg
}

func (p ProductParams) window() int {
	if p.WindowRadius <= 0 {
		return 1
	}
	return p.WindowRadius
}

func (p ProductParams) svfDirections() int {
	if p.SVFDirections <= 0 {
		return 16
	}
	return p.SVFDirections
}

func (p ProductParams) svfRadius() int {
	if p.SVFRadius <= 0 {
		return 10
	}
	return p.SVFRadius
}

func (p ProductParams) lrmRadius() int {
	if p.LRMBaseRadius <= 0 {
		return 5
	}
	return p.LRMBaseRadius
}

func (p ProductParams) reliefClasses() int {
	if p.ReliefClasses <= 0 {
		return 12
	}
	return p.ReliefClasses
}

// Hash returns a stable digest of the params for product cache keys.
func (p ProductParams) Hash() string {
	b, _ := json.Marshal(p)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:8])
}

// DerivedProduct is a computed terrain raster plus the references needed to
// recompute it and the quality report needed to use it. A consumer must not
// treat the raster as usable without the report.
type DerivedProduct struct {
	Kind      ProductKind     `json:"kind"`
	Sources   []Fingerprint   `json:"sources"`
	ParamHash string          `json:"param_hash"`
	Grid      *geo.RasterGrid `json:"grid"`
	Quality   *QualityReport  `json:"quality"`
	CreatedAt time.Time       `json:"created_at"`
}

// requireAligned is the mandatory gate on every compute operation: all input
// grids must satisfy the alignment invariant or the computation refuses to
// start. This is the check whose absence let CHM be computed from spatially
// incompatible DTM/DSM pairs.
func requireAligned(product ProductKind, grids ...*geo.RasterGrid) error {
	for _, g := range grids {
		if err := g.Validate(); err != nil {
			return &UnalignedInputError{Product: string(product), Reason: err}
		}
	}
	for i := 1; i < len(grids); i++ {
		if err := geo.Aligned(grids[0], grids[i]); err != nil {
			return &UnalignedInputError{Product: string(product), Reason: err}
		}
	}
	return nil
}

// ComputeCHM derives the canopy height model: per pixel dsm - dtm where both
// sources are valid, nodata otherwise. Values are not clamped here; negative
// or implausibly large heights are surfaced by the quality validator so the
// underlying acquisition problem stays diagnosable.
func ComputeCHM(dtm, dsm *geo.RasterGrid) (*geo.RasterGrid, error) {
	if err := requireAligned(ProductCHM, dtm, dsm); err != nil {
		return nil, err
	}
	out := emptyLike(dtm)
	for i, t := range dtm.Data {
		s := dsm.Data[i]
		if dtm.IsNoData(t) || dsm.IsNoData(s) {
			continue
		}
		out.Data[i] = s - t
	}
	return out, nil
}

// ComputeColorRelief classifies elevation into equal-interval classes over
// the valid value range, producing a class-index raster (0..classes-1) that
// the renderer maps through a colour ramp.
func ComputeColorRelief(dtm *geo.RasterGrid, params ProductParams) (*geo.RasterGrid, error) {
	if err := requireAligned(ProductColorRelief, dtm); err != nil {
		return nil, err
	}
	lo, hi, ok := validRange(dtm)
	if !ok {
		return emptyLike(dtm), nil
	}
	classes := params.reliefClasses()
	span := hi - lo
	out := emptyLike(dtm)
	for i, v := range dtm.Data {
		if dtm.IsNoData(v) {
			continue
		}
		if span == 0 {
			out.Data[i] = 0
			continue
		}
		c := int(float64(classes) * (v - lo) / span)
		if c >= classes {
			c = classes - 1
		}
		out.Data[i] = float64(c)
	}
	return out, nil
}

// emptyLike allocates a nodata-filled grid with src's geometry.
func emptyLike(src *geo.RasterGrid) *geo.RasterGrid {
	out, err := geo.NewRasterGrid(src.CRS, src.Transform, src.Width, src.Height, src.NoData)
	if err != nil {
		// src passed the gate, so its geometry is valid.
		panic(fmt.Sprintf("emptyLike: %v", err))
	}
	return out
}

// validRange scans for the min and max over valid samples.
func validRange(g *geo.RasterGrid) (lo, hi float64, ok bool) {
	first := true
	for _, v := range g.Data {
		if g.IsNoData(v) {
			continue
		}
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, !first
}
