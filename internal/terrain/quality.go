package terrain

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/terrain.report/internal/geo"
)

// QualityFlag is an advisory quality problem. Flags never fail a request;
// they are surfaced with the result so callers can proceed, re-acquire, or
// warn.
type QualityFlag string

const (
	// FlagLowQuality marks a raster whose valid-pixel fraction falls
	// below the policy threshold.
	FlagLowQuality QualityFlag = "low_quality"
	// FlagSuspectRange marks a raster where too many valid pixels fall
	// outside the product's expected value range.
	FlagSuspectRange QualityFlag = "suspect_range"
)

// ValueRange is an inclusive expected interval for product values.
type ValueRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ValidationPolicy tunes the validator. The zero value applies defaults.
type ValidationPolicy struct {
	// MinValidFraction is the LowQuality threshold. Zero means
	// DefaultMinValidFraction.
	MinValidFraction float64 `json:"min_valid_fraction,omitempty"`

	// OutOfRangeTolerance is the fraction of valid pixels allowed outside
	// the expected range before SuspectRange is flagged. Zero means
	// DefaultOutOfRangeTolerance.
	OutOfRangeTolerance float64 `json:"out_of_range_tolerance,omitempty"`

	// ExpectedRange overrides the per-product default range. Nil uses
	// ExpectedRangeFor.
	ExpectedRange *ValueRange `json:"expected_range,omitempty"`
}

// Defaults for ValidationPolicy zero values.
const (
	DefaultMinValidFraction    = 0.90
	DefaultOutOfRangeTolerance = 0.05
)

func (p ValidationPolicy) minValid() float64 {
	if p.MinValidFraction > 0 {
		return p.MinValidFraction
	}
	return DefaultMinValidFraction
}

func (p ValidationPolicy) tolerance() float64 {
	if p.OutOfRangeTolerance > 0 {
		return p.OutOfRangeTolerance
	}
	return DefaultOutOfRangeTolerance
}

// ExpectedRangeFor returns the plausible value interval for a product kind.
// Elevation surfaces span the terrestrial extremes; CHM is bounded by the
// tallest observed canopies.
func ExpectedRangeFor(kind ProductKind) ValueRange {
	switch kind {
	case ProductCHM:
		return ValueRange{Min: 0, Max: 60}
	case ProductHillshade:
		return ValueRange{Min: 0, Max: 255}
	case ProductSlope:
		return ValueRange{Min: 0, Max: 90}
	case ProductAspect:
		return ValueRange{Min: 0, Max: 360}
	case ProductSVF:
		return ValueRange{Min: 0, Max: 1}
	case ProductTRI:
		return ValueRange{Min: 0, Max: 500}
	case ProductTPI, ProductLRM:
		return ValueRange{Min: -500, Max: 500}
	case ProductColorRelief:
		return ValueRange{Min: 0, Max: 255}
	default:
		// Raw elevation: Dead Sea shore to Everest with margin.
		return ValueRange{Min: -500, Max: 9000}
	}
}

// QualityReport summarises raster validity. It annotates, never mutates.
type QualityReport struct {
	ValidPixelFraction float64       `json:"valid_pixel_fraction"`
	ValueMin           float64       `json:"value_min"`
	ValueMax           float64       `json:"value_max"`
	Mean               float64       `json:"mean"`
	StdDev             float64       `json:"std_dev"`
	Median             float64       `json:"median"`
	OutOfRangeCount    int           `json:"out_of_range_count"`
	RangeDefined       bool          `json:"range_defined"`
	Flags              []QualityFlag `json:"flags,omitempty"`
}

// HasFlag reports whether the given flag was raised.
func (r *QualityReport) HasFlag(f QualityFlag) bool {
	for _, g := range r.Flags {
		if g == f {
			return true
		}
	}
	return false
}

// Validate computes validity and range statistics for a product raster.
// With zero valid pixels the value range is undefined and the raster is
// flagged LowQuality.
func Validate(grid *geo.RasterGrid, kind ProductKind, policy ValidationPolicy) *QualityReport {
	expected := ExpectedRangeFor(kind)
	if policy.ExpectedRange != nil {
		expected = *policy.ExpectedRange
	}

	total := len(grid.Data)
	valid := make([]float64, 0, total)
	outOfRange := 0
	for _, v := range grid.Data {
		if grid.IsNoData(v) || math.IsNaN(v) {
			continue
		}
		valid = append(valid, v)
		if v < expected.Min || v > expected.Max {
			outOfRange++
		}
	}

	report := &QualityReport{
		ValidPixelFraction: float64(len(valid)) / float64(total),
		OutOfRangeCount:    outOfRange,
	}
	if len(valid) == 0 {
		report.Flags = append(report.Flags, FlagLowQuality)
		return report
	}

	sort.Float64s(valid)
	report.RangeDefined = true
	report.ValueMin = valid[0]
	report.ValueMax = valid[len(valid)-1]
	report.Mean, report.StdDev = stat.MeanStdDev(valid, nil)
	if math.IsNaN(report.StdDev) {
		// Single-sample grids have no spread.
		report.StdDev = 0
	}
	report.Median = stat.Quantile(0.5, stat.Empirical, valid, nil)

	if report.ValidPixelFraction < policy.minValid() {
		report.Flags = append(report.Flags, FlagLowQuality)
	}
	if float64(outOfRange)/float64(len(valid)) > policy.tolerance() {
		report.Flags = append(report.Flags, FlagSuspectRange)
	}
	return report
}
