package terrain

import (
	"fmt"

	"github.com/paulmach/orb"
)

// NetworkError marks a transient provider failure. The acquisition manager
// retries these with backoff before surfacing them; any other error aborts
// the attempt immediately.
type NetworkError struct {
	Provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("provider %s: network error: %v", e.Provider, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NoCoverageError indicates no provider (or a specific provider) covers the
// requested location. Never retried.
type NoCoverageError struct {
	Provider string // empty when all ranked providers were exhausted
	Lat, Lon float64
}

func (e *NoCoverageError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("no provider covers (%.5f, %.5f)", e.Lat, e.Lon)
	}
	return fmt.Sprintf("provider %s does not cover (%.5f, %.5f)", e.Provider, e.Lat, e.Lon)
}

// ExtentMismatchError indicates two datasets share no geographic overlap.
// Both bounding boxes are carried for diagnosis.
type ExtentMismatchError struct {
	BoundA orb.Bound
	BoundB orb.Bound
}

func (e *ExtentMismatchError) Error() string {
	return fmt.Sprintf("extents do not overlap: [%g,%g,%g,%g] vs [%g,%g,%g,%g]",
		e.BoundA.Min[0], e.BoundA.Min[1], e.BoundA.Max[0], e.BoundA.Max[1],
		e.BoundB.Min[0], e.BoundB.Min[1], e.BoundB.Max[0], e.BoundB.Max[1])
}

// ResolutionMismatchError indicates the input resolutions differ beyond the
// policy ratio tolerance, where resampling would silently degrade quality.
type ResolutionMismatchError struct {
	ResolutionA float64
	ResolutionB float64
	MaxRatio    float64
}

func (e *ResolutionMismatchError) Error() string {
	return fmt.Sprintf("resolutions %g and %g differ beyond the allowed ratio %g",
		e.ResolutionA, e.ResolutionB, e.MaxRatio)
}

// UnalignedInputError indicates a derived-product computation was invoked on
// grids that fail the alignment invariant. In correct operation this never
// happens: callers must route inputs through the reconciler first.
type UnalignedInputError struct {
	Product string
	Reason  error
}

func (e *UnalignedInputError) Error() string {
	return fmt.Sprintf("compute %s: inputs are not aligned: %v", e.Product, e.Reason)
}

func (e *UnalignedInputError) Unwrap() error { return e.Reason }
