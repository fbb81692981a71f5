package engine

import (
	"fmt"

	"github.com/scrypster/engram/pkg/types"
)

// ValidationError reports an input parameter outside its legal range, such as
// a mismatched vector dimension or an out-of-range configuration value. It is
// always surfaced to the caller and never retried automatically.
type ValidationError struct {
	Parameter  string
	Value      float64
	Constraint string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter: %s = %g, expected %s", e.Parameter, e.Value, e.Constraint)
}

// DimensionError reports two vectors of different lengths passed to a
// similarity calculation.
type DimensionError struct {
	LenA, LenB int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimensions must match for similarity calculation: %d != %d", e.LenA, e.LenB)
}

// CalculationError reports an internal arithmetic failure (overflow,
// non-finite intermediate). Callers recover via the deterministic fallback
// probability so the pipeline always produces a usable value.
type CalculationError struct {
	Operation string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("mathematical overflow in calculation: %s", e.Operation)
}

// InvalidTransitionError reports a tier migration request outside the legal
// transition graph. The record is left unchanged.
type InvalidTransitionError struct {
	From, To types.Tier
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid tier transition: %s -> %s", e.From, e.To)
}
