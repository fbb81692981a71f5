// Package engine implements the decay-and-consolidation core: the Ebbinghaus
// decay model, the cognitive adjustment factors, the tier migration policy,
// and the batch consolidation orchestrator.
package engine

import (
	"log"
	"math"
	"time"

	"github.com/scrypster/engram/pkg/types"
)

const (
	// DefaultTimeScale converts elapsed hours into the normalized time units
	// of the retention curve. At 0.1, one hour of wall clock is 0.1 units, so
	// a fresh default-strength record still recalls at ~0.9 after an hour.
	DefaultTimeScale = 0.1

	// DefaultMaxStrength is the historic math-engine strength ceiling. The
	// cognitive layer carries its own, higher ceiling; both are configurable.
	DefaultMaxStrength = 10.0

	// DefaultPerformanceTarget is the per-calculation latency contract.
	DefaultPerformanceTarget = 10 * time.Millisecond

	// minRecallInterval is the shortest interval that still strengthens a
	// record. Re-recalls inside a minute contribute nothing.
	minRecallInterval = time.Minute

	// linearFallbackRate is the conservative per-hour increment applied when
	// the saturating growth term cannot be computed.
	linearFallbackRate = 0.01

	// linearFallbackCap bounds the conservative fallback increment.
	linearFallbackCap = 0.5
)

// DecayConfig tunes the decay model.
type DecayConfig struct {
	// TimeScale converts elapsed hours to normalized retention-curve time.
	TimeScale float64 `yaml:"time_scale"`

	// MaxStrength is the consolidation strength ceiling for plain strength
	// updates.
	MaxStrength float64 `yaml:"max_strength"`

	// MinStrength is the consolidation strength floor.
	MinStrength float64 `yaml:"min_strength"`

	// PerformanceTarget is the per-calculation latency budget.
	PerformanceTarget time.Duration `yaml:"performance_target"`
}

// DefaultDecayConfig returns the default decay model configuration.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		TimeScale:         DefaultTimeScale,
		MaxStrength:       DefaultMaxStrength,
		MinStrength:       types.MinConsolidationStrength,
		PerformanceTarget: DefaultPerformanceTarget,
	}
}

// Validate checks the configuration for out-of-range values.
func (c DecayConfig) Validate() error {
	if c.TimeScale <= 0 {
		return &ValidationError{Parameter: "time_scale", Value: c.TimeScale, Constraint: "> 0"}
	}
	if c.MinStrength <= 0 {
		return &ValidationError{Parameter: "min_strength", Value: c.MinStrength, Constraint: "> 0"}
	}
	if c.MaxStrength <= c.MinStrength {
		return &ValidationError{Parameter: "max_strength", Value: c.MaxStrength, Constraint: "> min_strength"}
	}
	return nil
}

// RecallParams are the inputs to a recall probability calculation.
type RecallParams struct {
	ConsolidationStrength float64
	DecayRate             float64
	LastAccessedAt        *time.Time
	CreatedAt             time.Time
	AccessCount           int
	ImportanceScore       float64
}

// RecallParamsFromRecord extracts decay inputs from a record.
func RecallParamsFromRecord(rec *types.MemoryRecord) RecallParams {
	return RecallParams{
		ConsolidationStrength: rec.ConsolidationStrength,
		DecayRate:             rec.DecayRate,
		LastAccessedAt:        rec.LastAccessedAt,
		CreatedAt:             rec.CreatedAt,
		AccessCount:           rec.AccessCount,
		ImportanceScore:       rec.ImportanceScore,
	}
}

// RecallResult is the output of a recall probability calculation.
type RecallResult struct {
	RecallProbability    float64
	TimeSinceAccessHours float64
	NormalizedTime       float64
	CalculationTime      time.Duration
}

// StrengthUpdate is the output of a consolidation strength update.
type StrengthUpdate struct {
	NewStrength         float64
	Increment           float64
	RecallIntervalHours float64
	CalculationTime     time.Duration
}

// BatchError pairs a failed calculation with its input index.
type BatchError struct {
	Index int
	Err   error
}

// BatchResult aggregates a batch recall calculation. Results are index-aligned
// with the inputs; entries that failed hold the deterministic fallback
// probability and appear in Errors.
type BatchResult struct {
	Results        []RecallResult
	Errors         []BatchError
	ProcessedCount int
	TotalTime      time.Duration
}

// DecayModel computes time-decaying recall probabilities and saturating
// strength updates. It is stateless and safe for concurrent use.
//
// The retention curve is Ebbinghaus-style exponential decay:
//
//	R(t) = exp(-r * t' / S)
//
// where t' is elapsed hours scaled by TimeScale, S is the consolidation
// strength (the curve's time constant) and r is the decay rate. Holding the
// other inputs fixed, the result strictly increases with S and strictly
// decreases with r and with elapsed time.
type DecayModel struct {
	cfg DecayConfig
}

// NewDecayModel returns a DecayModel with the default configuration.
func NewDecayModel() *DecayModel {
	return &DecayModel{cfg: DefaultDecayConfig()}
}

// NewDecayModelWithConfig returns a DecayModel with a custom configuration.
// Invalid configurations fall back to the defaults.
func NewDecayModelWithConfig(cfg DecayConfig) *DecayModel {
	if err := cfg.Validate(); err != nil {
		log.Printf("engine: invalid decay config (%v), using defaults", err)
		cfg = DefaultDecayConfig()
	}
	return &DecayModel{cfg: cfg}
}

// Config returns the model's configuration.
func (m *DecayModel) Config() DecayConfig {
	return m.cfg
}

// checkPerformance logs a warning when a single calculation exceeds the
// configured per-call target.
func (m *DecayModel) checkPerformance(operation string, elapsed time.Duration) {
	if m.cfg.PerformanceTarget > 0 && elapsed > m.cfg.PerformanceTarget {
		log.Printf("engine: %s took %s, exceeding the %s performance target",
			operation, elapsed, m.cfg.PerformanceTarget)
	}
}

// CalculateRecallProbability computes the recall probability for the given
// parameters at the given instant. The result is always in [0,1]. A record
// that was never accessed decays from its creation time; a last-access
// timestamp in the future clamps elapsed time to zero.
func (m *DecayModel) CalculateRecallProbability(params RecallParams, now time.Time) (RecallResult, error) {
	start := time.Now()

	if err := m.validateParams(params); err != nil {
		return RecallResult{}, err
	}

	ref := params.CreatedAt
	if params.LastAccessedAt != nil && !params.LastAccessedAt.IsZero() {
		ref = *params.LastAccessedAt
	}
	hours := now.Sub(ref).Hours()
	if hours < 0 {
		hours = 0
	}

	strength := math.Max(params.ConsolidationStrength, m.cfg.MinStrength)
	normalized := hours * m.cfg.TimeScale / strength

	probability := math.Exp(-params.DecayRate * normalized)
	if math.IsNaN(probability) || math.IsInf(probability, 0) {
		return RecallResult{}, &CalculationError{Operation: "retention curve exp(-r*t/S)"}
	}

	elapsed := time.Since(start)
	m.checkPerformance("recall probability calculation", elapsed)

	return RecallResult{
		RecallProbability:    clamp(probability, 0, 1),
		TimeSinceAccessHours: hours,
		NormalizedTime:       normalized,
		CalculationTime:      elapsed,
	}, nil
}

// FallbackProbability is the documented deterministic fallback used when the
// retention curve cannot be computed: a linear blend of importance and
// strength, bounded to [0,1]. The same inputs always produce the same value.
func (m *DecayModel) FallbackProbability(params RecallParams) float64 {
	return clamp(params.ImportanceScore*params.ConsolidationStrength/10.0, 0, 1)
}

// UpdateConsolidationStrength strengthens a record after a recall separated
// from the previous access by recallInterval. Growth is a bounded saturating
// function of the interval; the result is clamped to
// [MinStrength, MaxStrength]. When the growth term cannot be computed the
// model applies a conservative linear increment instead of failing.
func (m *DecayModel) UpdateConsolidationStrength(current float64, recallInterval time.Duration) (StrengthUpdate, error) {
	start := time.Now()

	if current < 0 || current > m.cfg.MaxStrength*2 {
		return StrengthUpdate{}, &ValidationError{
			Parameter:  "current_strength",
			Value:      current,
			Constraint: "0 <= value <= 2*max_strength",
		}
	}

	hours := recallInterval.Hours()
	if hours < 0 {
		hours = 0
	}

	if recallInterval < minRecallInterval {
		return StrengthUpdate{
			NewStrength:         clamp(current, m.cfg.MinStrength, m.cfg.MaxStrength),
			Increment:           0,
			RecallIntervalHours: hours,
			CalculationTime:     time.Since(start),
		}, nil
	}

	increment := saturatingGrowth(hours * m.cfg.TimeScale)
	if math.IsNaN(increment) || math.IsInf(increment, 0) {
		increment = math.Min(hours*linearFallbackRate, linearFallbackCap)
		log.Printf("engine: saturating growth overflowed for interval %.1fh, applying linear fallback increment %.3f", hours, increment)
	}

	elapsed := time.Since(start)
	m.checkPerformance("strength update", elapsed)

	return StrengthUpdate{
		NewStrength:         clamp(current+increment, m.cfg.MinStrength, m.cfg.MaxStrength),
		Increment:           increment,
		RecallIntervalHours: hours,
		CalculationTime:     elapsed,
	}, nil
}

// AdaptiveDecayRate derives a decay rate from access patterns: frequently
// accessed and important records decay slower, old untouched records decay
// faster. The result is bounded to [0.1, 5.0].
func (m *DecayModel) AdaptiveDecayRate(params RecallParams, now time.Time) (float64, error) {
	if params.AccessCount < 0 {
		return 0, &ValidationError{Parameter: "access_count", Value: float64(params.AccessCount), Constraint: ">= 0"}
	}
	if params.ImportanceScore < 0 || params.ImportanceScore > 1 {
		return 0, &ValidationError{Parameter: "importance_score", Value: params.ImportanceScore, Constraint: "0 <= value <= 1"}
	}

	accessFactor := 1.0
	if params.AccessCount > 0 {
		accessFactor = 1.0 / (1.0 + math.Log(float64(params.AccessCount)))
	}

	importanceFactor := 1.0 - params.ImportanceScore*0.5

	ageFactor := 1.0
	if ageDays := now.Sub(params.CreatedAt).Hours() / 24.0; ageDays > 0 {
		ageFactor = 1.0 + math.Min(ageDays/30.0, 2.0)
	}

	rate := types.DefaultDecayRate * accessFactor * importanceFactor * ageFactor
	return clamp(rate, 0.1, 5.0), nil
}

// BatchCalculate processes an ordered sequence of parameter sets at a single
// instant. It is deterministic: identical inputs always produce identical
// outputs. Failed entries hold the fallback probability and are reported in
// the Errors slice, index-aligned with the inputs.
func (m *DecayModel) BatchCalculate(params []RecallParams, now time.Time) BatchResult {
	start := time.Now()
	results := make([]RecallResult, 0, len(params))
	var errs []BatchError

	for i, p := range params {
		result, err := m.CalculateRecallProbability(p, now)
		if err != nil {
			errs = append(errs, BatchError{Index: i, Err: err})
			results = append(results, RecallResult{
				RecallProbability: m.FallbackProbability(p),
			})
			continue
		}
		results = append(results, result)
	}

	return BatchResult{
		Results:        results,
		Errors:         errs,
		ProcessedCount: len(params),
		TotalTime:      time.Since(start),
	}
}

func (m *DecayModel) validateParams(params RecallParams) error {
	if params.ConsolidationStrength < 0 {
		return &ValidationError{Parameter: "consolidation_strength", Value: params.ConsolidationStrength, Constraint: ">= 0"}
	}
	if params.DecayRate <= 0 {
		return &ValidationError{Parameter: "decay_rate", Value: params.DecayRate, Constraint: "> 0"}
	}
	if params.ImportanceScore < 0 || params.ImportanceScore > 1 {
		return &ValidationError{Parameter: "importance_score", Value: params.ImportanceScore, Constraint: "0 <= value <= 1"}
	}
	if params.AccessCount < 0 {
		return &ValidationError{Parameter: "access_count", Value: float64(params.AccessCount), Constraint: ">= 0"}
	}
	return nil
}

// saturatingGrowth is the bounded strength increment (1-e^-t)/(1+e^-t).
// It rises steeply for short normalized intervals and saturates at 1.
func saturatingGrowth(t float64) float64 {
	expNeg := math.Exp(-t)
	return (1 - expNeg) / (1 + expNeg)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
