package engine

import (
	"math"
	"time"

	"github.com/scrypster/engram/pkg/types"
)

// CognitiveConfig tunes the five-factor cognitive adjustment layer.
type CognitiveConfig struct {
	// Alpha is the learning rate applied to the base strength increment.
	Alpha float64 `yaml:"alpha"`

	// Beta is the spacing sensitivity of the base growth term.
	Beta float64 `yaml:"beta"`

	// ContextWeight scales the context-dependent boost.
	ContextWeight float64 `yaml:"context_weight"`

	// ClusteringThreshold is the minimum cosine similarity for a related
	// record to count toward the semantic clustering bonus.
	ClusteringThreshold float64 `yaml:"clustering_threshold"`

	// MinSpacingHours is the interval below which re-access earns only the
	// minimum spacing benefit.
	MinSpacingHours float64 `yaml:"min_spacing_hours"`

	// MaxStrength is the consolidation strength ceiling for cognitive
	// consolidation. Historically higher than the decay model's ceiling.
	MaxStrength float64 `yaml:"max_strength"`

	// DifficultyScaling boosts the testing effect for effortful retrievals.
	DifficultyScaling float64 `yaml:"difficulty_scaling"`
}

// DefaultCognitiveConfig returns the research-derived default parameters.
func DefaultCognitiveConfig() CognitiveConfig {
	return CognitiveConfig{
		Alpha:               0.3,
		Beta:                1.5,
		ContextWeight:       0.2,
		ClusteringThreshold: 0.75,
		MinSpacingHours:     0.5,
		MaxStrength:         15.0,
		DifficultyScaling:   1.2,
	}
}

// Validate checks the configuration for out-of-range values.
func (c CognitiveConfig) Validate() error {
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return &ValidationError{Parameter: "alpha", Value: c.Alpha, Constraint: "0 < value < 1"}
	}
	if c.Beta <= 0 {
		return &ValidationError{Parameter: "beta", Value: c.Beta, Constraint: "> 0"}
	}
	if c.ContextWeight < 0 || c.ContextWeight > 1 {
		return &ValidationError{Parameter: "context_weight", Value: c.ContextWeight, Constraint: "0 <= value <= 1"}
	}
	if c.ClusteringThreshold <= 0.5 || c.ClusteringThreshold > 1 {
		return &ValidationError{Parameter: "clustering_threshold", Value: c.ClusteringThreshold, Constraint: "0.5 < value <= 1"}
	}
	if c.MaxStrength < types.MinConsolidationStrength {
		return &ValidationError{Parameter: "max_strength", Value: c.MaxStrength, Constraint: ">= 0.1"}
	}
	return nil
}

// CognitiveAdjuster layers spacing, testing, clustering, context and
// interference effects on top of the decay model's base recall probability.
// It is stateless: every calculation takes owned inputs and returns a fresh
// result, so it is safe to call concurrently.
type CognitiveAdjuster struct {
	cfg   CognitiveConfig
	decay *DecayModel
}

// NewCognitiveAdjuster returns an adjuster over the given decay model with
// default cognitive parameters.
func NewCognitiveAdjuster(decay *DecayModel) *CognitiveAdjuster {
	return NewCognitiveAdjusterWithConfig(decay, DefaultCognitiveConfig())
}

// NewCognitiveAdjusterWithConfig returns an adjuster with custom parameters.
// Invalid configurations fall back to the defaults.
func NewCognitiveAdjusterWithConfig(decay *DecayModel, cfg CognitiveConfig) *CognitiveAdjuster {
	if err := cfg.Validate(); err != nil {
		cfg = DefaultCognitiveConfig()
	}
	if decay == nil {
		decay = NewDecayModel()
	}
	return &CognitiveAdjuster{cfg: cfg, decay: decay}
}

// Config returns the adjuster's configuration.
func (a *CognitiveAdjuster) Config() CognitiveConfig {
	return a.cfg
}

// Consolidate computes the cognitive consolidation result for a record given
// the retrieval context and its semantic neighborhood at the given instant.
//
// The enhanced recall probability is the decay model's base probability
// multiplied by clamp(1 + clustering + context - interference, 0.1, 2.0) and
// bounded to [0,1]. The strength increment is the base saturating growth term
// multiplied by spacing * testing * (1 + clustering + context - interference),
// clamped to [0.01, 2.0].
func (a *CognitiveAdjuster) Consolidate(
	rec *types.MemoryRecord,
	ctx *types.RetrievalContext,
	related []*types.MemoryRecord,
	now time.Time,
) (*types.CognitiveConsolidationResult, error) {
	start := time.Now()

	baseRecall, err := a.decay.CalculateRecallProbability(RecallParamsFromRecord(rec), now)
	if err != nil {
		return nil, err
	}

	spacing := a.SpacingEffect(rec, now)
	testing := a.TestingEffect(ctx)

	clustering, err := a.ClusteringBonus(rec, related)
	if err != nil {
		return nil, err
	}

	contextBoost := a.ContextBoost(rec, ctx)

	interference, err := a.InterferencePenalty(rec, related)
	if err != nil {
		return nil, err
	}

	factors := types.CognitiveFactors{
		SpacingEffect:       spacing,
		TestingEffect:       testing,
		ClusteringBonus:     clustering,
		ContextBoost:        contextBoost,
		InterferencePenalty: interference,
	}

	increment := a.strengthIncrement(rec, factors, now)
	newStrength := clamp(rec.ConsolidationStrength+increment, types.MinConsolidationStrength, a.cfg.MaxStrength)

	multiplier := clamp(1.0+clustering+contextBoost-interference, 0.1, 2.0)
	enhanced := clamp(baseRecall.RecallProbability*multiplier, 0, 1)

	return &types.CognitiveConsolidationResult{
		RecordID:                 rec.ID,
		NewConsolidationStrength: newStrength,
		StrengthIncrement:        increment,
		RecallProbability:        enhanced,
		Factors:                  factors,
		CalculationTime:          time.Since(start),
	}, nil
}

// SpacingEffect scores the benefit of the interval since the previous access
// on an inverted-U curve. The optimal interval scales with consolidation
// strength (24h per unit of strength): re-access far before it earns little,
// near it earns the most, and long after it the benefit decays back down.
// The result is clamped to [0.1, 2.0].
func (a *CognitiveAdjuster) SpacingEffect(rec *types.MemoryRecord, now time.Time) float64 {
	intervalHours := rec.HoursSinceAccess(now)
	if intervalHours < a.cfg.MinSpacingHours {
		return 0.1
	}

	optimal := rec.ConsolidationStrength * 24.0
	if optimal <= 0 {
		optimal = 24.0
	}

	ratio := intervalHours / optimal
	var effect float64
	switch {
	case ratio < 0.5:
		effect = ratio * 2.0
	case ratio <= 2.0:
		effect = 1.0 + (ratio-1.0)*0.5
	default:
		effect = 1.5 * math.Min(2.0/ratio, 1.0)
	}

	return clamp(effect, 0.1, 2.0)
}

// TestingEffect scores retrieval difficulty as a step function of latency:
// near-instant recall earns little, the desirable-difficulty band around
// 1.5-3s earns the most, and very slow recall earns a moderate score. The
// step is scaled by a confidence-derived effort factor and a success
// multiplier (1.5x above 0.7 confidence). Clamped to [0.2, 2.5].
func (a *CognitiveAdjuster) TestingEffect(ctx *types.RetrievalContext) float64 {
	if ctx == nil {
		return 0.2
	}

	var difficulty float64
	switch {
	case ctx.RetrievalLatencyMS <= 500:
		difficulty = 0.2
	case ctx.RetrievalLatencyMS <= 1500:
		difficulty = 0.8
	case ctx.RetrievalLatencyMS <= 3000:
		difficulty = 1.5
	case ctx.RetrievalLatencyMS <= 6000:
		difficulty = 1.2
	case ctx.RetrievalLatencyMS <= 10000:
		difficulty = 0.9
	default:
		difficulty = 0.6
	}

	effortFactor := 1.0 + (1.0-ctx.ConfidenceScore)*0.4

	successMultiplier := 1.2
	if ctx.ConfidenceScore > 0.7 {
		successMultiplier = 1.5
	}

	return clamp(difficulty*effortFactor*successMultiplier*a.cfg.DifficultyScaling, 0.2, 2.5)
}

// ClusteringBonus rewards records sitting in a dense semantic neighborhood.
// For each related record with an embedding it computes cosine similarity,
// keeps those above the clustering threshold, and combines their average
// similarity with a logarithmic density term. Zero when the record has no
// embedding or the neighborhood is empty. Clamped to [0,1].
func (a *CognitiveAdjuster) ClusteringBonus(rec *types.MemoryRecord, related []*types.MemoryRecord) (float64, error) {
	if len(rec.Embedding) == 0 || len(related) == 0 {
		return 0, nil
	}

	var similaritySum float64
	var clustered int
	for _, other := range related {
		if len(other.Embedding) == 0 {
			continue
		}
		similarity, err := CosineSimilarity(rec.Embedding, other.Embedding)
		if err != nil {
			return 0, err
		}
		if similarity > a.cfg.ClusteringThreshold {
			clustered++
			similaritySum += similarity
		}
	}

	if clustered == 0 {
		return 0, nil
	}

	avgSimilarity := similaritySum / float64(clustered)
	density := math.Log(float64(clustered)) / 10.0

	return clamp(avgSimilarity*density, 0, 1), nil
}

// ContextBoost rewards overlap between the environmental context stored on
// the record and the factors of the current retrieval. Each shared factor
// contributes 1-|a-b|; the average is scaled by the configured context
// weight. Clamped to [0, 0.5].
func (a *CognitiveAdjuster) ContextBoost(rec *types.MemoryRecord, ctx *types.RetrievalContext) float64 {
	if ctx == nil || len(ctx.EnvironmentalFactors) == 0 {
		return 0
	}
	stored := rec.EnvironmentalContext()
	if len(stored) == 0 {
		return 0
	}

	var similaritySum float64
	var matching int
	for factor, current := range ctx.EnvironmentalFactors {
		recorded, ok := stored[factor]
		if !ok {
			continue
		}
		similaritySum += 1.0 - math.Min(math.Abs(current-recorded), 1.0)
		matching++
	}

	if matching == 0 {
		return 0
	}

	boost := similaritySum / float64(matching) * a.cfg.ContextWeight
	return clamp(boost, 0, 0.5)
}

// InterferencePenalty estimates competitive interference from similar,
// strongly-held neighbors. Each related record (excluding the target itself)
// contributes its similarity weighted by its strength relative to the target,
// capped at 2.0; the sum is log-scaled to avoid runaway penalties. Clamped to
// [0, 0.3].
func (a *CognitiveAdjuster) InterferencePenalty(rec *types.MemoryRecord, related []*types.MemoryRecord) (float64, error) {
	if len(rec.Embedding) == 0 || len(related) == 0 {
		return 0, nil
	}

	targetStrength := math.Max(rec.ConsolidationStrength, types.MinConsolidationStrength)

	var total float64
	for _, other := range related {
		if other.ID == rec.ID {
			continue
		}
		if len(other.Embedding) == 0 {
			continue
		}
		similarity, err := CosineSimilarity(rec.Embedding, other.Embedding)
		if err != nil {
			return 0, err
		}
		strengthRatio := math.Min(other.ConsolidationStrength/targetStrength, 2.0)
		total += similarity * strengthRatio
	}

	penalty := math.Log(1.0+total) / 10.0
	return clamp(penalty, 0, 0.3), nil
}

// strengthIncrement combines the base saturating growth term with the five
// cognitive factors. Records never accessed get a fixed half-alpha base.
func (a *CognitiveAdjuster) strengthIncrement(rec *types.MemoryRecord, f types.CognitiveFactors, now time.Time) float64 {
	var base float64
	if rec.LastAccessedAt != nil && !rec.LastAccessedAt.IsZero() {
		hours := rec.HoursSinceAccess(now)
		expNeg := math.Exp(-a.cfg.Beta * hours)
		base = a.cfg.Alpha * (1.0 - expNeg) / (1.0 + expNeg)
	} else {
		base = a.cfg.Alpha * 0.5
	}

	multiplier := f.SpacingEffect * f.TestingEffect * (1.0 + f.ClusteringBonus + f.ContextBoost - f.InterferencePenalty)

	return clamp(base*multiplier, 0.01, 2.0)
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors. Zero-norm vectors yield zero similarity; mismatched dimensions are
// a validation error.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionError{LenA: len(a), LenB: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
