package engine

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/engram/pkg/types"
)

// MigrationDecision is the outcome of evaluating a record against the tier
// thresholds.
type MigrationDecision string

const (
	// DecisionStay keeps the record in its current tier.
	DecisionStay MigrationDecision = "stay"

	// DecisionDemote moves the record one tier down the residency ladder.
	DecisionDemote MigrationDecision = "demote"

	// DecisionPromote moves the record one tier up after renewed access.
	DecisionPromote MigrationDecision = "promote"

	// DecisionArchiveCandidate flags a Cold record for external archival.
	// The policy itself never moves records into Frozen.
	DecisionArchiveCandidate MigrationDecision = "archive_candidate"
)

// TierPolicyConfig holds the probability thresholds and fallback heuristics
// that drive tier migration.
type TierPolicyConfig struct {
	// WorkingToWarmThreshold demotes a Working record whose recall
	// probability drops below it.
	WorkingToWarmThreshold float64 `yaml:"working_to_warm_threshold"`

	// WarmToColdThreshold demotes a Warm record whose recall probability
	// drops below it.
	WarmToColdThreshold float64 `yaml:"warm_to_cold_threshold"`

	// ColdArchiveThreshold flags a Cold record as an archival candidate
	// when its recall probability drops below it.
	ColdArchiveThreshold float64 `yaml:"cold_archive_threshold"`

	// WarmPromoteThreshold promotes a Warm record back to Working when
	// renewed access pushes its recall probability above it.
	WarmPromoteThreshold float64 `yaml:"warm_promote_threshold"`

	// ColdPromoteThreshold promotes a Cold record back to Warm when its
	// recall probability recovers above it.
	ColdPromoteThreshold float64 `yaml:"cold_promote_threshold"`
}

// DefaultTierPolicyConfig returns the standard migration thresholds.
func DefaultTierPolicyConfig() TierPolicyConfig {
	return TierPolicyConfig{
		WorkingToWarmThreshold: 0.7,
		WarmToColdThreshold:    0.5,
		ColdArchiveThreshold:   0.2,
		WarmPromoteThreshold:   0.9,
		ColdPromoteThreshold:   0.8,
	}
}

// Validate checks threshold ordering and ranges.
func (c TierPolicyConfig) Validate() error {
	for name, v := range map[string]float64{
		"working_to_warm_threshold": c.WorkingToWarmThreshold,
		"warm_to_cold_threshold":    c.WarmToColdThreshold,
		"cold_archive_threshold":    c.ColdArchiveThreshold,
		"warm_promote_threshold":    c.WarmPromoteThreshold,
		"cold_promote_threshold":    c.ColdPromoteThreshold,
	} {
		if v < 0 || v > 1 {
			return &ValidationError{Parameter: name, Value: v, Constraint: "0 <= value <= 1"}
		}
	}
	if c.WarmToColdThreshold > c.WorkingToWarmThreshold {
		return &ValidationError{
			Parameter:  "warm_to_cold_threshold",
			Value:      c.WarmToColdThreshold,
			Constraint: "<= working_to_warm_threshold",
		}
	}
	if c.ColdArchiveThreshold > c.WarmToColdThreshold {
		return &ValidationError{
			Parameter:  "cold_archive_threshold",
			Value:      c.ColdArchiveThreshold,
			Constraint: "<= warm_to_cold_threshold",
		}
	}
	if c.WarmPromoteThreshold <= c.WorkingToWarmThreshold {
		return &ValidationError{
			Parameter:  "warm_promote_threshold",
			Value:      c.WarmPromoteThreshold,
			Constraint: "> working_to_warm_threshold",
		}
	}
	return nil
}

// MigrationCandidate describes a record the policy wants to migrate, sortable
// by urgency.
type MigrationCandidate struct {
	MemoryID          uuid.UUID
	CurrentTier       types.Tier
	TargetTier        types.Tier
	Decision          MigrationDecision
	RecallProbability float64
	Reason            string
	PriorityScore     float64
}

// TierPolicy maps recall probabilities to tier migration decisions and
// enforces the legal transition graph. It is stateless and safe for
// concurrent use.
type TierPolicy struct {
	cfg   TierPolicyConfig
	decay *DecayModel
}

// NewTierPolicy returns a policy over the given decay model with default
// thresholds.
func NewTierPolicy(decay *DecayModel) *TierPolicy {
	return NewTierPolicyWithConfig(decay, DefaultTierPolicyConfig())
}

// NewTierPolicyWithConfig returns a policy with custom thresholds. Invalid
// configurations fall back to the defaults.
func NewTierPolicyWithConfig(decay *DecayModel, cfg TierPolicyConfig) *TierPolicy {
	if err := cfg.Validate(); err != nil {
		log.Printf("tier policy: invalid config (%v), using defaults", err)
		cfg = DefaultTierPolicyConfig()
	}
	if decay == nil {
		decay = NewDecayModel()
	}
	return &TierPolicy{cfg: cfg, decay: decay}
}

// Config returns the policy's thresholds.
func (p *TierPolicy) Config() TierPolicyConfig {
	return p.cfg
}

// ShouldMigrate reports whether the record is a migration candidate at the
// given instant. Frozen records never migrate.
func (p *TierPolicy) ShouldMigrate(rec *types.MemoryRecord, now time.Time) bool {
	candidate, err := p.Evaluate(rec, now)
	if err != nil {
		return false
	}
	return candidate != nil
}

// Decide maps a recall probability and current tier to a migration decision.
func (p *TierPolicy) Decide(probability float64, tier types.Tier) MigrationDecision {
	switch tier {
	case types.TierWorking:
		if probability < p.cfg.WorkingToWarmThreshold {
			return DecisionDemote
		}
	case types.TierWarm:
		if probability < p.cfg.WarmToColdThreshold {
			return DecisionDemote
		}
		if probability >= p.cfg.WarmPromoteThreshold {
			return DecisionPromote
		}
	case types.TierCold:
		if probability >= p.cfg.ColdPromoteThreshold {
			return DecisionPromote
		}
		if probability < p.cfg.ColdArchiveThreshold {
			return DecisionArchiveCandidate
		}
	case types.TierFrozen:
		// Terminal tier, archival and restoration are external operations.
	}
	return DecisionStay
}

// Evaluate computes the record's recall probability and returns a migration
// candidate, or nil when the record should stay put. A failed probability
// calculation falls back first to the importance-and-strength estimate and,
// for the demotion decision itself, to per-tier idle heuristics so migration
// evaluation is never silently skipped.
func (p *TierPolicy) Evaluate(rec *types.MemoryRecord, now time.Time) (*MigrationCandidate, error) {
	if rec.Tier == types.TierFrozen {
		return nil, nil
	}
	if !rec.Tier.IsValid() {
		return nil, &ValidationError{Parameter: "tier", Value: 0, Constraint: fmt.Sprintf("unknown tier %q", rec.Tier)}
	}

	var probability float64
	var decision MigrationDecision
	var reason string

	result, err := p.decay.CalculateRecallProbability(RecallParamsFromRecord(rec), now)
	if err != nil {
		log.Printf("tier policy: probability calculation failed for %s: %v", rec.ID, err)
		probability = p.decay.FallbackProbability(RecallParamsFromRecord(rec))
		decision = p.heuristicDecision(rec, now)
		reason = fmt.Sprintf("heuristic fallback for tier %s (probability unavailable)", rec.Tier)
	} else {
		probability = result.RecallProbability
		decision = p.Decide(probability, rec.Tier)
		reason = fmt.Sprintf("recall probability %.3f against tier %s thresholds", probability, rec.Tier)
	}

	if decision == DecisionStay {
		return nil, nil
	}

	target, err := p.targetTier(rec.Tier, decision)
	if err != nil {
		return nil, err
	}

	return &MigrationCandidate{
		MemoryID:          rec.ID,
		CurrentTier:       rec.Tier,
		TargetTier:        target,
		Decision:          decision,
		RecallProbability: probability,
		Reason:            reason,
		PriorityScore:     PriorityScore(probability, rec.UpdatedAt, now),
	}, nil
}

// heuristicDecision applies the per-tier idle and importance rules used when
// the probability calculation is unavailable.
func (p *TierPolicy) heuristicDecision(rec *types.MemoryRecord, now time.Time) MigrationDecision {
	switch rec.Tier {
	case types.TierWorking:
		if rec.ImportanceScore < 0.3 || rec.IdleFor(24*time.Hour, now) {
			return DecisionDemote
		}
	case types.TierWarm:
		if rec.ImportanceScore < 0.1 && rec.IdleFor(7*24*time.Hour, now) {
			return DecisionDemote
		}
	case types.TierCold:
		if rec.IdleFor(30*24*time.Hour, now) {
			return DecisionArchiveCandidate
		}
	}
	return DecisionStay
}

// targetTier resolves the destination for a non-stay decision.
func (p *TierPolicy) targetTier(current types.Tier, decision MigrationDecision) (types.Tier, error) {
	switch decision {
	case DecisionDemote:
		next, ok := NextTier(current)
		if !ok {
			return current, &InvalidTransitionError{From: current, To: types.TierFrozen}
		}
		return next, nil
	case DecisionPromote:
		switch current {
		case types.TierWarm:
			return types.TierWorking, nil
		case types.TierCold:
			return types.TierWarm, nil
		}
		return current, &InvalidTransitionError{From: current, To: current}
	case DecisionArchiveCandidate:
		// Archival keeps the record in Cold until the external archiver
		// moves it. The candidate carries the flag, not a tier change.
		return current, nil
	}
	return current, nil
}

// NextTier returns the single demotion target for a tier. Cold and Frozen
// have none: archival into Frozen is performed outside this policy.
func NextTier(current types.Tier) (types.Tier, bool) {
	switch current {
	case types.TierWorking:
		return types.TierWarm, true
	case types.TierWarm:
		return types.TierCold, true
	default:
		return current, false
	}
}

// ValidateTransition rejects tier pairs outside the legal transition graph.
func ValidateTransition(from, to types.Tier) error {
	if !from.CanTransitionTo(to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// PriorityScore ranks migration urgency. Lower recall probability and older
// records score higher.
func PriorityScore(probability float64, updatedAt, now time.Time) float64 {
	ageDays := now.Sub(updatedAt).Hours() / 24.0
	ageFactor := 0.0
	if ageDays > 0 {
		ageFactor = math.Max(math.Log(ageDays), 0.0)
	}
	return (1.0 - probability) * (1.0 + ageFactor)
}
