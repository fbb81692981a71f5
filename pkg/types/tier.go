package types

import (
	"fmt"
	"strings"
)

// Tier represents the residency tier of a memory record. Tiers are ordered by
// decreasing expected access frequency: Working, Warm, Cold, Frozen. Frozen is
// terminal: a frozen record never migrates again through this engine.
type Tier string

// Residency tier constants
const (
	TierWorking Tier = "working"
	TierWarm    Tier = "warm"
	TierCold    Tier = "cold"
	TierFrozen  Tier = "frozen"
)

// AllTiers lists every tier in residency order, hottest first.
var AllTiers = []Tier{TierWorking, TierWarm, TierCold, TierFrozen}

// ParseTier converts a string into a Tier, case-insensitively.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "working":
		return TierWorking, nil
	case "warm":
		return TierWarm, nil
	case "cold":
		return TierCold, nil
	case "frozen":
		return TierFrozen, nil
	default:
		return "", fmt.Errorf("invalid memory tier: %q", s)
	}
}

// IsValid reports whether t is one of the four known tiers.
func (t Tier) IsValid() bool {
	switch t {
	case TierWorking, TierWarm, TierCold, TierFrozen:
		return true
	}
	return false
}

// Depth returns the residency depth of the tier: 0 for Working through 3 for
// Frozen. Unknown tiers sort after Frozen.
func (t Tier) Depth() int {
	switch t {
	case TierWorking:
		return 0
	case TierWarm:
		return 1
	case TierCold:
		return 2
	case TierFrozen:
		return 3
	}
	return 4
}

// IsTerminal reports whether the tier admits no further migrations.
// Only Frozen is terminal.
func (t Tier) IsTerminal() bool {
	return t == TierFrozen
}

// CanTransitionTo reports whether the migration from t to target is legal.
//
// The transition graph is deliberately asymmetric and never skips a level on
// promotion:
//
//	working -> warm | cold
//	warm    -> cold | working
//	cold    -> warm
//	frozen  -> (terminal)
//
// Entering Frozen is an archival operation outside this transition set, so
// no tier may transition to Frozen here.
func (t Tier) CanTransitionTo(target Tier) bool {
	switch t {
	case TierWorking:
		return target == TierWarm || target == TierCold
	case TierWarm:
		return target == TierCold || target == TierWorking
	case TierCold:
		return target == TierWarm
	case TierFrozen:
		return false
	}
	return false
}

// String returns the tier name.
func (t Tier) String() string {
	return string(t)
}
