package types

import (
	"time"

	"github.com/google/uuid"
)

// Default decay parameters applied at record creation.
const (
	// DefaultConsolidationStrength is the initial strength for a new record.
	DefaultConsolidationStrength = 1.0

	// DefaultDecayRate is the initial decay rate for a new record.
	DefaultDecayRate = 1.0

	// DefaultEaseFactor is the initial spaced-repetition ease factor.
	DefaultEaseFactor = 2.5

	// DefaultIntervalDays is the initial review interval in days.
	DefaultIntervalDays = 1.0

	// MinConsolidationStrength is the floor below which strength never drops.
	MinConsolidationStrength = 0.1
)

// MemoryRecord is a single unit of stored memory, owned by the persistence
// layer and mutated only through the consolidation engine's write path. Its
// decay fields are initialized at creation, updated on access/consolidation
// events, and frozen once the record is archived to the Frozen tier.
type MemoryRecord struct {
	// Core identification fields
	ID          uuid.UUID    `json:"id"`
	Content     string       `json:"content"`
	ContentHash string       `json:"content_hash,omitempty"` // SHA-256 of content, for deduplication
	Tier        Tier         `json:"tier"`
	Status      RecordStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`

	// Embedding used for semantic clustering and interference; may be nil.
	Embedding []float32 `json:"embedding,omitempty"`

	// Decay inputs
	ConsolidationStrength float64    `json:"consolidation_strength"`
	DecayRate             float64    `json:"decay_rate"`
	AccessCount           int        `json:"access_count"`
	LastAccessedAt        *time.Time `json:"last_accessed_at,omitempty"` // nil = never accessed

	// Decay outputs, cached and recomputed on each consolidation pass.
	RecallProbability  *float64       `json:"recall_probability,omitempty"` // nil until first calculation
	LastRecallInterval *time.Duration `json:"last_recall_interval,omitempty"`

	// Testing-effect fields
	SuccessfulRetrievals   int        `json:"successful_retrievals"`
	FailedRetrievals       int        `json:"failed_retrievals"`
	TotalRetrievalAttempts int        `json:"total_retrieval_attempts"`
	EaseFactor             float64    `json:"ease_factor"`
	CurrentIntervalDays    *float64   `json:"current_interval_days,omitempty"`
	NextReviewAt           *time.Time `json:"next_review_at,omitempty"`

	// ImportanceScore in [0,1] is an independent signal consumed by the
	// engine (fallback heuristics, adaptive decay rate) but never produced
	// by it.
	ImportanceScore float64 `json:"importance_score"`

	// Metadata holds arbitrary record metadata. The "environmental_context"
	// key, when present, maps factor names to numeric values and feeds the
	// context-dependent boost.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewMemoryRecord creates an active working-tier record with the default
// decay parameters.
func NewMemoryRecord(content string) *MemoryRecord {
	now := time.Now().UTC()
	interval := DefaultIntervalDays
	return &MemoryRecord{
		ID:                    uuid.New(),
		Content:               content,
		Tier:                  TierWorking,
		Status:                StatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
		ConsolidationStrength: DefaultConsolidationStrength,
		DecayRate:             DefaultDecayRate,
		EaseFactor:            DefaultEaseFactor,
		CurrentIntervalDays:   &interval,
		ImportanceScore:       0.5,
		Metadata:              map[string]interface{}{},
	}
}

// LastAccessOrCreation returns the reference time for decay calculations:
// the last access if the record has ever been accessed, otherwise creation.
func (r *MemoryRecord) LastAccessOrCreation() time.Time {
	if r.LastAccessedAt != nil && !r.LastAccessedAt.IsZero() {
		return *r.LastAccessedAt
	}
	return r.CreatedAt
}

// HoursSinceAccess returns the hours elapsed at now since the record was last
// accessed (or created, if never accessed). A last-access timestamp in the
// future clamps to zero.
func (r *MemoryRecord) HoursSinceAccess(now time.Time) float64 {
	hours := now.Sub(r.LastAccessOrCreation()).Hours()
	if hours < 0 {
		return 0
	}
	return hours
}

// IdleFor reports whether the record has gone at least d without an access.
func (r *MemoryRecord) IdleFor(d time.Duration, now time.Time) bool {
	return now.Sub(r.LastAccessOrCreation()) >= d
}

// EnvironmentalContext extracts the stored environmental-context map from the
// record metadata. Returns an empty map when no context was recorded.
func (r *MemoryRecord) EnvironmentalContext() map[string]float64 {
	ctx := make(map[string]float64)
	raw, ok := r.Metadata["environmental_context"]
	if !ok {
		return ctx
	}
	factors, ok := raw.(map[string]interface{})
	if !ok {
		return ctx
	}
	for name, v := range factors {
		switch val := v.(type) {
		case float64:
			ctx[name] = val
		case int:
			ctx[name] = float64(val)
		}
	}
	return ctx
}
