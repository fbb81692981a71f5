package types

import (
	"time"

	"github.com/google/uuid"
)

// RetrievalContext captures the ephemeral circumstances of a retrieval event.
// It is constructed per calculation and never persisted.
type RetrievalContext struct {
	// QueryEmbedding is the embedding of the triggering query, when one exists.
	QueryEmbedding []float32

	// EnvironmentalFactors maps named contextual factors (location, time of
	// day, session kind) to numeric values for context-dependent matching.
	EnvironmentalFactors map[string]float64

	// RetrievalLatencyMS is how long the retrieval took, in milliseconds.
	// It drives the desirable-difficulty band of the testing effect.
	RetrievalLatencyMS uint64

	// ConfidenceScore in [0,1] is the retriever's confidence in the result.
	ConfidenceScore float64

	// RelatedRecords lists the IDs of records retrieved alongside the target.
	RelatedRecords []uuid.UUID
}

// CognitiveFactors holds the five independent adjustment factors computed for
// a consolidation pass.
type CognitiveFactors struct {
	SpacingEffect       float64 `json:"spacing_effect"`
	TestingEffect       float64 `json:"testing_effect"`
	ClusteringBonus     float64 `json:"clustering_bonus"`
	ContextBoost        float64 `json:"context_boost"`
	InterferencePenalty float64 `json:"interference_penalty"`
}

// CognitiveConsolidationResult is the ephemeral product of one cognitive
// consolidation calculation.
type CognitiveConsolidationResult struct {
	RecordID                 uuid.UUID        `json:"record_id"`
	NewConsolidationStrength float64          `json:"new_consolidation_strength"`
	StrengthIncrement        float64          `json:"strength_increment"`
	RecallProbability        float64          `json:"recall_probability"`
	Factors                  CognitiveFactors `json:"cognitive_factors"`
	CalculationTime          time.Duration    `json:"calculation_time"`
}

// MigrationRecord documents one executed (or attempted) tier migration.
type MigrationRecord struct {
	MemoryID     uuid.UUID     `json:"memory_id"`
	FromTier     Tier          `json:"from_tier"`
	ToTier       Tier          `json:"to_tier"`
	Reason       string        `json:"reason"`
	Success      bool          `json:"success"`
	Duration     time.Duration `json:"duration_ms"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
