package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/engram/pkg/types"
)

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindBatchStarted is emitted at the beginning of a consolidation batch.
	KindBatchStarted TraceEventKind = "batch_started"

	// KindNeighborhoodResolved is emitted once the semantic neighborhood for a
	// record has been fetched (or skipped).
	KindNeighborhoodResolved TraceEventKind = "neighborhood_resolved"

	// KindRecordConsolidated is emitted once per successfully consolidated
	// record, carrying the computed cognitive factors.
	KindRecordConsolidated TraceEventKind = "record_consolidated"

	// KindRecordSkipped is emitted for every record that failed to consolidate.
	KindRecordSkipped TraceEventKind = "record_skipped"

	// KindMigrationExecuted is emitted for each tier migration attempted after
	// consolidation, successful or not.
	KindMigrationExecuted TraceEventKind = "migration_executed"

	// KindBatchCompleted is emitted after the batch finishes.
	KindBatchCompleted TraceEventKind = "batch_completed"
)

// TraceEvent is a single structured event emitted during a consolidation batch.
type TraceEvent struct {
	// Kind identifies the event type.
	Kind TraceEventKind `json:"kind"`

	// At is the wall-clock time the event was recorded.
	At time.Time `json:"at"`

	// MemoryID is populated for per-record events.
	MemoryID uuid.UUID `json:"memory_id,omitempty"`

	// Count is used by batch_started (records requested),
	// neighborhood_resolved (neighbors found), and batch_completed
	// (records consolidated).
	Count int `json:"count,omitempty"`

	// Cached marks a neighborhood_resolved event served from the cache.
	Cached bool `json:"cached,omitempty"`

	// Factors holds the five cognitive factors for record_consolidated events.
	Factors *types.CognitiveFactors `json:"factors,omitempty"`

	// RecallProbability is the enhanced recall probability for
	// record_consolidated events.
	RecallProbability float64 `json:"recall_probability,omitempty"`

	// NewStrength is the post-consolidation strength for record_consolidated
	// events.
	NewStrength float64 `json:"new_strength,omitempty"`

	// SkipReason is a human-readable explanation for record_skipped events.
	SkipReason string `json:"skip_reason,omitempty"`

	// FromTier and ToTier describe the attempted transition for
	// migration_executed events.
	FromTier types.Tier `json:"from_tier,omitempty"`
	ToTier   types.Tier `json:"to_tier,omitempty"`

	// Success reports whether a migration_executed event committed.
	Success bool `json:"success,omitempty"`
}

// newTraceEvent is a convenience constructor that timestamps the event.
func newTraceEvent(kind TraceEventKind) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now()}
}

// EventBatchStarted creates a batch_started trace event.
func EventBatchStarted(requested int) TraceEvent {
	e := newTraceEvent(KindBatchStarted)
	e.Count = requested
	return e
}

// EventNeighborhoodResolved creates a neighborhood_resolved trace event.
func EventNeighborhoodResolved(memoryID uuid.UUID, neighbors int, cached bool) TraceEvent {
	e := newTraceEvent(KindNeighborhoodResolved)
	e.MemoryID = memoryID
	e.Count = neighbors
	e.Cached = cached
	return e
}

// EventRecordConsolidated creates a record_consolidated trace event.
func EventRecordConsolidated(result *types.CognitiveConsolidationResult) TraceEvent {
	e := newTraceEvent(KindRecordConsolidated)
	e.MemoryID = result.RecordID
	factors := result.Factors
	e.Factors = &factors
	e.RecallProbability = result.RecallProbability
	e.NewStrength = result.NewConsolidationStrength
	return e
}

// EventRecordSkipped creates a record_skipped trace event.
func EventRecordSkipped(memoryID uuid.UUID, reason string) TraceEvent {
	e := newTraceEvent(KindRecordSkipped)
	e.MemoryID = memoryID
	e.SkipReason = reason
	return e
}

// EventMigrationExecuted creates a migration_executed trace event.
func EventMigrationExecuted(m types.MigrationRecord) TraceEvent {
	e := newTraceEvent(KindMigrationExecuted)
	e.MemoryID = m.MemoryID
	e.FromTier = m.FromTier
	e.ToTier = m.ToTier
	e.Success = m.Success
	return e
}

// EventBatchCompleted creates a batch_completed trace event.
func EventBatchCompleted(consolidated int) TraceEvent {
	e := newTraceEvent(KindBatchCompleted)
	e.Count = consolidated
	return e
}
