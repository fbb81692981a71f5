package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/engram/pkg/types"
)

// contextKey is an unexported type for context keys owned by this package.
type contextKey string

const traceKey contextKey = "consolidation_trace"

// TraceCollector accumulates TraceEvents for a single consolidation batch.
type TraceCollector struct {
	events    []TraceEvent
	startedAt time.Time
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{startedAt: time.Now()}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e TraceEvent) {
	tc.events = append(tc.events, e)
}

// Events returns the collected events in emission order.
func (tc *TraceCollector) Events() []TraceEvent {
	return tc.events
}

// ElapsedMS returns the elapsed time since the collector was created, in milliseconds.
func (tc *TraceCollector) ElapsedMS() int64 {
	return time.Since(tc.startedAt).Milliseconds()
}

// WithTraceCollector stores a collector in the context. The orchestrator emits
// trace events only when a collector is present.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
// Returns (nil, false) if none is present.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext emits an event only when a collector is present in the context.
func emitToContext(ctx context.Context, e TraceEvent) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		tc.Emit(e)
	}
}

// BatchTraceReport is the structured summary built from a traced batch.
type BatchTraceReport struct {
	// Requested is the number of records the batch asked for.
	Requested int `json:"requested"`

	// Consolidated contains one entry per record that was consolidated.
	Consolidated []ConsolidatedEntry `json:"consolidated"`

	// Skipped contains every record that failed and why.
	Skipped []SkippedEntry `json:"skipped"`

	// Migrations lists every migration attempt made during the batch.
	Migrations []MigrationEntry `json:"migrations"`

	// CacheHits counts neighborhood lookups served from the cache.
	CacheHits int `json:"cache_hits"`

	// TimingMS is the total batch duration in milliseconds.
	TimingMS int64 `json:"timing_ms"`
}

// ConsolidatedEntry summarizes one consolidated record.
type ConsolidatedEntry struct {
	MemoryID          string                 `json:"memory_id"`
	Factors           types.CognitiveFactors `json:"factors"`
	RecallProbability float64                `json:"recall_probability"`
	NewStrength       float64                `json:"new_strength"`
	Neighbors         int                    `json:"neighbors"`
}

// SkippedEntry summarizes one record that failed to consolidate.
type SkippedEntry struct {
	MemoryID string `json:"memory_id"`
	Reason   string `json:"reason"`
}

// MigrationEntry summarizes one migration attempt.
type MigrationEntry struct {
	MemoryID string `json:"memory_id"`
	FromTier string `json:"from_tier"`
	ToTier   string `json:"to_tier"`
	Success  bool   `json:"success"`
}

// BuildBatchTraceReport converts collected trace events into a BatchTraceReport.
func BuildBatchTraceReport(events []TraceEvent, elapsedMS int64) *BatchTraceReport {
	report := &BatchTraceReport{TimingMS: elapsedMS}
	neighbors := map[string]int{}

	for _, e := range events {
		switch e.Kind {
		case KindBatchStarted:
			report.Requested = e.Count
		case KindNeighborhoodResolved:
			neighbors[e.MemoryID.String()] = e.Count
			if e.Cached {
				report.CacheHits++
			}
		case KindRecordConsolidated:
			entry := ConsolidatedEntry{
				MemoryID:          e.MemoryID.String(),
				RecallProbability: e.RecallProbability,
				NewStrength:       e.NewStrength,
				Neighbors:         neighbors[e.MemoryID.String()],
			}
			if e.Factors != nil {
				entry.Factors = *e.Factors
			}
			report.Consolidated = append(report.Consolidated, entry)
		case KindRecordSkipped:
			report.Skipped = append(report.Skipped, SkippedEntry{
				MemoryID: e.MemoryID.String(),
				Reason:   e.SkipReason,
			})
		case KindMigrationExecuted:
			report.Migrations = append(report.Migrations, MigrationEntry{
				MemoryID: e.MemoryID.String(),
				FromTier: e.FromTier.String(),
				ToTier:   e.ToTier.String(),
				Success:  e.Success,
			})
		}
	}

	// Guarantee non-nil slices for clean JSON output.
	if report.Consolidated == nil {
		report.Consolidated = []ConsolidatedEntry{}
	}
	if report.Skipped == nil {
		report.Skipped = []SkippedEntry{}
	}
	if report.Migrations == nil {
		report.Migrations = []MigrationEntry{}
	}

	return report
}

// ProcessBatchTraced runs ProcessBatch with a trace collector installed and
// returns both the batch result and a structured trace report.
func (o *ConsolidationOrchestrator) ProcessBatchTraced(ctx context.Context, ids []uuid.UUID, retrievalCtx *types.RetrievalContext) (*ConsolidationBatchResult, *BatchTraceReport, error) {
	tc := NewTraceCollector()
	ctx = WithTraceCollector(ctx, tc)

	result, err := o.ProcessBatch(ctx, ids, retrievalCtx)
	if err != nil {
		return nil, nil, err
	}
	return result, BuildBatchTraceReport(tc.Events(), tc.ElapsedMS()), nil
}
