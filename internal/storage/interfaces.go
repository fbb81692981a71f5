// Package storage provides composable storage interfaces for the engram
// consolidation engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed, so backends (Postgres
// with pgvector, embedded SQLite) stay interchangeable behind the engine.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/scrypster/engram/pkg/types"
)

// RecordStore provides lifecycle operations for memory records.
type RecordStore interface {
	// Store creates or updates a record (upsert semantics).
	Store(ctx context.Context, rec *types.MemoryRecord) error

	// Get retrieves a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	Get(ctx context.Context, id uuid.UUID) (*types.MemoryRecord, error)

	// ListByTier retrieves active records in the given tier, oldest
	// updated first, honoring the list options.
	ListByTier(ctx context.Context, tier types.Tier, opts ListOptions) ([]*types.MemoryRecord, error)

	// CountByTier returns the number of active records per tier.
	CountByTier(ctx context.Context) (map[types.Tier]int64, error)

	// ApplyConsolidation updates the record's consolidation fields and
	// appends the audit event in a single transaction, locking the row
	// for the duration of the read-modify-write cycle.
	// Returns ErrNotFound if the record doesn't exist.
	ApplyConsolidation(ctx context.Context, id uuid.UUID, update ConsolidationUpdate, audit AuditEvent) error

	// MigrateTier moves a record between tiers and records the migration
	// audit event in the same transaction. The transition must already be
	// validated by the caller; the store rejects a mismatched from-tier
	// with ErrConflict.
	MigrateTier(ctx context.Context, id uuid.UUID, from, to types.Tier, reason string) error

	// Delete removes a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// Close releases any resources held by the store.
	Close() error
}

// SimilarityProvider returns the semantic neighborhood of an embedding.
// Implementations back the clustering and interference factors.
type SimilarityProvider interface {
	// Nearest returns up to limit records whose embedding similarity to
	// the query meets the threshold, most similar first. A nil or empty
	// query yields an empty result, never an error.
	Nearest(ctx context.Context, query []float32, threshold float64, limit int) ([]*types.MemoryRecord, error)
}

// AuditReader exposes the consolidation audit trail.
type AuditReader interface {
	// ListEvents returns audit events for a record, newest first.
	ListEvents(ctx context.Context, memoryID uuid.UUID, limit int) ([]*AuditEvent, error)
}
