// Package types defines the core data structures for the Engram memory engine:
// records, residency tiers, retrieval contexts, and consolidation results.
package types

// RecordStatus represents the lifecycle status of a memory record.
type RecordStatus string

// Record status constants
const (
	// StatusActive indicates the record participates in decay and consolidation.
	StatusActive RecordStatus = "active"

	// StatusMigrating indicates a tier migration is in flight for the record.
	StatusMigrating RecordStatus = "migrating"

	// StatusArchived indicates the record was archived to the frozen tier and
	// is no longer mutated by the consolidation engine.
	StatusArchived RecordStatus = "archived"

	// StatusDeleted indicates the record was soft-deleted.
	StatusDeleted RecordStatus = "deleted"
)

// ValidRecordStatuses contains all valid record status values.
var ValidRecordStatuses = []RecordStatus{
	StatusActive,
	StatusMigrating,
	StatusArchived,
	StatusDeleted,
}

// IsValidRecordStatus checks if the given status is a known record status.
func IsValidRecordStatus(status RecordStatus) bool {
	for _, s := range ValidRecordStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// Consolidation event type constants used in the audit log.
const (
	// EventCognitiveConsolidation is logged when the full five-factor
	// cognitive consolidation updates a record.
	EventCognitiveConsolidation = "cognitive_consolidation"

	// EventStrengthUpdate is logged for a plain strength update outside the
	// cognitive pipeline (e.g. a direct access event).
	EventStrengthUpdate = "strength_update"

	// EventTierMigration is logged when a record moves between tiers. The
	// event carries the source and destination tier in its context payload.
	EventTierMigration = "tier_migration"
)
