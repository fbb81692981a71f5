package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates a concurrent modification or tier mismatch.
	ErrConflict = errors.New("conflicting update")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// ConsolidationUpdate carries the field values written back to a record
// after a consolidation pass. All writes happen inside one transaction
// together with the matching audit event.
type ConsolidationUpdate struct {
	// NewStrength is the post-consolidation strength.
	NewStrength float64

	// NewRecallProbability is the enhanced recall probability.
	NewRecallProbability float64

	// NewDecayRate, when non-nil, replaces the record's decay rate.
	NewDecayRate *float64

	// RecallInterval is the time since the previous access.
	RecallInterval time.Duration

	// AccessedAt becomes the record's last access timestamp and bumps
	// the access count.
	AccessedAt time.Time

	// NextReviewAt, when non-nil, schedules the next spaced review.
	NextReviewAt *time.Time
}

// AuditEvent is one entry in the consolidation audit trail.
type AuditEvent struct {
	ID                  uuid.UUID              `json:"id"`
	MemoryID            uuid.UUID              `json:"memory_id"`
	EventType           string                 `json:"event_type"`
	PreviousStrength    float64                `json:"previous_strength"`
	NewStrength         float64                `json:"new_strength"`
	PreviousProbability *float64               `json:"previous_probability,omitempty"`
	NewProbability      *float64               `json:"new_probability,omitempty"`
	RecallInterval      *time.Duration         `json:"recall_interval,omitempty"`
	Context             map[string]interface{} `json:"context,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
}

// ListOptions bounds tier listing queries.
type ListOptions struct {
	// Limit is the maximum number of records to return (default 100,
	// max 1000).
	Limit int

	// Offset skips the first N records.
	Offset int

	// UpdatedBefore restricts results to records last updated strictly
	// before this time. Zero value means no cutoff.
	UpdatedBefore time.Time
}

// Normalize applies defaults and bounds to the options.
func (o *ListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
