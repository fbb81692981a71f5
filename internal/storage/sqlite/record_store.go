// Package sqlite provides an embedded SQLite implementation of the storage
// interfaces. Similarity search is a brute-force cosine scan, suitable for
// local single-process deployments.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    content_hash TEXT,
    tier TEXT NOT NULL DEFAULT 'working',
    status TEXT NOT NULL DEFAULT 'active',

    consolidation_strength REAL NOT NULL DEFAULT 1.0,
    decay_rate REAL NOT NULL DEFAULT 1.0,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMP,

    recall_probability REAL,
    last_recall_interval_ns INTEGER,

    successful_retrievals INTEGER NOT NULL DEFAULT 0,
    failed_retrievals INTEGER NOT NULL DEFAULT 0,
    total_retrieval_attempts INTEGER NOT NULL DEFAULT 0,
    ease_factor REAL NOT NULL DEFAULT 2.5,
    current_interval_days REAL,
    next_review_at TIMESTAMP,

    importance_score REAL NOT NULL DEFAULT 0.5,
    metadata TEXT,
    embedding BLOB,

    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_tier ON memory_records (tier, updated_at);

CREATE TABLE IF NOT EXISTS consolidation_events (
    id TEXT PRIMARY KEY,
    memory_id TEXT NOT NULL REFERENCES memory_records(id) ON DELETE CASCADE,
    event_type TEXT NOT NULL,
    previous_strength REAL NOT NULL,
    new_strength REAL NOT NULL,
    previous_probability REAL,
    new_probability REAL,
    recall_interval_ns INTEGER,
    context TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_memory ON consolidation_events (memory_id, created_at DESC);
`

// RecordStore implements the storage interfaces using SQLite.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore opens (or creates) a SQLite database at path. Use
// ":memory:" for an ephemeral store.
func NewRecordStore(path string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite supports one writer. Serializing on a single connection
	// avoids SQLITE_BUSY under concurrent consolidation passes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to apply schema: %w", err)
	}

	return &RecordStore{db: db}, nil
}

// Close releases the database handle.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

const recordColumns = `
	id, content, content_hash, tier, status,
	consolidation_strength, decay_rate, access_count, last_accessed_at,
	recall_probability, last_recall_interval_ns,
	successful_retrievals, failed_retrievals, total_retrieval_attempts,
	ease_factor, current_interval_days, next_review_at,
	importance_score, metadata, embedding, created_at, updated_at`

// Store creates or updates a record (upsert semantics).
func (s *RecordStore) Store(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil || rec.ID == uuid.Nil {
		return fmt.Errorf("%w: record with non-nil id required", storage.ErrInvalidInput)
	}
	if !rec.Tier.IsValid() {
		return fmt.Errorf("%w: unknown tier %q", storage.ErrInvalidInput, rec.Tier)
	}

	metadata, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO memory_records (
			id, content, content_hash, tier, status,
			consolidation_strength, decay_rate, access_count, last_accessed_at,
			recall_probability, last_recall_interval_ns,
			successful_retrievals, failed_retrievals, total_retrieval_attempts,
			ease_factor, current_interval_days, next_review_at,
			importance_score, metadata, embedding, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			content_hash = excluded.content_hash,
			tier = excluded.tier,
			status = excluded.status,
			consolidation_strength = excluded.consolidation_strength,
			decay_rate = excluded.decay_rate,
			access_count = excluded.access_count,
			last_accessed_at = excluded.last_accessed_at,
			recall_probability = excluded.recall_probability,
			last_recall_interval_ns = excluded.last_recall_interval_ns,
			successful_retrievals = excluded.successful_retrievals,
			failed_retrievals = excluded.failed_retrievals,
			total_retrieval_attempts = excluded.total_retrieval_attempts,
			ease_factor = excluded.ease_factor,
			current_interval_days = excluded.current_interval_days,
			next_review_at = excluded.next_review_at,
			importance_score = excluded.importance_score,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, query,
		rec.ID.String(), rec.Content, rec.ContentHash, string(rec.Tier), string(rec.Status),
		rec.ConsolidationStrength, rec.DecayRate, rec.AccessCount, rec.LastAccessedAt,
		rec.RecallProbability, durationToNanos(rec.LastRecallInterval),
		rec.SuccessfulRetrievals, rec.FailedRetrievals, rec.TotalRetrievalAttempts,
		rec.EaseFactor, rec.CurrentIntervalDays, rec.NextReviewAt,
		rec.ImportanceScore, metadata, serializeEmbedding(rec.Embedding),
		rec.CreatedAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: store record: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *RecordStore) Get(ctx context.Context, id uuid.UUID) (*types.MemoryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM memory_records WHERE id = ?`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get record: %w", err)
	}
	return rec, nil
}

// ListByTier retrieves active records in the given tier, oldest updated
// first.
func (s *RecordStore) ListByTier(ctx context.Context, tier types.Tier, opts storage.ListOptions) ([]*types.MemoryRecord, error) {
	if !tier.IsValid() {
		return nil, fmt.Errorf("%w: unknown tier %q", storage.ErrInvalidInput, tier)
	}
	opts.Normalize()

	query := `SELECT ` + recordColumns + `
		FROM memory_records
		WHERE tier = ? AND status = ?`
	args := []interface{}{string(tier), string(types.StatusActive)}

	if !opts.UpdatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, opts.UpdatedBefore)
	}
	query += ` ORDER BY updated_at ASC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tier %s: %w", tier, err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

// CountByTier returns the number of active records per tier.
func (s *RecordStore) CountByTier(ctx context.Context) (map[types.Tier]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM memory_records WHERE status = ? GROUP BY tier`,
		string(types.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("sqlite: count by tier: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[types.Tier]int64, len(types.AllTiers))
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("sqlite: count by tier scan: %w", err)
		}
		counts[types.Tier(tier)] = n
	}
	return counts, rows.Err()
}

// ApplyConsolidation updates the consolidation fields and appends the audit
// event in one transaction. SQLite's transaction itself serializes writers.
// The strength read inside the transaction must still match the strength the
// caller's computation started from (audit.PreviousStrength); a mismatch
// means a concurrent consolidation already committed and returns ErrConflict
// so the caller can reload and retry.
func (s *RecordStore) ApplyConsolidation(ctx context.Context, id uuid.UUID, update storage.ConsolidationUpdate, audit storage.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin consolidation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current float64
	err = tx.QueryRowContext(ctx,
		`SELECT consolidation_strength FROM memory_records WHERE id = ?`, id.String()).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("sqlite: read record: %w", err)
	}
	if current != audit.PreviousStrength {
		return fmt.Errorf("%w: strength changed from %g to %g since read", storage.ErrConflict, audit.PreviousStrength, current)
	}

	query := `
		UPDATE memory_records SET
			consolidation_strength = ?,
			recall_probability = ?,
			last_recall_interval_ns = ?,
			access_count = access_count + 1,
			last_accessed_at = ?,
			next_review_at = COALESCE(?, next_review_at),
			decay_rate = COALESCE(?, decay_rate),
			updated_at = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, query,
		update.NewStrength, update.NewRecallProbability,
		update.RecallInterval.Nanoseconds(), update.AccessedAt,
		update.NextReviewAt, update.NewDecayRate,
		time.Now(), id.String(),
	); err != nil {
		return fmt.Errorf("sqlite: apply consolidation: %w", err)
	}

	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit consolidation: %w", err)
	}
	return nil
}

// MigrateTier moves a record between tiers, recording the migration event in
// the same transaction. A from-tier mismatch returns ErrConflict.
func (s *RecordStore) MigrateTier(ctx context.Context, id uuid.UUID, from, to types.Tier, reason string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: transition %s -> %s", storage.ErrInvalidInput, from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentTier string
	var strength float64
	var probability sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT tier, consolidation_strength, recall_probability
		 FROM memory_records WHERE id = ?`, id.String()).
		Scan(&currentTier, &strength, &probability)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("sqlite: read record: %w", err)
	}
	if types.Tier(currentTier) != from {
		return fmt.Errorf("%w: record is in tier %s, not %s", storage.ErrConflict, currentTier, from)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_records SET tier = ?, updated_at = ? WHERE id = ?`,
		string(to), time.Now(), id.String()); err != nil {
		return fmt.Errorf("sqlite: migrate tier: %w", err)
	}

	var prob *float64
	if probability.Valid {
		prob = &probability.Float64
	}
	audit := storage.AuditEvent{
		MemoryID:            id,
		EventType:           types.EventTierMigration,
		PreviousStrength:    strength,
		NewStrength:         strength,
		PreviousProbability: prob,
		NewProbability:      prob,
		Context: map[string]interface{}{
			"from_tier": string(from),
			"to_tier":   string(to),
			"reason":    reason,
		},
		CreatedAt: time.Now(),
	}
	if err := insertAuditEvent(ctx, tx, audit); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit migration: %w", err)
	}
	return nil
}

// Delete removes a record permanently.
func (s *RecordStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlite: delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: delete record: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Nearest performs a brute-force cosine scan over active records with
// embeddings. Fine for the record counts an embedded deployment holds.
func (s *RecordStore) Nearest(ctx context.Context, query []float32, threshold float64, limit int) ([]*types.MemoryRecord, error) {
	if len(query) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM memory_records WHERE embedding IS NOT NULL AND status = ?`,
		string(types.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("sqlite: similarity scan: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec        *types.MemoryRecord
		similarity float64
	}
	var matches []scored
	for _, rec := range candidates {
		if len(rec.Embedding) != len(query) {
			continue
		}
		similarity := cosineSimilarity(query, rec.Embedding)
		if similarity >= threshold {
			matches = append(matches, scored{rec: rec, similarity: similarity})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].similarity > matches[j].similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	records := make([]*types.MemoryRecord, len(matches))
	for i, m := range matches {
		records[i] = m.rec
	}
	return records, nil
}

// ListEvents returns audit events for a record, newest first.
func (s *RecordStore) ListEvents(ctx context.Context, memoryID uuid.UUID, limit int) ([]*storage.AuditEvent, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, event_type, previous_strength, new_strength,
			previous_probability, new_probability, recall_interval_ns, context, created_at
		FROM consolidation_events
		WHERE memory_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, memoryID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*storage.AuditEvent
	for rows.Next() {
		var ev storage.AuditEvent
		var id, memID string
		var intervalNanos sql.NullInt64
		var contextJSON sql.NullString
		if err := rows.Scan(&id, &memID, &ev.EventType,
			&ev.PreviousStrength, &ev.NewStrength,
			&ev.PreviousProbability, &ev.NewProbability,
			&intervalNanos, &contextJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: list events scan: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite: list events id: %w", err)
		}
		if ev.MemoryID, err = uuid.Parse(memID); err != nil {
			return nil, fmt.Errorf("sqlite: list events memory id: %w", err)
		}
		if intervalNanos.Valid {
			d := time.Duration(intervalNanos.Int64)
			ev.RecallInterval = &d
		}
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &ev.Context); err != nil {
				return nil, fmt.Errorf("sqlite: list events context: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func insertAuditEvent(ctx context.Context, tx *sql.Tx, audit storage.AuditEvent) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	contextJSON, err := marshalMetadata(audit.Context)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit context: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consolidation_events (
			id, memory_id, event_type, previous_strength, new_strength,
			previous_probability, new_probability, recall_interval_ns, context, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		audit.ID.String(), audit.MemoryID.String(), audit.EventType,
		audit.PreviousStrength, audit.NewStrength,
		audit.PreviousProbability, audit.NewProbability,
		durationToNanos(audit.RecallInterval), contextJSON, audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert audit event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.MemoryRecord, error) {
	var rec types.MemoryRecord
	var id, tier, status string
	var intervalNanos sql.NullInt64
	var metadataJSON sql.NullString
	var embedding []byte

	err := row.Scan(
		&id, &rec.Content, &rec.ContentHash, &tier, &status,
		&rec.ConsolidationStrength, &rec.DecayRate, &rec.AccessCount, &rec.LastAccessedAt,
		&rec.RecallProbability, &intervalNanos,
		&rec.SuccessfulRetrievals, &rec.FailedRetrievals, &rec.TotalRetrievalAttempts,
		&rec.EaseFactor, &rec.CurrentIntervalDays, &rec.NextReviewAt,
		&rec.ImportanceScore, &metadataJSON, &embedding, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse record id: %w", err)
	}
	rec.Tier = types.Tier(tier)
	rec.Status = types.RecordStatus(status)
	if intervalNanos.Valid {
		d := time.Duration(intervalNanos.Int64)
		rec.LastRecallInterval = &d
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	rec.Embedding = deserializeEmbedding(embedding)
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*types.MemoryRecord, error) {
	var records []*types.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func marshalMetadata(m map[string]interface{}) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func durationToNanos(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	n := d.Nanoseconds()
	return &n
}

// serializeEmbedding encodes a vector as little-endian float32.
func serializeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, embedding)
	return buf.Bytes()
}

// deserializeEmbedding decodes a little-endian float32 vector.
func deserializeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
