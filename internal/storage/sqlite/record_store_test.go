package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	store, err := NewRecordStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newStoredRecord(t *testing.T, store *RecordStore, tier types.Tier) *types.MemoryRecord {
	t.Helper()
	rec := types.NewMemoryRecord("sqlite test record")
	rec.Tier = tier
	require.NoError(t, store.Store(context.Background(), rec))
	return rec
}

func TestStoreAndGet_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := types.NewMemoryRecord("round trip content")
	rec.Tier = types.TierWarm
	rec.ConsolidationStrength = 2.5
	rec.DecayRate = 0.8
	rec.ImportanceScore = 0.7
	rec.Embedding = []float32{0.1, 0.2, 0.3}
	rec.Metadata["environmental_context"] = map[string]interface{}{"location": 0.4}
	accessed := time.Now().Add(-3 * time.Hour).Round(time.Second)
	rec.LastAccessedAt = &accessed

	require.NoError(t, store.Store(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "round trip content", got.Content)
	assert.Equal(t, types.TierWarm, got.Tier)
	assert.Equal(t, types.StatusActive, got.Status)
	assert.Equal(t, 2.5, got.ConsolidationStrength)
	assert.Equal(t, 0.8, got.DecayRate)
	assert.Equal(t, 0.7, got.ImportanceScore)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	require.NotNil(t, got.LastAccessedAt)
	assert.WithinDuration(t, accessed, *got.LastAccessedAt, time.Second)
	assert.Contains(t, got.Metadata, "environmental_context")
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_UpsertUpdatesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := newStoredRecord(t, store, types.TierWorking)
	rec.Content = "updated content"
	rec.ConsolidationStrength = 4.0
	require.NoError(t, store.Store(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated content", got.Content)
	assert.Equal(t, 4.0, got.ConsolidationStrength)
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Store(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	rec := types.NewMemoryRecord("bad tier")
	rec.Tier = types.Tier("lukewarm")
	assert.ErrorIs(t, store.Store(ctx, rec), storage.ErrInvalidInput)
}

func TestListByTier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		newStoredRecord(t, store, types.TierWorking)
	}
	newStoredRecord(t, store, types.TierCold)

	working, err := store.ListByTier(ctx, types.TierWorking, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, working, 3)

	cold, err := store.ListByTier(ctx, types.TierCold, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, cold, 1)

	limited, err := store.ListByTier(ctx, types.TierWorking, storage.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = store.ListByTier(ctx, types.Tier("nope"), storage.ListOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCountByTier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	newStoredRecord(t, store, types.TierWorking)
	newStoredRecord(t, store, types.TierWorking)
	newStoredRecord(t, store, types.TierFrozen)

	counts, err := store.CountByTier(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[types.TierWorking])
	assert.Equal(t, int64(1), counts[types.TierFrozen])
	assert.Zero(t, counts[types.TierCold])
}

func TestApplyConsolidation_UpdatesFieldsAndAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := newStoredRecord(t, store, types.TierWorking)
	now := time.Now().Round(time.Second)
	interval := 4 * time.Hour
	probability := 0.82

	update := storage.ConsolidationUpdate{
		NewStrength:          1.8,
		NewRecallProbability: probability,
		RecallInterval:       interval,
		AccessedAt:           now,
	}
	audit := storage.AuditEvent{
		MemoryID:         rec.ID,
		EventType:        types.EventCognitiveConsolidation,
		PreviousStrength: 1.0,
		NewStrength:      1.8,
		NewProbability:   &probability,
		RecallInterval:   &interval,
		Context:          map[string]interface{}{"spacing_effect": 1.1},
	}

	require.NoError(t, store.ApplyConsolidation(ctx, rec.ID, update, audit))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.8, got.ConsolidationStrength)
	require.NotNil(t, got.RecallProbability)
	assert.Equal(t, probability, *got.RecallProbability)
	assert.Equal(t, 1, got.AccessCount)
	require.NotNil(t, got.LastRecallInterval)
	assert.Equal(t, interval, *got.LastRecallInterval)
	require.NotNil(t, got.LastAccessedAt)
	assert.WithinDuration(t, now, *got.LastAccessedAt, time.Second)

	events, err := store.ListEvents(ctx, rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventCognitiveConsolidation, events[0].EventType)
	assert.Equal(t, 1.8, events[0].NewStrength)
	require.NotNil(t, events[0].RecallInterval)
	assert.Equal(t, interval, *events[0].RecallInterval)
	assert.Equal(t, 1.1, events[0].Context["spacing_effect"])
}

func TestApplyConsolidation_StaleStrengthConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := newStoredRecord(t, store, types.TierWorking)

	// Two writers read the record at strength 1.0 and each compute +0.3.
	readA, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	readB, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)

	apply := func(based *types.MemoryRecord) error {
		return store.ApplyConsolidation(ctx, rec.ID,
			storage.ConsolidationUpdate{
				NewStrength:          based.ConsolidationStrength + 0.3,
				NewRecallProbability: 0.9,
				AccessedAt:           time.Now(),
			},
			storage.AuditEvent{
				MemoryID:         rec.ID,
				EventType:        types.EventCognitiveConsolidation,
				PreviousStrength: based.ConsolidationStrength,
				NewStrength:      based.ConsolidationStrength + 0.3,
			})
	}

	require.NoError(t, apply(readA))

	// The second write was computed from a strength that no longer holds.
	err = apply(readB)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.3, got.ConsolidationStrength, "first increment must not be overwritten")

	events, err := store.ListEvents(ctx, rec.ID, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "the rejected write must not leave an audit row")

	// Reload-and-retry from the fresh strength succeeds.
	fresh, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NoError(t, apply(fresh))
	got, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.6, got.ConsolidationStrength, 1e-9)
}

func TestApplyConsolidation_NotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.ApplyConsolidation(context.Background(), uuid.New(),
		storage.ConsolidationUpdate{AccessedAt: time.Now()}, storage.AuditEvent{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMigrateTier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := newStoredRecord(t, store, types.TierWorking)
	require.NoError(t, store.MigrateTier(ctx, rec.ID, types.TierWorking, types.TierWarm, "probability below threshold"))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TierWarm, got.Tier)

	events, err := store.ListEvents(ctx, rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventTierMigration, events[0].EventType)
	assert.Equal(t, "working", events[0].Context["from_tier"])
	assert.Equal(t, "warm", events[0].Context["to_tier"])
}

func TestMigrateTier_RejectsIllegalAndStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := newStoredRecord(t, store, types.TierWorking)

	// Transition outside the legal graph.
	err := store.MigrateTier(ctx, rec.ID, types.TierWorking, types.TierFrozen, "no")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	// From-tier no longer matches.
	err = store.MigrateTier(ctx, rec.ID, types.TierWarm, types.TierCold, "stale view")
	assert.ErrorIs(t, err, storage.ErrConflict)

	// Record untouched by the failed attempts.
	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TierWorking, got.Tier)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := newStoredRecord(t, store, types.TierWorking)
	require.NoError(t, store.Delete(ctx, rec.ID))

	_, err := store.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, rec.ID), storage.ErrNotFound)
}

func TestNearest_BruteForceSimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	embed := func(v []float32) *types.MemoryRecord {
		rec := types.NewMemoryRecord("embedded")
		rec.Embedding = v
		require.NoError(t, store.Store(ctx, rec))
		return rec
	}

	exact := embed([]float32{1, 0, 0})
	nearby := embed([]float32{0.9, 0.1, 0})
	far := embed([]float32{0, 1, 0})
	embed([]float32{1, 0})                       // dimension mismatch, skipped
	newStoredRecord(t, store, types.TierWorking) // no embedding

	got, err := store.Nearest(ctx, []float32{1, 0, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, exact.ID, got[0].ID, "most similar first")
	assert.Equal(t, nearby.ID, got[1].ID)
	for _, rec := range got {
		assert.NotEqual(t, far.ID, rec.ID)
	}

	// Empty query never errors.
	got, err = store.Nearest(ctx, nil, 0.5, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Limit applies after threshold filtering.
	got, err = store.Nearest(ctx, []float32{1, 0, 0}, 0.5, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, exact.ID, got[0].ID)
}

func TestEmbeddingSerialization(t *testing.T) {
	original := []float32{0.25, -1.5, 3.75, 0}
	assert.Equal(t, original, deserializeEmbedding(serializeEmbedding(original)))

	assert.Nil(t, serializeEmbedding(nil))
	assert.Nil(t, deserializeEmbedding(nil))
	assert.Nil(t, deserializeEmbedding([]byte{1, 2, 3}), "truncated payload yields nil")
}
