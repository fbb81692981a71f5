package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// ErrSimilarityUnavailable is returned by the neighborhood fetch when the
// circuit breaker has opened against the similarity provider.
var ErrSimilarityUnavailable = errors.New("similarity provider unavailable")

// OrchestratorConfig controls batch consolidation behavior.
type OrchestratorConfig struct {
	// NeighborhoodLimit bounds how many related records are fetched per
	// consolidation.
	NeighborhoodLimit int `yaml:"neighborhood_limit"`

	// SimilarityThreshold is the minimum similarity for a neighbor to be
	// fetched at all. The clustering threshold filters further.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// NeighborhoodCacheSize bounds the in-process neighborhood cache.
	NeighborhoodCacheSize int `yaml:"neighborhood_cache_size"`

	// BreakerMaxFailures is the number of consecutive similarity-provider
	// failures required to trip the circuit.
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures"`

	// BreakerTimeout is how long the circuit stays open before allowing
	// test requests.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// DefaultOrchestratorConfig returns the standard batch settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		NeighborhoodLimit:     10,
		SimilarityThreshold:   0.5,
		NeighborhoodCacheSize: 256,
		BreakerMaxFailures:    3,
		BreakerTimeout:        30 * time.Second,
	}
}

// Validate checks the configuration for out-of-range values.
func (c OrchestratorConfig) Validate() error {
	if c.NeighborhoodLimit < 1 {
		return &ValidationError{Parameter: "neighborhood_limit", Value: float64(c.NeighborhoodLimit), Constraint: ">= 1"}
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return &ValidationError{Parameter: "similarity_threshold", Value: c.SimilarityThreshold, Constraint: "0 <= value <= 1"}
	}
	if c.NeighborhoodCacheSize < 1 {
		return &ValidationError{Parameter: "neighborhood_cache_size", Value: float64(c.NeighborhoodCacheSize), Constraint: ">= 1"}
	}
	return nil
}

// BatchFailure records one skipped record in a consolidation batch.
type BatchFailure struct {
	MemoryID uuid.UUID
	Err      error
}

// ConsolidationBatchResult aggregates one ProcessBatch call.
type ConsolidationBatchResult struct {
	Results    []*types.CognitiveConsolidationResult
	Failures   []BatchFailure
	Migrations []types.MigrationRecord
	TotalTime  time.Duration
}

// ConsolidationOrchestrator batch-applies cognitive consolidation. For each
// record it loads the row, fetches the semantic neighborhood through a
// circuit breaker, computes the enhanced result, persists it together with
// the audit event, and evaluates the tier policy. Failures are isolated per
// record.
type ConsolidationOrchestrator struct {
	store      storage.RecordStore
	similarity storage.SimilarityProvider
	adjuster   *CognitiveAdjuster
	policy     *TierPolicy
	breaker    *gobreaker.CircuitBreaker
	cache      *lru.Cache[uuid.UUID, []*types.MemoryRecord]
	cfg        OrchestratorConfig
	now        func() time.Time
}

// NewConsolidationOrchestrator wires the orchestrator. A nil similarity
// provider is allowed and yields empty neighborhoods.
func NewConsolidationOrchestrator(
	store storage.RecordStore,
	similarity storage.SimilarityProvider,
	adjuster *CognitiveAdjuster,
	policy *TierPolicy,
	cfg OrchestratorConfig,
) (*ConsolidationOrchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("orchestrator: record store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if adjuster == nil {
		adjuster = NewCognitiveAdjuster(nil)
	}
	if policy == nil {
		policy = NewTierPolicy(nil)
	}

	cache, err := lru.New[uuid.UUID, []*types.MemoryRecord](cfg.NeighborhoodCacheSize)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: neighborhood cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "SimilarityProvider",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("orchestrator: %s circuit %s -> %s", name, from, to)
		},
	})

	return &ConsolidationOrchestrator{
		store:      store,
		similarity: similarity,
		adjuster:   adjuster,
		policy:     policy,
		breaker:    breaker,
		cache:      cache,
		cfg:        cfg,
		now:        time.Now,
	}, nil
}

// ProcessBatch consolidates the given records sequentially. A single
// record's failure is logged and recorded, never aborting the batch.
// Cancellation is honored between records.
func (o *ConsolidationOrchestrator) ProcessBatch(
	ctx context.Context,
	ids []uuid.UUID,
	retrieval *types.RetrievalContext,
) (*ConsolidationBatchResult, error) {
	start := time.Now()
	batch := &ConsolidationBatchResult{
		Results: make([]*types.CognitiveConsolidationResult, 0, len(ids)),
	}
	emitToContext(ctx, EventBatchStarted(len(ids)))

	for _, id := range ids {
		select {
		case <-ctx.Done():
			batch.TotalTime = time.Since(start)
			return batch, ctx.Err()
		default:
		}

		result, migration, err := o.processOne(ctx, id, retrieval)
		if err != nil {
			log.Printf("orchestrator: consolidation failed for %s: %v", id, err)
			batch.Failures = append(batch.Failures, BatchFailure{MemoryID: id, Err: err})
			emitToContext(ctx, EventRecordSkipped(id, err.Error()))
			continue
		}
		batch.Results = append(batch.Results, result)
		emitToContext(ctx, EventRecordConsolidated(result))
		if migration != nil {
			batch.Migrations = append(batch.Migrations, *migration)
			emitToContext(ctx, EventMigrationExecuted(*migration))
		}
	}

	batch.TotalTime = time.Since(start)
	emitToContext(ctx, EventBatchCompleted(len(batch.Results)))
	return batch, nil
}

// processOne runs the full consolidation cycle for a single record.
func (o *ConsolidationOrchestrator) processOne(
	ctx context.Context,
	id uuid.UUID,
	retrieval *types.RetrievalContext,
) (*types.CognitiveConsolidationResult, *types.MigrationRecord, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load record: %w", err)
	}

	now := o.now()

	related, err := o.neighborhood(ctx, rec)
	if err != nil {
		// Degrade to an empty neighborhood rather than skip the record.
		log.Printf("orchestrator: neighborhood fetch failed for %s: %v", id, err)
		related = nil
	}

	result, err := o.adjuster.Consolidate(rec, retrieval, related, now)
	if err != nil {
		return nil, nil, fmt.Errorf("consolidate: %w", err)
	}

	interval := now.Sub(rec.LastAccessOrCreation())
	if interval < 0 {
		interval = 0
	}

	update := storage.ConsolidationUpdate{
		NewStrength:          result.NewConsolidationStrength,
		NewRecallProbability: result.RecallProbability,
		RecallInterval:       interval,
		AccessedAt:           now,
	}
	audit := storage.AuditEvent{
		MemoryID:            id,
		EventType:           types.EventCognitiveConsolidation,
		PreviousStrength:    rec.ConsolidationStrength,
		NewStrength:         result.NewConsolidationStrength,
		PreviousProbability: rec.RecallProbability,
		NewProbability:      &result.RecallProbability,
		RecallInterval:      &interval,
		Context: map[string]interface{}{
			"spacing_effect":       result.Factors.SpacingEffect,
			"testing_effect":       result.Factors.TestingEffect,
			"clustering_bonus":     result.Factors.ClusteringBonus,
			"context_boost":        result.Factors.ContextBoost,
			"interference_penalty": result.Factors.InterferencePenalty,
			"strength_increment":   result.StrengthIncrement,
		},
		CreatedAt: now,
	}

	if err := o.store.ApplyConsolidation(ctx, id, update, audit); err != nil {
		return nil, nil, fmt.Errorf("persist consolidation: %w", err)
	}

	// The record's strength just changed, so any cached neighborhood that
	// includes it would feed a stale strength ratio into the interference
	// factor of later records.
	o.invalidateStaleNeighborhoods(id)

	migration := o.maybeMigrate(ctx, rec, result.RecallProbability, now)
	return result, migration, nil
}

// maybeMigrate evaluates the tier policy against the fresh probability and
// executes promotion or demotion. Migration failures are reported on the
// migration record, not as batch failures; the consolidation itself already
// committed.
func (o *ConsolidationOrchestrator) maybeMigrate(
	ctx context.Context,
	rec *types.MemoryRecord,
	probability float64,
	now time.Time,
) *types.MigrationRecord {
	decision := o.policy.Decide(probability, rec.Tier)
	if decision != DecisionPromote && decision != DecisionDemote {
		return nil
	}

	target, err := o.policy.targetTier(rec.Tier, decision)
	if err != nil {
		log.Printf("orchestrator: no migration target for %s from %s: %v", rec.ID, rec.Tier, err)
		return nil
	}
	if err := ValidateTransition(rec.Tier, target); err != nil {
		log.Printf("orchestrator: rejected transition for %s: %v", rec.ID, err)
		return nil
	}

	reason := fmt.Sprintf("%s after consolidation, recall probability %.3f", decision, probability)
	migStart := time.Now()
	migErr := o.store.MigrateTier(ctx, rec.ID, rec.Tier, target, reason)

	migration := &types.MigrationRecord{
		MemoryID: rec.ID,
		FromTier: rec.Tier,
		ToTier:   target,
		Reason:   reason,
		Success:  migErr == nil,
		Duration: time.Since(migStart),
	}
	if migErr != nil {
		log.Printf("orchestrator: migration failed for %s (%s -> %s): %v", rec.ID, rec.Tier, target, migErr)
		migration.ErrorMessage = migErr.Error()
	}
	return migration
}

// neighborhood returns the record's semantic neighbors, using the LRU cache
// and routing provider calls through the circuit breaker. Records without an
// embedding always get an empty neighborhood.
func (o *ConsolidationOrchestrator) neighborhood(ctx context.Context, rec *types.MemoryRecord) ([]*types.MemoryRecord, error) {
	if o.similarity == nil || len(rec.Embedding) == 0 {
		return nil, nil
	}
	if cached, ok := o.cache.Get(rec.ID); ok {
		emitToContext(ctx, EventNeighborhoodResolved(rec.ID, len(cached), true))
		return cached, nil
	}

	fetched, err := o.breaker.Execute(func() (interface{}, error) {
		return o.similarity.Nearest(ctx, rec.Embedding, o.cfg.SimilarityThreshold, o.cfg.NeighborhoodLimit)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrSimilarityUnavailable
		}
		return nil, err
	}

	related := fetched.([]*types.MemoryRecord)
	o.cache.Add(rec.ID, related)
	emitToContext(ctx, EventNeighborhoodResolved(rec.ID, len(related), false))
	return related, nil
}

// InvalidateNeighborhood drops the cached neighborhood for a record, for
// callers that know its embedding changed.
func (o *ConsolidationOrchestrator) InvalidateNeighborhood(id uuid.UUID) {
	o.cache.Remove(id)
}

// invalidateStaleNeighborhoods evicts every cached neighborhood that contains
// the given record. The cache is small and bounded, so the scan is cheap.
func (o *ConsolidationOrchestrator) invalidateStaleNeighborhoods(id uuid.UUID) {
	for _, key := range o.cache.Keys() {
		related, ok := o.cache.Peek(key)
		if !ok {
			continue
		}
		for _, rec := range related {
			if rec.ID == id {
				o.cache.Remove(key)
				break
			}
		}
	}
}
