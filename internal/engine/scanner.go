package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/pkg/types"
)

// ScannerConfig controls the background tier scan.
type ScannerConfig struct {
	// Schedule is a cron expression (or @every duration) for periodic
	// scans when the scanner runs as a daemon.
	Schedule string `yaml:"schedule"`

	// BatchSize bounds how many records are examined per tier per scan.
	BatchSize int `yaml:"batch_size"`

	// MaxMigrationsPerScan caps executed migrations in one scan so a
	// backlog drains gradually.
	MaxMigrationsPerScan int `yaml:"max_migrations_per_scan"`

	// MigrationsPerSecond rate-limits migration writes against the store.
	MigrationsPerSecond float64 `yaml:"migrations_per_second"`
}

// DefaultScannerConfig returns the standard scan settings.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Schedule:             "@every 5m",
		BatchSize:            500,
		MaxMigrationsPerScan: 100,
		MigrationsPerSecond:  50,
	}
}

// Validate checks the configuration for out-of-range values.
func (c ScannerConfig) Validate() error {
	if c.BatchSize < 1 {
		return &ValidationError{Parameter: "batch_size", Value: float64(c.BatchSize), Constraint: ">= 1"}
	}
	if c.MaxMigrationsPerScan < 1 {
		return &ValidationError{Parameter: "max_migrations_per_scan", Value: float64(c.MaxMigrationsPerScan), Constraint: ">= 1"}
	}
	if c.MigrationsPerSecond <= 0 {
		return &ValidationError{Parameter: "migrations_per_second", Value: c.MigrationsPerSecond, Constraint: "> 0"}
	}
	if c.Schedule == "" {
		return &ValidationError{Parameter: "schedule", Value: 0, Constraint: "non-empty cron expression"}
	}
	return nil
}

// ScanReport summarizes one tier scan.
type ScanReport struct {
	StartedAt         time.Time
	Duration          time.Duration
	RecordsScanned    int
	CandidatesFound   int
	MigrationsApplied int
	MigrationsFailed  int
	ArchiveCandidates []uuid.UUID
	Migrations        []types.MigrationRecord
}

// TierScanner periodically sweeps the non-terminal tiers, evaluates every
// record against the tier policy, and executes the most urgent migrations
// under a rate limit.
type TierScanner struct {
	store   storage.RecordStore
	policy  *TierPolicy
	limiter *rate.Limiter
	cfg     ScannerConfig

	mu       sync.Mutex
	cron     *cron.Cron
	quit     chan struct{}
	watcher  sync.WaitGroup
	lastScan time.Time
}

// NewTierScanner wires a scanner over the store and policy.
func NewTierScanner(store storage.RecordStore, policy *TierPolicy, cfg ScannerConfig) (*TierScanner, error) {
	if store == nil {
		return nil, fmt.Errorf("scanner: record store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}
	if policy == nil {
		policy = NewTierPolicy(nil)
	}

	burst := int(cfg.MigrationsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &TierScanner{
		store:   store,
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(cfg.MigrationsPerSecond), burst),
		cfg:     cfg,
	}, nil
}

// ScanOnce sweeps Working, Warm and Cold, collects migration candidates
// sorted by priority, and executes up to the configured cap. Archive
// candidates are reported, never migrated; entry into Frozen belongs to the
// external archiver.
func (s *TierScanner) ScanOnce(ctx context.Context, now time.Time) (*ScanReport, error) {
	report := &ScanReport{StartedAt: now}
	start := time.Now()

	var candidates []*MigrationCandidate
	for _, tier := range []types.Tier{types.TierWorking, types.TierWarm, types.TierCold} {
		records, err := s.store.ListByTier(ctx, tier, storage.ListOptions{Limit: s.cfg.BatchSize})
		if err != nil {
			return report, fmt.Errorf("scanner: list tier %s: %w", tier, err)
		}
		report.RecordsScanned += len(records)

		for _, rec := range records {
			candidate, err := s.policy.Evaluate(rec, now)
			if err != nil {
				log.Printf("scanner: evaluation failed for %s: %v", rec.ID, err)
				continue
			}
			if candidate == nil {
				continue
			}
			if candidate.Decision == DecisionArchiveCandidate {
				report.ArchiveCandidates = append(report.ArchiveCandidates, candidate.MemoryID)
				continue
			}
			candidates = append(candidates, candidate)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].PriorityScore > candidates[j].PriorityScore
	})
	report.CandidatesFound = len(candidates) + len(report.ArchiveCandidates)

	for i, candidate := range candidates {
		if i >= s.cfg.MaxMigrationsPerScan {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		migration := s.execute(ctx, candidate)
		report.Migrations = append(report.Migrations, migration)
		if migration.Success {
			report.MigrationsApplied++
		} else {
			report.MigrationsFailed++
		}
	}

	report.Duration = time.Since(start)
	s.mu.Lock()
	s.lastScan = now
	s.mu.Unlock()

	log.Printf("scanner: scanned %d records, %d candidates, %d migrated, %d failed in %s",
		report.RecordsScanned, report.CandidatesFound, report.MigrationsApplied,
		report.MigrationsFailed, report.Duration)
	return report, nil
}

// execute performs a single validated tier migration.
func (s *TierScanner) execute(ctx context.Context, candidate *MigrationCandidate) types.MigrationRecord {
	migration := types.MigrationRecord{
		MemoryID: candidate.MemoryID,
		FromTier: candidate.CurrentTier,
		ToTier:   candidate.TargetTier,
		Reason:   candidate.Reason,
	}

	start := time.Now()
	err := ValidateTransition(candidate.CurrentTier, candidate.TargetTier)
	if err == nil {
		err = s.store.MigrateTier(ctx, candidate.MemoryID, candidate.CurrentTier, candidate.TargetTier, candidate.Reason)
	}
	migration.Duration = time.Since(start)

	if err != nil {
		log.Printf("scanner: migration failed for %s (%s -> %s): %v",
			candidate.MemoryID, candidate.CurrentTier, candidate.TargetTier, err)
		migration.ErrorMessage = err.Error()
		return migration
	}
	migration.Success = true
	return migration
}

// Start schedules periodic scans on the configured cron expression. It
// returns immediately; scans run on the cron goroutine until Stop or context
// cancellation.
func (s *TierScanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scanner: already started")
	}

	c := cron.New()
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.ScanOnce(ctx, time.Now()); err != nil {
			log.Printf("scanner: scheduled scan failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scanner: schedule %q: %w", s.cfg.Schedule, err)
	}

	c.Start()
	s.cron = c
	s.quit = make(chan struct{})

	// The watcher exits on either context cancellation or an explicit
	// Stop, so it never outlives the scanner. It must leave the wait
	// group before calling Stop, which waits on that group.
	s.watcher.Add(1)
	go func(quit chan struct{}) {
		select {
		case <-quit:
			s.watcher.Done()
		case <-ctx.Done():
			s.watcher.Done()
			s.Stop()
		}
	}(s.quit)
	return nil
}

// Stop halts scheduled scans, waiting for an in-flight scan to finish.
func (s *TierScanner) Stop() {
	s.mu.Lock()
	c := s.cron
	quit := s.quit
	s.cron = nil
	s.quit = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	close(quit)
	<-c.Stop().Done()
	s.watcher.Wait()
}

// LastScan returns the start time of the most recent completed scan.
func (s *TierScanner) LastScan() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScan
}
