// Command engram-consolidate runs the consolidation engine: one-shot tier
// scans, explicit consolidation batches, or a scheduled daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/scrypster/engram/internal/config"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/storage"
	"github.com/scrypster/engram/internal/storage/postgres"
	"github.com/scrypster/engram/internal/storage/sqlite"
	"github.com/scrypster/engram/pkg/types"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config file (optional, uses env vars by default)")
	scanOnce    = flag.Bool("scan", false, "Run a single tier scan and exit")
	daemon      = flag.Bool("daemon", false, "Run scheduled tier scans until interrupted")
	consolidate = flag.String("consolidate", "", "Comma-separated record IDs to consolidate and exit")
	trace       = flag.Bool("trace", false, "Print a JSON trace report for the consolidation batch")
	stats       = flag.Bool("stats", false, "Print per-tier record counts and exit")
)

func main() {
	flag.Parse()

	// Optional .env for local development, environment wins.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env: %v", err)
	}

	cfg, err := config.LoadConfigFromFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	decay := engine.NewDecayModelWithConfig(cfg.Decay)
	policy := engine.NewTierPolicyWithConfig(decay, cfg.TierPolicy)

	switch {
	case *stats:
		runStats(ctx, store)
	case *consolidate != "":
		runConsolidate(ctx, cfg, store, decay, policy, *consolidate)
	case *scanOnce:
		runScan(ctx, cfg, store, policy)
	case *daemon:
		runDaemon(ctx, cfg, store, policy)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// engramStore is the composed storage surface both backends satisfy.
type engramStore interface {
	storage.RecordStore
	storage.SimilarityProvider
	storage.AuditReader
}

func openStore(cfg *config.Config) (engramStore, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.NewRecordStore(cfg.Storage.PostgresDSN)
	case "sqlite":
		return sqlite.NewRecordStore(cfg.Storage.DataPath)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

func runStats(ctx context.Context, store engramStore) {
	counts, err := store.CountByTier(ctx)
	if err != nil {
		log.Fatalf("Failed to count records: %v", err)
	}
	for _, tier := range types.AllTiers {
		fmt.Printf("%-8s %d\n", tier, counts[tier])
	}
}

func runConsolidate(ctx context.Context, cfg *config.Config, store engramStore, decay *engine.DecayModel, policy *engine.TierPolicy, rawIDs string) {
	ids, err := parseIDs(rawIDs)
	if err != nil {
		log.Fatalf("Invalid record IDs: %v", err)
	}

	adjuster := engine.NewCognitiveAdjusterWithConfig(decay, cfg.Cognitive)
	orchestrator, err := engine.NewConsolidationOrchestrator(store, store, adjuster, policy, cfg.Orchestrator)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	if *trace {
		batch, report, err := orchestrator.ProcessBatchTraced(ctx, ids, nil)
		if err != nil {
			log.Fatalf("Consolidation batch aborted: %v", err)
		}
		printBatchSummary(batch, len(ids))

		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode trace report: %v", err)
		}
		fmt.Println(string(encoded))
		return
	}

	batch, err := orchestrator.ProcessBatch(ctx, ids, nil)
	if err != nil {
		log.Fatalf("Consolidation batch aborted: %v", err)
	}
	printBatchSummary(batch, len(ids))
}

func printBatchSummary(batch *engine.ConsolidationBatchResult, requested int) {
	fmt.Printf("consolidated %d of %d records in %s (%d migrations)\n",
		len(batch.Results), requested, batch.TotalTime.Round(time.Millisecond), len(batch.Migrations))
	for _, failure := range batch.Failures {
		fmt.Printf("failed %s: %v\n", failure.MemoryID, failure.Err)
	}
}

func runScan(ctx context.Context, cfg *config.Config, store engramStore, policy *engine.TierPolicy) {
	scanner, err := engine.NewTierScanner(store, policy, cfg.Scanner)
	if err != nil {
		log.Fatalf("Failed to build scanner: %v", err)
	}

	report, err := scanner.ScanOnce(ctx, time.Now())
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	fmt.Printf("scanned %d records, %d candidates, %d migrated, %d failed, %d archive candidates in %s\n",
		report.RecordsScanned, report.CandidatesFound, report.MigrationsApplied,
		report.MigrationsFailed, len(report.ArchiveCandidates),
		report.Duration.Round(time.Millisecond))
}

func runDaemon(ctx context.Context, cfg *config.Config, store engramStore, policy *engine.TierPolicy) {
	scanner, err := engine.NewTierScanner(store, policy, cfg.Scanner)
	if err != nil {
		log.Fatalf("Failed to build scanner: %v", err)
	}

	if err := scanner.Start(ctx); err != nil {
		log.Fatalf("Failed to start scanner: %v", err)
	}
	log.Printf("engram-consolidate: scanning on schedule %q, ctrl-c to stop", cfg.Scanner.Schedule)

	<-ctx.Done()
	scanner.Stop()
	log.Printf("engram-consolidate: stopped")
}

func parseIDs(raw string) ([]uuid.UUID, error) {
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no record IDs given")
	}
	return ids, nil
}
