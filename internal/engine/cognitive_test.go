package engine

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/engram/pkg/types"
)

func testRecord(strength float64, lastAccess *time.Time, createdAt time.Time) *types.MemoryRecord {
	rec := types.NewMemoryRecord("cognitive test record")
	rec.ConsolidationStrength = strength
	rec.LastAccessedAt = lastAccess
	rec.CreatedAt = createdAt
	return rec
}

func embeddedRecord(strength float64, embedding []float32, lastAccess *time.Time, createdAt time.Time) *types.MemoryRecord {
	rec := testRecord(strength, lastAccess, createdAt)
	rec.Embedding = embedding
	return rec
}

func TestSpacingEffect_InvertedU(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	created := now.Add(-200 * time.Hour)

	// Strength 1.0 puts the optimal interval at 24h.
	cases := []struct {
		hours float64
		want  float64
	}{
		{0.2, 0.1},  // below minimum spacing
		{6, 0.5},    // ratio 0.25, rising limb
		{24, 1.0},   // at the optimum
		{36, 1.25},  // ratio 1.5, peak plateau
		{96, 0.75},  // ratio 4.0, falling limb
		{480, 0.15}, // ratio 20, deep in the tail
	}
	for _, tc := range cases {
		rec := testRecord(1.0, hoursAgo(now, tc.hours), created)
		got := adjuster.SpacingEffect(rec, now)
		if math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("spacing at %vh: expected %f, got %f", tc.hours, tc.want, got)
		}
	}
}

func TestSpacingEffect_Bounds(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	created := now.Add(-24 * 400 * time.Hour)

	for _, hours := range []float64{0, 0.5, 1, 12, 24, 100, 24 * 365} {
		for _, strength := range []float64{0.1, 1.0, 5.0, 15.0} {
			rec := testRecord(strength, hoursAgo(now, hours), created)
			got := adjuster.SpacingEffect(rec, now)
			if got < 0.1 || got > 2.0 {
				t.Errorf("spacing out of [0.1, 2.0] at %vh strength %v: %f", hours, strength, got)
			}
		}
	}
}

func TestTestingEffect_DesirableDifficulty(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)

	instant := adjuster.TestingEffect(&types.RetrievalContext{RetrievalLatencyMS: 100, ConfidenceScore: 0.9})
	effortful := adjuster.TestingEffect(&types.RetrievalContext{RetrievalLatencyMS: 2000, ConfidenceScore: 0.9})
	glacial := adjuster.TestingEffect(&types.RetrievalContext{RetrievalLatencyMS: 20000, ConfidenceScore: 0.9})

	if effortful <= instant {
		t.Errorf("effortful retrieval should beat instant: %f <= %f", effortful, instant)
	}
	if effortful <= glacial {
		t.Errorf("effortful retrieval should beat glacial: %f <= %f", effortful, glacial)
	}
}

func TestTestingEffect_Bounds(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)

	latencies := []uint64{0, 400, 1000, 2000, 4000, 8000, 60000}
	confidences := []float64{0, 0.3, 0.7, 0.71, 1.0}
	for _, latency := range latencies {
		for _, confidence := range confidences {
			got := adjuster.TestingEffect(&types.RetrievalContext{RetrievalLatencyMS: latency, ConfidenceScore: confidence})
			if got < 0.2 || got > 2.5 {
				t.Errorf("testing effect out of [0.2, 2.5] for latency %d confidence %v: %f", latency, confidence, got)
			}
		}
	}

	if got := adjuster.TestingEffect(nil); got != 0.2 {
		t.Errorf("nil context should score the floor, got %f", got)
	}
}

func TestClusteringBonus(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	created := now.Add(-10 * time.Hour)
	vec := []float32{1, 0, 0}

	rec := embeddedRecord(1.0, vec, nil, created)

	// Three identical neighbors: avg similarity 1.0, density ln(3)/10.
	related := []*types.MemoryRecord{
		embeddedRecord(1.0, vec, nil, created),
		embeddedRecord(1.0, vec, nil, created),
		embeddedRecord(1.0, vec, nil, created),
	}
	got, err := adjuster.ClusteringBonus(rec, related)
	if err != nil {
		t.Fatalf("clustering failed: %v", err)
	}
	want := math.Log(3) / 10
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("expected %f, got %f", want, got)
	}

	// Orthogonal neighbors fall below the threshold.
	orthogonal := []*types.MemoryRecord{embeddedRecord(1.0, []float32{0, 1, 0}, nil, created)}
	got, err = adjuster.ClusteringBonus(rec, orthogonal)
	if err != nil {
		t.Fatalf("clustering failed: %v", err)
	}
	if got != 0 {
		t.Errorf("orthogonal neighbors should contribute nothing, got %f", got)
	}
}

func TestClusteringBonus_NoEmbedding(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	rec := testRecord(1.0, nil, now.Add(-time.Hour))

	got, err := adjuster.ClusteringBonus(rec, []*types.MemoryRecord{embeddedRecord(1.0, []float32{1}, nil, now)})
	if err != nil {
		t.Fatalf("clustering failed: %v", err)
	}
	if got != 0 {
		t.Errorf("record without embedding must score zero, got %f", got)
	}
}

func TestClusteringBonus_DimensionMismatch(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	rec := embeddedRecord(1.0, []float32{1, 0}, nil, now.Add(-time.Hour))
	related := []*types.MemoryRecord{embeddedRecord(1.0, []float32{1, 0, 0}, nil, now)}

	if _, err := adjuster.ClusteringBonus(rec, related); err == nil {
		t.Error("expected dimension error")
	}
}

func TestContextBoost(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	rec := testRecord(1.0, nil, now.Add(-time.Hour))
	rec.Metadata["environmental_context"] = map[string]interface{}{
		"location": 0.8,
		"time":     0.4,
	}

	ctx := &types.RetrievalContext{
		EnvironmentalFactors: map[string]float64{
			"location": 0.8, // exact match: similarity 1.0
			"time":     0.9, // similarity 0.5
			"device":   0.2, // not stored, ignored
		},
	}

	got := adjuster.ContextBoost(rec, ctx)
	want := (1.0 + 0.5) / 2 * 0.2
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("expected %f, got %f", want, got)
	}

	if got := adjuster.ContextBoost(rec, nil); got != 0 {
		t.Errorf("nil context should score zero, got %f", got)
	}
	empty := testRecord(1.0, nil, now)
	if got := adjuster.ContextBoost(empty, ctx); got != 0 {
		t.Errorf("record without stored context should score zero, got %f", got)
	}
}

func TestInterferencePenalty(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	created := now.Add(-time.Hour)
	vec := []float32{1, 0}

	rec := embeddedRecord(1.0, vec, nil, created)
	strong := embeddedRecord(5.0, vec, nil, created)

	got, err := adjuster.InterferencePenalty(rec, []*types.MemoryRecord{strong})
	if err != nil {
		t.Fatalf("interference failed: %v", err)
	}
	// Similarity 1.0 times strength ratio capped at 2.0, log scaled.
	want := math.Log(1+2.0) / 10
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("expected %f, got %f", want, got)
	}
}

func TestInterferencePenalty_ExcludesSelfAndBounds(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	created := now.Add(-time.Hour)
	vec := []float32{1, 0}

	rec := embeddedRecord(1.0, vec, nil, created)
	self := *rec

	got, err := adjuster.InterferencePenalty(rec, []*types.MemoryRecord{&self})
	if err != nil {
		t.Fatalf("interference failed: %v", err)
	}
	if got != 0 {
		t.Errorf("self must not interfere, got %f", got)
	}

	// Many strong neighbors still clamp at 0.3.
	var crowd []*types.MemoryRecord
	for i := 0; i < 50; i++ {
		neighbor := embeddedRecord(15.0, vec, nil, created)
		neighbor.ID = uuid.New()
		crowd = append(crowd, neighbor)
	}
	got, err = adjuster.InterferencePenalty(rec, crowd)
	if err != nil {
		t.Fatalf("interference failed: %v", err)
	}
	if got > 0.3 {
		t.Errorf("interference exceeded cap: %f", got)
	}
}

func TestConsolidate_EnhancedResultBounds(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	created := now.Add(-48 * time.Hour)
	vec := []float32{0.5, 0.5, 0.1}

	rec := embeddedRecord(2.0, vec, hoursAgo(now, 12), created)
	ctx := &types.RetrievalContext{RetrievalLatencyMS: 2000, ConfidenceScore: 0.8}
	related := []*types.MemoryRecord{
		embeddedRecord(3.0, vec, hoursAgo(now, 6), created),
		embeddedRecord(1.0, []float32{0.5, 0.48, 0.1}, hoursAgo(now, 3), created),
	}
	for _, r := range related {
		r.ID = uuid.New()
	}

	result, err := adjuster.Consolidate(rec, ctx, related, now)
	if err != nil {
		t.Fatalf("consolidate failed: %v", err)
	}

	if result.RecallProbability < 0 || result.RecallProbability > 1 {
		t.Errorf("enhanced probability out of [0,1]: %f", result.RecallProbability)
	}
	if result.StrengthIncrement < 0.01 || result.StrengthIncrement > 2.0 {
		t.Errorf("increment out of [0.01, 2.0]: %f", result.StrengthIncrement)
	}
	if result.NewConsolidationStrength < types.MinConsolidationStrength ||
		result.NewConsolidationStrength > adjuster.Config().MaxStrength {
		t.Errorf("new strength out of bounds: %f", result.NewConsolidationStrength)
	}
	if result.NewConsolidationStrength <= rec.ConsolidationStrength {
		t.Errorf("successful recall should strengthen the record: %f <= %f",
			result.NewConsolidationStrength, rec.ConsolidationStrength)
	}

	f := result.Factors
	if f.SpacingEffect < 0.1 || f.SpacingEffect > 2.0 {
		t.Errorf("spacing out of bounds: %f", f.SpacingEffect)
	}
	if f.TestingEffect < 0.2 || f.TestingEffect > 2.5 {
		t.Errorf("testing out of bounds: %f", f.TestingEffect)
	}
	if f.ClusteringBonus < 0 || f.ClusteringBonus > 1 {
		t.Errorf("clustering out of bounds: %f", f.ClusteringBonus)
	}
	if f.ContextBoost < 0 || f.ContextBoost > 0.5 {
		t.Errorf("context boost out of bounds: %f", f.ContextBoost)
	}
	if f.InterferencePenalty < 0 || f.InterferencePenalty > 0.3 {
		t.Errorf("interference out of bounds: %f", f.InterferencePenalty)
	}
}

func TestConsolidate_NeverAccessedRecord(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	rec := testRecord(1.0, nil, now.Add(-5*time.Hour))

	result, err := adjuster.Consolidate(rec, nil, nil, now)
	if err != nil {
		t.Fatalf("consolidate failed: %v", err)
	}
	if result.RecallProbability < 0 || result.RecallProbability > 1 {
		t.Errorf("probability out of bounds: %f", result.RecallProbability)
	}
	if result.StrengthIncrement < 0.01 {
		t.Errorf("increment below floor: %f", result.StrengthIncrement)
	}
}

func TestConsolidate_StrengthCeiling(t *testing.T) {
	adjuster := NewCognitiveAdjuster(nil)
	now := time.Now()
	rec := testRecord(adjuster.Config().MaxStrength, hoursAgo(now, 24), now.Add(-100*time.Hour))

	result, err := adjuster.Consolidate(rec, &types.RetrievalContext{RetrievalLatencyMS: 2000, ConfidenceScore: 0.9}, nil, now)
	if err != nil {
		t.Fatalf("consolidate failed: %v", err)
	}
	if result.NewConsolidationStrength > adjuster.Config().MaxStrength {
		t.Errorf("strength exceeded ceiling: %f", result.NewConsolidationStrength)
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero norm", []float32{0, 0}, []float32{1, 1}, 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CosineSimilarity(tc.a, tc.b)
			if err != nil {
				t.Fatalf("similarity failed: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("expected %f, got %f", tc.want, got)
			}
		})
	}

	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestNewCognitiveAdjusterWithConfig_InvalidFallsBack(t *testing.T) {
	adjuster := NewCognitiveAdjusterWithConfig(nil, CognitiveConfig{Alpha: 2.0})
	if adjuster.Config() != DefaultCognitiveConfig() {
		t.Errorf("invalid config should fall back to defaults, got %+v", adjuster.Config())
	}
}
