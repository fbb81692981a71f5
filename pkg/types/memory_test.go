package types_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/engram/pkg/types"
)

func TestNewMemoryRecord_Defaults(t *testing.T) {
	rec := types.NewMemoryRecord("remember this")

	if rec.ID == uuid.Nil {
		t.Error("record should get a non-nil id")
	}
	if rec.Content != "remember this" {
		t.Errorf("content = %q", rec.Content)
	}
	if rec.Tier != types.TierWorking {
		t.Errorf("new records start in working, got %s", rec.Tier)
	}
	if rec.Status != types.StatusActive {
		t.Errorf("new records start active, got %s", rec.Status)
	}
	if rec.ConsolidationStrength != types.DefaultConsolidationStrength {
		t.Errorf("strength = %f", rec.ConsolidationStrength)
	}
	if rec.DecayRate != types.DefaultDecayRate {
		t.Errorf("decay rate = %f", rec.DecayRate)
	}
	if rec.EaseFactor != types.DefaultEaseFactor {
		t.Errorf("ease factor = %f", rec.EaseFactor)
	}
	if rec.ImportanceScore != 0.5 {
		t.Errorf("importance = %f", rec.ImportanceScore)
	}
	if rec.LastAccessedAt != nil {
		t.Error("new records have never been accessed")
	}
	if rec.RecallProbability != nil {
		t.Error("recall probability is nil until first calculation")
	}
	if rec.CurrentIntervalDays == nil || *rec.CurrentIntervalDays != types.DefaultIntervalDays {
		t.Errorf("interval days = %v", rec.CurrentIntervalDays)
	}
	if rec.Metadata == nil {
		t.Error("metadata map should be initialized")
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Error("created and updated timestamps should match at creation")
	}
}

func TestLastAccessOrCreation(t *testing.T) {
	rec := types.NewMemoryRecord("x")
	if !rec.LastAccessOrCreation().Equal(rec.CreatedAt) {
		t.Error("never-accessed record falls back to creation time")
	}

	accessed := rec.CreatedAt.Add(2 * time.Hour)
	rec.LastAccessedAt = &accessed
	if !rec.LastAccessOrCreation().Equal(accessed) {
		t.Error("accessed record uses last access time")
	}

	var zero time.Time
	rec.LastAccessedAt = &zero
	if !rec.LastAccessOrCreation().Equal(rec.CreatedAt) {
		t.Error("zero last-access timestamp falls back to creation time")
	}
}

func TestHoursSinceAccess(t *testing.T) {
	rec := types.NewMemoryRecord("x")
	now := rec.CreatedAt.Add(6 * time.Hour)

	if got := rec.HoursSinceAccess(now); got != 6 {
		t.Errorf("hours since creation = %f, want 6", got)
	}

	accessed := rec.CreatedAt.Add(5 * time.Hour)
	rec.LastAccessedAt = &accessed
	if got := rec.HoursSinceAccess(now); got != 1 {
		t.Errorf("hours since access = %f, want 1", got)
	}

	// Clock skew: an access timestamp in the future clamps to zero.
	future := now.Add(time.Hour)
	rec.LastAccessedAt = &future
	if got := rec.HoursSinceAccess(now); got != 0 {
		t.Errorf("future access should clamp to 0, got %f", got)
	}
}

func TestIdleFor(t *testing.T) {
	rec := types.NewMemoryRecord("x")
	now := rec.CreatedAt.Add(24 * time.Hour)

	if !rec.IdleFor(24*time.Hour, now) {
		t.Error("record idle for exactly the duration should report idle")
	}
	if rec.IdleFor(25*time.Hour, now) {
		t.Error("record should not report idle beyond its actual idle time")
	}
}

func TestEnvironmentalContext(t *testing.T) {
	rec := types.NewMemoryRecord("x")

	if got := rec.EnvironmentalContext(); len(got) != 0 {
		t.Errorf("no stored context should yield empty map, got %v", got)
	}

	rec.Metadata["environmental_context"] = map[string]interface{}{
		"location":    0.8,
		"time_of_day": 1, // ints are accepted alongside floats
		"label":       "office",
	}
	got := rec.EnvironmentalContext()
	if got["location"] != 0.8 {
		t.Errorf("location = %f", got["location"])
	}
	if got["time_of_day"] != 1.0 {
		t.Errorf("time_of_day = %f", got["time_of_day"])
	}
	if _, ok := got["label"]; ok {
		t.Error("non-numeric factors are dropped")
	}

	rec.Metadata["environmental_context"] = "not a map"
	if got := rec.EnvironmentalContext(); len(got) != 0 {
		t.Errorf("malformed context should yield empty map, got %v", got)
	}
}

func TestIsValidRecordStatus(t *testing.T) {
	for _, status := range types.ValidRecordStatuses {
		if !types.IsValidRecordStatus(status) {
			t.Errorf("status %s should be valid", status)
		}
	}
	if types.IsValidRecordStatus(types.RecordStatus("pending")) {
		t.Error("unknown status should not be valid")
	}
}
