package app

import (
	"testing"
	"time"

	"signal-scout/config"
	"signal-scout/database"
)

type fakeMaintenanceStore struct {
	nonceCutoff    time.Time
	noncesDeleted  int64
	briefs         []database.OpportunityBrief
	freshnessCalls map[string]struct {
		status string
		score  float64
	}
}

func newFakeMaintenanceStore() *fakeMaintenanceStore {
	return &fakeMaintenanceStore{
		freshnessCalls: make(map[string]struct {
			status string
			score  float64
		}),
	}
}

func (f *fakeMaintenanceStore) DeleteNoncesBefore(cutoff time.Time) (int64, error) {
	f.nonceCutoff = cutoff
	return f.noncesDeleted, nil
}

func (f *fakeMaintenanceStore) ListActiveBriefsPage(cursorID string, limit int) ([]database.OpportunityBrief, error) {
	start := 0
	if cursorID != "" {
		for i := range f.briefs {
			if f.briefs[i].ID == cursorID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.briefs) {
		end = len(f.briefs)
	}
	return f.briefs[start:end], nil
}

func (f *fakeMaintenanceStore) UpdateBriefFreshness(id, status string, score float64) error {
	f.freshnessCalls[id] = struct {
		status string
		score  float64
	}{status, score}
	return nil
}

func briefCreatedAgo(id string, age time.Duration, status string, score float64, now time.Time) database.OpportunityBrief {
	return database.OpportunityBrief{
		ID:             id,
		Status:         status,
		FreshnessScore: score,
		CreatedAt:      now.Add(-age),
	}
}

func TestRunOnceSweepsAndDecays(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	store := newFakeMaintenanceStore()
	store.noncesDeleted = 3
	store.briefs = []database.OpportunityBrief{
		// Just created, already correct: no write.
		briefCreatedAgo("brief-fresh", 0, database.BriefStatusFresh, 1.0, now),
		// Aged past the fresh band since its last sweep.
		briefCreatedAgo("brief-warming", 24*time.Hour, database.BriefStatusFresh, 1.0, now),
		// A week old: archives at zero.
		briefCreatedAgo("brief-ancient", 200*time.Hour, database.BriefStatusCold, 0.10, now),
	}

	m := NewMaintenance(store, config.MaintenanceConfig{
		IntervalMinutes: 30,
		NonceTTLMinutes: 15,
		BatchSize:       100,
	})
	m.now = func() time.Time { return now }

	m.RunOnce()

	wantCutoff := now.Add(-15 * time.Minute)
	if !store.nonceCutoff.Equal(wantCutoff) {
		t.Errorf("nonce cutoff = %v, want %v", store.nonceCutoff, wantCutoff)
	}

	if _, ok := store.freshnessCalls["brief-fresh"]; ok {
		t.Error("unchanged brief must not be rewritten")
	}

	warming, ok := store.freshnessCalls["brief-warming"]
	if !ok {
		t.Fatal("aged brief must be updated")
	}
	if warming.status != database.BriefStatusWarm || warming.score != 0.63 {
		t.Errorf("warming brief = %s/%.2f, want warm/0.63", warming.status, warming.score)
	}

	ancient, ok := store.freshnessCalls["brief-ancient"]
	if !ok {
		t.Fatal("week-old brief must be archived")
	}
	if ancient.status != database.BriefStatusArchived || ancient.score != 0.0 {
		t.Errorf("ancient brief = %s/%.2f, want archived/0.00", ancient.status, ancient.score)
	}
}

func TestDecayBriefsPaginates(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	store := newFakeMaintenanceStore()
	for i := 0; i < 5; i++ {
		store.briefs = append(store.briefs,
			briefCreatedAgo("brief-"+string(rune('a'+i)), 24*time.Hour, database.BriefStatusFresh, 1.0, now))
	}

	m := NewMaintenance(store, config.MaintenanceConfig{
		IntervalMinutes: 30,
		NonceTTLMinutes: 15,
		BatchSize:       2,
	})
	m.now = func() time.Time { return now }

	m.RunOnce()

	if len(store.freshnessCalls) != 5 {
		t.Errorf("updated %d briefs, want all 5 across pages", len(store.freshnessCalls))
	}
}
