package app

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"signal-scout/database"
)

// BaselineStore is the persistence surface the baseline tracker needs.
type BaselineStore interface {
	GetBaselines(entityKeys []string) ([]database.EntityBaseline, error)
	SaveBaseline(baseline *database.EntityBaseline) error
}

// EntityToday is the activity aggregated for one entity across the
// current detection window's scrubber outputs.
type EntityToday struct {
	Key      string
	Name     string
	Category string
	Context  string

	Mentions      int
	FrictionCount int
	Occurrences   int

	sentimentSum    float64
	sentimentWeight int
	topContextCount int
}

// Sentiment is the mention-weighted mean sentiment, 0 when unscored.
func (e *EntityToday) Sentiment() float64 {
	if e.sentimentWeight == 0 {
		return 0
	}
	return e.sentimentSum / float64(e.sentimentWeight)
}

// FrictionRate is the share of the entity's output occurrences that
// carried a friction flag.
func (e *EntityToday) FrictionRate() float64 {
	if e.Occurrences == 0 {
		return 0
	}
	return float64(e.FrictionCount) / float64(e.Occurrences)
}

// BaselineTracker maintains per-entity rolling history: one snapshot per
// day, newest-first, capped at the window size, with simple-mean
// averages recomputed over the retained snapshots.
type BaselineTracker struct {
	store BaselineStore
	now   func() time.Time
}

func NewBaselineTracker(store BaselineStore) *BaselineTracker {
	return &BaselineTracker{store: store, now: time.Now}
}

// Aggregate folds scrubber outputs into per-entity activity keyed by the
// case-folded entity name.
func (t *BaselineTracker) Aggregate(outputs []database.ScrubberOutput) map[string]*EntityToday {
	stats := make(map[string]*EntityToday)
	for i := range outputs {
		for _, mention := range outputs[i].Entities {
			key := EntityKey(mention.Name)
			if key == "" {
				continue
			}
			s, ok := stats[key]
			if !ok {
				s = &EntityToday{Key: key, Name: mention.Name, Category: mention.Category}
				stats[key] = s
			}
			count := mention.MentionCount
			if count <= 0 {
				count = 1
			}
			s.Mentions += count
			s.Occurrences++
			if mention.FrictionSignal {
				s.FrictionCount++
			}
			s.sentimentSum += mention.Sentiment * float64(count)
			s.sentimentWeight += count
			if count > s.topContextCount {
				s.topContextCount = count
				s.Context = mention.MentionContext
				s.Name = mention.Name
				if mention.Category != "" {
					s.Category = mention.Category
				}
			}
		}
	}
	return stats
}

// Update merges today's activity into each entity's baseline and
// persists it. It returns the number of baselines written and the prior
// baselines as they stood before the merge; anomaly detection compares
// against the prior state so today's activity cannot dampen its own
// deviation.
func (t *BaselineTracker) Update(stats map[string]*EntityToday) (int, map[string]*database.EntityBaseline, error) {
	if len(stats) == 0 {
		return 0, map[string]*database.EntityBaseline{}, nil
	}

	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	existing, err := t.store.GetBaselines(keys)
	if err != nil {
		return 0, nil, fmt.Errorf("load baselines: %w", err)
	}
	prior := make(map[string]*database.EntityBaseline, len(existing))
	for i := range existing {
		b := existing[i]
		prior[b.EntityKey] = &b
	}

	now := t.now().UTC()
	today := now.Format("2006-01-02")
	updated := 0
	for _, key := range keys {
		s := stats[key]
		baseline := mergeSnapshot(prior[key], s, key, today, now)
		if err := t.store.SaveBaseline(baseline); err != nil {
			return updated, prior, fmt.Errorf("save baseline %s: %w", key, err)
		}
		updated++
	}
	log.Printf("📊 Baselines updated: %d entities for %s", updated, today)
	return updated, prior, nil
}

// mergeSnapshot builds the post-merge baseline for one entity without
// mutating the prior record.
func mergeSnapshot(prior *database.EntityBaseline, s *EntityToday, key, today string, now time.Time) *database.EntityBaseline {
	baseline := &database.EntityBaseline{
		EntityKey: key,
		Category:  s.Category,
		FirstSeen: now,
	}
	var snapshots []database.BaselineSnapshot
	if prior != nil {
		baseline.FirstSeen = prior.FirstSeen
		if s.Category == "" {
			baseline.Category = prior.Category
		}
		for _, snap := range prior.Snapshots {
			if snap.Date != today {
				snapshots = append(snapshots, snap)
			}
		}
	}

	// Stored snapshots carry rounded values so persisted history reads
	// the same as the figures the pipeline reports.
	snapshots = append(snapshots, database.BaselineSnapshot{
		Date:         today,
		Mentions:     s.Mentions,
		Sentiment:    round2(s.Sentiment()),
		FrictionRate: round2(s.FrictionRate()),
	})
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Date > snapshots[j].Date })
	if len(snapshots) > database.BaselineWindowDays {
		snapshots = snapshots[:database.BaselineWindowDays]
	}

	var mentions, sentiment, friction float64
	for _, snap := range snapshots {
		mentions += float64(snap.Mentions)
		sentiment += snap.Sentiment
		friction += snap.FrictionRate
	}
	n := float64(len(snapshots))
	baseline.Snapshots = snapshots
	baseline.AvgMentions = mentions / n
	baseline.AvgSentiment = sentiment / n
	baseline.AvgFriction = friction / n
	baseline.UpdatedAt = now
	return baseline
}

// IsMature reports whether a baseline has enough history for deviation
// thresholds; below the cutoff the delta engine uses cold-start rules.
func IsMature(baseline *database.EntityBaseline) bool {
	return baseline != nil && len(baseline.Snapshots) >= database.MatureSnapshotCount
}

// EntityKey normalizes an entity name into its baseline key.
func EntityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
