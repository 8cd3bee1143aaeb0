package app

import (
	"math"
	"testing"
	"time"

	"signal-scout/config"
	"signal-scout/database"
)

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		CapturePageSize:    10,
		ExtractBatchSize:   25,
		ScrubConcurrency:   5,
		LookbackHours:      48,
		OutputPageSize:     500,
		PriorSignalLimit:   100,
		VelocityThreshold:  2.0,
		SentimentDropLimit: -0.3,
		FrictionSpikeLimit: 0.2,
		ColdStartMentions:  10,
		QualifyingStrength: 0.4,
		SynthConcurrency:   3,
	}
}

func matureBaseline(key string, avgMentions, avgSentiment, avgFriction float64) *database.EntityBaseline {
	return &database.EntityBaseline{
		EntityKey:    key,
		AvgMentions:  avgMentions,
		AvgSentiment: avgSentiment,
		AvgFriction:  avgFriction,
		Snapshots: database.SnapshotList{
			{Date: "2026-08-30", Mentions: int(avgMentions)},
			{Date: "2026-08-29", Mentions: int(avgMentions)},
			{Date: "2026-08-28", Mentions: int(avgMentions)},
		},
	}
}

func TestDetectMatureVelocitySpike(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	stats := map[string]*EntityToday{
		"render": {
			Key: "render", Name: "Render",
			Mentions: 20, Occurrences: 4,
			sentimentSum: 2.0, sentimentWeight: 4, // sentiment 0.5, matches baseline
		},
	}
	baselines := map[string]*database.EntityBaseline{
		"render": matureBaseline("render", 2, 0.5, 0),
	}

	detection := engine.Detect(stats, baselines, nil, nil)
	if len(detection.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(detection.Signals))
	}

	sig := detection.Signals[0]
	if sig.Type != database.SignalTypeNewEmergence {
		t.Errorf("type = %s, want %s (no prior signal for entity)", sig.Type, database.SignalTypeNewEmergence)
	}
	if sig.Direction != database.DirectionNew {
		t.Errorf("direction = %s, want %s", sig.Direction, database.DirectionNew)
	}
	if sig.MentionVelocity != 10.0 {
		t.Errorf("velocity = %.2f, want 10.00", sig.MentionVelocity)
	}
	// deviation caps at 1.0: 0.4*1.0 with no friction or sentiment terms
	if sig.Strength != 0.40 {
		t.Errorf("strength = %.2f, want 0.40", sig.Strength)
	}
	if len(detection.Qualifying) != 1 {
		t.Errorf("expected the signal to qualify at strength %.2f", sig.Strength)
	}
}

func TestDetectClassificationAgainstPriorSignal(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	priors := []database.Signal{
		{ID: "prior-1", Entities: database.StringList{"Render"}, MentionVelocity: 2.0},
	}

	tests := []struct {
		name          string
		stats         *EntityToday
		baseline      *database.EntityBaseline
		wantType      string
		wantDirection string
	}{
		{
			name: "velocity spike accelerating",
			stats: &EntityToday{
				Key: "render", Name: "Render",
				Mentions: 20, Occurrences: 4,
				sentimentSum: 2.0, sentimentWeight: 4,
			},
			baseline:      matureBaseline("render", 2, 0.5, 0),
			wantType:      database.SignalTypeVelocitySpike,
			wantDirection: database.DirectionAccelerating,
		},
		{
			name: "sentiment flip decelerating",
			stats: &EntityToday{
				Key: "render", Name: "Render",
				Mentions: 2, Occurrences: 2,
				// sentiment 0.0 against baseline 0.5: delta -0.5
			},
			baseline:      matureBaseline("render", 2, 0.5, 0),
			wantType:      database.SignalTypeSentimentFlip,
			wantDirection: database.DirectionDecelerating,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := map[string]*EntityToday{tt.stats.Key: tt.stats}
			baselines := map[string]*database.EntityBaseline{tt.stats.Key: tt.baseline}

			detection := engine.Detect(stats, baselines, priors, nil)
			if len(detection.Signals) != 1 {
				t.Fatalf("expected 1 signal, got %d", len(detection.Signals))
			}
			sig := detection.Signals[0]
			if sig.Type != tt.wantType {
				t.Errorf("type = %s, want %s", sig.Type, tt.wantType)
			}
			if sig.Direction != tt.wantDirection {
				t.Errorf("direction = %s, want %s", sig.Direction, tt.wantDirection)
			}
		})
	}
}

func TestDetectColdStartThresholds(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	tests := []struct {
		name        string
		stats       *EntityToday
		wantSignals int
	}{
		{
			name:        "quiet new entity stays silent",
			stats:       &EntityToday{Key: "quietlib", Name: "QuietLib", Mentions: 4, Occurrences: 2},
			wantSignals: 0,
		},
		{
			name:        "mention burst signals without a baseline",
			stats:       &EntityToday{Key: "newtool", Name: "NewTool", Mentions: 12, Occurrences: 5},
			wantSignals: 1,
		},
		{
			name:        "single friction mention signals",
			stats:       &EntityToday{Key: "paindb", Name: "PainDB", Mentions: 2, Occurrences: 2, FrictionCount: 1},
			wantSignals: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := map[string]*EntityToday{tt.stats.Key: tt.stats}
			detection := engine.Detect(stats, map[string]*database.EntityBaseline{}, nil, nil)
			if len(detection.Signals) != tt.wantSignals {
				t.Fatalf("signals = %d, want %d", len(detection.Signals), tt.wantSignals)
			}
			if tt.wantSignals == 1 {
				sig := detection.Signals[0]
				if sig.Type != database.SignalTypeNewEmergence {
					t.Errorf("type = %s, want %s", sig.Type, database.SignalTypeNewEmergence)
				}
				if sig.MentionVelocity != float64(tt.stats.Mentions) {
					t.Errorf("cold start velocity = %.2f, want raw mention count %d", sig.MentionVelocity, tt.stats.Mentions)
				}
			}
		})
	}
}

func TestDetectFrictionClusterFromSharedContext(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	stats := map[string]*EntityToday{
		"webpack": {Key: "webpack", Name: "Webpack", Context: "complaint", Mentions: 3, Occurrences: 2, FrictionCount: 1},
		"vite":    {Key: "vite", Name: "Vite", Context: "complaint", Mentions: 5, Occurrences: 3, FrictionCount: 1},
	}

	detection := engine.Detect(stats, map[string]*database.EntityBaseline{}, nil, nil)
	if len(detection.Signals) != 1 {
		t.Fatalf("expected the two entities to fold into 1 cluster signal, got %d signals", len(detection.Signals))
	}

	sig := detection.Signals[0]
	if sig.Type != database.SignalTypeFrictionCluster {
		t.Errorf("type = %s, want %s", sig.Type, database.SignalTypeFrictionCluster)
	}
	if sig.FrictionTheme == nil || *sig.FrictionTheme != "complaint" {
		t.Errorf("theme = %v, want complaint", sig.FrictionTheme)
	}
	if len(sig.Entities) != 2 {
		t.Fatalf("cluster entities = %v, want both members", sig.Entities)
	}
	// Sorted member order keeps repeated runs deterministic.
	if sig.Entities[0] != "Vite" || sig.Entities[1] != "Webpack" {
		t.Errorf("entities = %v, want [Vite Webpack]", sig.Entities)
	}

	// 0.4·deviation((5-1)/3 capped) + 0.3·0.7 fixed severity + 0.1·breadth(2/4)
	want := 0.4*1.0 + 0.3*0.7 + 0.1*0.5
	if math.Abs(sig.Strength-math.Round(want*100)/100) > 0.001 {
		t.Errorf("strength = %.2f, want %.2f", sig.Strength, want)
	}
}

func TestDetectClusterNeedsTwoEntities(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	stats := map[string]*EntityToday{
		"webpack": {Key: "webpack", Name: "Webpack", Context: "complaint", Mentions: 3, Occurrences: 2, FrictionCount: 1},
	}

	detection := engine.Detect(stats, map[string]*database.EntityBaseline{}, nil, nil)
	if len(detection.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(detection.Signals))
	}
	if detection.Signals[0].FrictionTheme != nil {
		t.Errorf("a lone friction entity must stay a single-entity signal, got cluster theme %q", *detection.Signals[0].FrictionTheme)
	}
	if len(detection.Signals[0].Entities) != 1 {
		t.Errorf("entities = %v, want just Webpack", detection.Signals[0].Entities)
	}
}

func TestDetectThemeClusterFromFrictionDescriptions(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	// Different contexts, so pass one cannot group them; the shared
	// "migration" vocabulary word in their friction descriptions should.
	stats := map[string]*EntityToday{
		"alpha": {Key: "alpha", Name: "Alpha", Context: "question", Mentions: 2, Occurrences: 2, FrictionCount: 1},
		"beta":  {Key: "beta", Name: "Beta", Context: "rant", Mentions: 2, Occurrences: 2, FrictionCount: 1},
	}
	outputs := []database.ScrubberOutput{
		{
			ID: "out-1",
			FrictionPoints: database.FrictionPointList{
				{Entity: "Alpha", Signal: "painful migration from v2 to v3", Severity: 0.8, SourceIDs: []string{"item-1"}},
				{Entity: "Beta", Signal: "migration guide is missing entirely", Severity: 0.6, SourceIDs: []string{"item-2"}},
			},
		},
	}

	detection := engine.Detect(stats, map[string]*database.EntityBaseline{}, nil, outputs)
	if len(detection.Signals) != 1 {
		t.Fatalf("expected 1 cluster signal, got %d", len(detection.Signals))
	}
	sig := detection.Signals[0]
	if sig.FrictionTheme == nil || *sig.FrictionTheme != "migration" {
		t.Errorf("theme = %v, want migration", sig.FrictionTheme)
	}
	if len(sig.EvidenceIDs) != 2 {
		t.Errorf("evidence = %v, want both friction source items", sig.EvidenceIDs)
	}
}

func TestDetectEvidenceCollection(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	stats := map[string]*EntityToday{
		"render": {Key: "render", Name: "Render", Mentions: 12, Occurrences: 3},
	}
	outputs := []database.ScrubberOutput{
		{
			ID: "out-1",
			FrictionPoints: database.FrictionPointList{
				{Entity: "Render", Signal: "cold start latency", Severity: 0.5, SourceIDs: []string{"item-1", "item-2"}},
			},
			NotableItems: database.NotableItemList{
				{ItemID: "item-3", Insight: "Render is suddenly everywhere in deploy threads"},
				{ItemID: "item-4", Insight: "Renderer internals discussion"}, // substring, not whole word
				{ItemID: "item-1", Insight: "duplicate of a friction source for Render"},
			},
		},
	}

	detection := engine.Detect(stats, map[string]*database.EntityBaseline{}, nil, outputs)
	if len(detection.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(detection.Signals))
	}
	got := detection.Signals[0].EvidenceIDs
	want := []string{"item-1", "item-2", "item-3"}
	if len(got) != len(want) {
		t.Fatalf("evidence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("evidence[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDetectDeterministicAcrossRuns(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	stats := map[string]*EntityToday{
		"zeta":  {Key: "zeta", Name: "Zeta", Mentions: 15, Occurrences: 3},
		"alpha": {Key: "alpha", Name: "Alpha", Mentions: 11, Occurrences: 2},
		"mid":   {Key: "mid", Name: "Mid", Mentions: 13, Occurrences: 2},
	}

	first := engine.Detect(stats, map[string]*database.EntityBaseline{}, nil, nil)
	second := engine.Detect(stats, map[string]*database.EntityBaseline{}, nil, nil)

	if len(first.Signals) != len(second.Signals) {
		t.Fatalf("signal counts differ: %d vs %d", len(first.Signals), len(second.Signals))
	}
	for i := range first.Signals {
		if first.Signals[i].Entities[0] != second.Signals[i].Entities[0] {
			t.Errorf("signal order differs at %d: %v vs %v", i, first.Signals[i].Entities, second.Signals[i].Entities)
		}
		if first.Signals[i].Strength != second.Signals[i].Strength {
			t.Errorf("strength differs at %d", i)
		}
	}
}

func TestRecencyDecayBands(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1.0},
		{5 * time.Hour, 1.0},
		{6 * time.Hour, 0.8},
		{23 * time.Hour, 0.8},
		{24 * time.Hour, 0.5},
		{47 * time.Hour, 0.5},
		{48 * time.Hour, 0.2},
		{200 * time.Hour, 0.2},
	}
	for _, tt := range tests {
		if got := recencyDecay(tt.age); got != tt.want {
			t.Errorf("recencyDecay(%v) = %.1f, want %.1f", tt.age, got, tt.want)
		}
	}
}

func TestDetectEmptyInput(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	detection := engine.Detect(nil, nil, nil, nil)
	if len(detection.Signals) != 0 || len(detection.Qualifying) != 0 {
		t.Errorf("empty input produced %d signals (%d qualifying), want none",
			len(detection.Signals), len(detection.Qualifying))
	}
}

func TestDetectQuietEntityStaysSilent(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	stats := map[string]*EntityToday{
		"render": {
			Key: "render", Name: "Render",
			Mentions: 5, Occurrences: 2,
			sentimentSum: 1.0, sentimentWeight: 2, // sentiment 0.5, matches baseline
		},
	}
	baselines := map[string]*database.EntityBaseline{
		"render": matureBaseline("render", 5.0, 0.5, 0.1),
	}
	detection := engine.Detect(stats, baselines, nil, nil)
	if len(detection.Signals) != 0 {
		t.Errorf("entity at its baseline produced %d signals, want none", len(detection.Signals))
	}
}

func TestDetectScoresAtFullWeightWithinRun(t *testing.T) {
	engine := NewDeltaEngine(testPipelineConfig())
	engine.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	// Evidence written 30 hours ago; age within the detecting run is
	// still zero, so the strength carries no decay.
	stats := map[string]*EntityToday{
		"newtool": {Key: "newtool", Name: "NewTool", Mentions: 12, Occurrences: 5},
	}
	outputs := []database.ScrubberOutput{
		{
			ID:        "out-1",
			CreatedAt: time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC),
			NotableItems: database.NotableItemList{
				{ItemID: "item-1", Insight: "NewTool adoption climbing fast"},
			},
		},
	}

	detection := engine.Detect(stats, map[string]*database.EntityBaseline{}, nil, outputs)
	if len(detection.Signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(detection.Signals))
	}
	if got := detection.Signals[0].Strength; got != 0.40 {
		t.Errorf("strength = %.2f, want 0.40 undimmed by evidence age", got)
	}
	if len(detection.Qualifying) != 1 {
		t.Errorf("expected the signal to qualify")
	}
}

func TestWholeWordPattern(t *testing.T) {
	tests := []struct {
		name    string
		insight string
		match   bool
	}{
		{"Render", "Render is suddenly everywhere", true},
		{"Render", "Renderer internals discussion", false},
		{"render", "I moved off Render last week", true},
		{"C++", "modern C++ build times are brutal", true},
		{"C++", "teams shipping C++", true},
		{"C++", "C++20 modules", false},
		{"Node.js", "Node.js streams confuse everyone", true},
		{"Node.js", "NotNode.js impostor", false},
		{"", "anything", false},
	}
	for _, tt := range tests {
		pattern := wholeWordPattern(tt.name)
		got := pattern != nil && pattern.MatchString(tt.insight)
		if got != tt.match {
			t.Errorf("wholeWordPattern(%q).MatchString(%q) = %v, want %v", tt.name, tt.insight, got, tt.match)
		}
	}
}
