package app

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"signal-scout/database"
	"signal-scout/llm"
)

type fakeScrubStore struct {
	mu        sync.Mutex
	processed map[string]bool
	outputs   []database.ScrubberOutput
	marked    map[string][]string
	saveErr   error
}

func newFakeScrubStore() *fakeScrubStore {
	return &fakeScrubStore{
		processed: make(map[string]bool),
		marked:    make(map[string][]string),
	}
}

func (f *fakeScrubStore) GetProcessedItemIDs(itemIDs []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range itemIDs {
		if f.processed[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeScrubStore) SaveScrubberOutput(output *database.ScrubberOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.outputs = append(f.outputs, *output)
	return nil
}

func (f *fakeScrubStore) MarkItemsProcessed(captureID string, itemIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[captureID] = append(f.marked[captureID], itemIDs...)
	return nil
}

type fakeExtractionModel struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
	// failOnPrompt fails only batches whose prompt contains the marker
	failOnPrompt string
}

func (f *fakeExtractionModel) Generate(ctx context.Context, system, prompt string) (string, llm.Usage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	if f.failOnPrompt != "" && strings.Contains(prompt, f.failOnPrompt) {
		return "", llm.Usage{}, errors.New("model unavailable")
	}
	return f.response, llm.Usage{TotalTokens: 100}, nil
}

const extractionResponse = `{"entities":[{"name":"Supabase","category":"tool","sentiment":0.6,"mention_context":"praise","friction_signal":false,"mention_count":2}],"friction_points":[],"notable_items":[]}`

func TestScrubFiltersProcessedAndSpamItems(t *testing.T) {
	store := newFakeScrubStore()
	store.processed["item-old"] = true
	model := &fakeExtractionModel{response: extractionResponse}
	scrubber := NewScrubber(store, model, nil, 25, 5)

	capture := &database.Capture{
		ID: "cap-1",
		Signals: database.SignalItemList{
			{ID: "item-old", Platform: database.PlatformShortPost, Content: "already seen"},
			{ID: "item-spam", Platform: database.PlatformShortPost, Content: "Huge GIVEAWAY! tag 5 friends"},
			{ID: "item-1", Platform: database.PlatformShortPost, Content: "supabase auth is nice"},
			{ID: "item-2", Platform: database.PlatformShortPost, Content: "moved our app to supabase"},
		},
	}

	result, err := scrubber.Scrub(context.Background(), capture)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ItemsFiltered != 2 {
		t.Errorf("filtered = %d, want 2", result.ItemsFiltered)
	}
	if result.ItemsScrubbed != 2 {
		t.Errorf("scrubbed = %d, want 2", result.ItemsScrubbed)
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want 1 batch", model.calls)
	}
	if len(store.outputs) != 1 {
		t.Fatalf("outputs persisted = %d, want 1", len(store.outputs))
	}
	if store.outputs[0].TokensUsed != 100 {
		t.Errorf("tokens = %d, want 100", store.outputs[0].TokensUsed)
	}

	marked := store.marked["cap-1"]
	if len(marked) != 2 {
		t.Fatalf("marked = %v, want only the two clean items", marked)
	}
	for _, id := range marked {
		if id == "item-old" || id == "item-spam" {
			t.Errorf("filtered item %s must not be marked processed", id)
		}
	}
}

func TestScrubFailsWhenEveryBatchFails(t *testing.T) {
	store := newFakeScrubStore()
	model := &fakeExtractionModel{err: errors.New("model down")}
	scrubber := NewScrubber(store, model, nil, 25, 5)

	capture := &database.Capture{
		ID: "cap-2",
		Signals: database.SignalItemList{
			{ID: "item-1", Platform: database.PlatformShortPost, Content: "hello"},
		},
	}

	_, err := scrubber.Scrub(context.Background(), capture)
	if err == nil {
		t.Fatal("expected an error when all batches fail")
	}
	if len(store.outputs) != 0 {
		t.Error("no output must be persisted when extraction produced nothing")
	}
	if len(store.marked["cap-2"]) != 0 {
		t.Error("items must not be marked processed on a failed capture")
	}
}

func TestScrubCollectsPartialBatchFailures(t *testing.T) {
	store := newFakeScrubStore()
	model := &fakeExtractionModel{response: extractionResponse, failOnPrompt: "poison-content"}
	scrubber := NewScrubber(store, model, nil, 1, 2) // one item per batch

	capture := &database.Capture{
		ID: "cap-3",
		Signals: database.SignalItemList{
			{ID: "item-1", Platform: database.PlatformShortPost, Content: "a fine post"},
			{ID: "item-2", Platform: database.PlatformShortPost, Content: "poison-content here"},
		},
	}

	result, err := scrubber.Scrub(context.Background(), capture)
	if err != nil {
		t.Fatalf("partial failure must not fail the capture: %v", err)
	}
	if len(result.BatchErrors) != 1 {
		t.Errorf("batch errors = %d, want 1", len(result.BatchErrors))
	}
	if len(store.outputs) != 1 {
		t.Fatalf("outputs persisted = %d, want 1", len(store.outputs))
	}
}

func TestScrubTreatsDuplicateOutputAsSuccess(t *testing.T) {
	store := newFakeScrubStore()
	store.saveErr = &database.AlreadyExistsError{Resource: "scrubber output", ID: "cap-4"}
	model := &fakeExtractionModel{response: extractionResponse}
	scrubber := NewScrubber(store, model, nil, 25, 5)

	capture := &database.Capture{
		ID: "cap-4",
		Signals: database.SignalItemList{
			{ID: "item-1", Platform: database.PlatformShortPost, Content: "retry of a processed capture"},
		},
	}

	if _, err := scrubber.Scrub(context.Background(), capture); err != nil {
		t.Fatalf("duplicate output must be an idempotent success, got %v", err)
	}
	if len(store.marked["cap-4"]) != 1 {
		t.Error("items must still be marked processed on duplicate output")
	}
}

func TestMergeEntities(t *testing.T) {
	merged := MergeEntities([]database.EntityMention{
		{Name: "Redis", Category: "tool", Sentiment: 0.9, MentionContext: "praise", MentionCount: 1},
		{Name: "redis", Category: "database", Sentiment: 0.1, MentionContext: "complaint", FrictionSignal: true, MentionCount: 3},
		{Name: "Postgres", Category: "database", Sentiment: 0.5, MentionContext: "question", MentionCount: 2},
	})

	if len(merged) != 2 {
		t.Fatalf("merged = %d entities, want 2", len(merged))
	}

	// Highest merged count first.
	redis := merged[0]
	if redis.Name != "redis" {
		t.Errorf("display name = %s, want the higher-count occurrence's casing", redis.Name)
	}
	if redis.MentionCount != 4 {
		t.Errorf("count = %d, want 4", redis.MentionCount)
	}
	if !redis.FrictionSignal {
		t.Error("friction flag must be OR-ed across occurrences")
	}
	if redis.MentionContext != "complaint" {
		t.Errorf("context = %s, want the highest-count occurrence's", redis.MentionContext)
	}
	// (0.9*1 + 0.1*3) / 4
	if math.Abs(redis.Sentiment-0.3) > 1e-9 {
		t.Errorf("sentiment = %.2f, want 0.30", redis.Sentiment)
	}

	if merged[1].Name != "Postgres" {
		t.Errorf("second entity = %s, want Postgres", merged[1].Name)
	}
}

func TestDefaultSpamFilters(t *testing.T) {
	filters := DefaultSpamFilters()
	tests := []struct {
		content string
		spam    bool
	}{
		{"Massive GIVEAWAY ends tonight!", true},
		{"Claim your free NFT now", true},
		{"airdrop for early supporters", true},
		{"follow + RT to win", true},
		{"DM me for the link", true},
		{"link in bio for the course", true},
		{"our postgres migration took three weekends", false},
		{"giveaways are a marketing antipattern imo", false},
	}
	for _, tt := range tests {
		item := &database.SignalItem{ID: "x", Content: tt.content}
		if _, got := isSpam(filters, item); got != tt.spam {
			t.Errorf("isSpam(%q) = %v, want %v", tt.content, got, tt.spam)
		}
	}
}
