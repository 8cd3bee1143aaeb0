package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"signal-scout/cache"
	"signal-scout/database"
	"signal-scout/llm"
)

const extractionCacheTTL = 24 * time.Hour

// ScrubberStore is the persistence surface the scrubber needs.
type ScrubberStore interface {
	GetProcessedItemIDs(itemIDs []string) (map[string]bool, error)
	SaveScrubberOutput(output *database.ScrubberOutput) error
	MarkItemsProcessed(captureID string, itemIDs []string) error
}

// ExtractionModel is the LLM surface the scrubber calls. Satisfied by
// *llm.Client.
type ExtractionModel interface {
	Generate(ctx context.Context, system, prompt string) (string, llm.Usage, error)
}

// Scrubber turns one raw capture into a structured extraction output:
// it drops already-processed and spam items, fans extraction batches
// out to the model, merges duplicate entities, and persists the result.
type Scrubber struct {
	store       ScrubberStore
	model       ExtractionModel
	cache       *cache.ExtractionCache
	filters     []SpamFilter
	batchSize   int
	concurrency int
}

// ScrubResult summarizes one scrubbed capture for run accounting.
type ScrubResult struct {
	Output        *database.ScrubberOutput
	ItemsScrubbed int
	ItemsFiltered int
	TokensUsed    int
	BatchErrors   []error
}

func NewScrubber(store ScrubberStore, model ExtractionModel, extractionCache *cache.ExtractionCache, batchSize, concurrency int) *Scrubber {
	if batchSize <= 0 {
		batchSize = 25
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Scrubber{
		store:       store,
		model:       model,
		cache:       extractionCache,
		filters:     DefaultSpamFilters(),
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Scrub processes one capture end to end. Individual batch failures are
// collected in the result rather than aborting the capture; the capture
// fails only when every batch fails or persistence does.
func (s *Scrubber) Scrub(ctx context.Context, capture *database.Capture) (*ScrubResult, error) {
	result := &ScrubResult{}

	items, filtered, err := s.filterItems(capture)
	if err != nil {
		return nil, err
	}
	result.ItemsFiltered = filtered

	if len(items) == 0 {
		log.Printf("📭 Capture %s: nothing left to scrub after filtering (%d filtered)", capture.ID, filtered)
		result.Output = s.emptyOutput(capture, filtered)
		if err := s.persist(capture, result.Output, nil); err != nil {
			return nil, err
		}
		return result, nil
	}

	batches := splitBatches(items, s.batchSize)
	extractions, tokens, batchErrs := s.extractBatches(ctx, capture.ID, batches)
	result.TokensUsed = tokens
	result.BatchErrors = batchErrs

	if len(extractions) == 0 {
		return result, fmt.Errorf("capture %s: all %d extraction batches failed", capture.ID, len(batches))
	}

	output := s.assembleOutput(capture, extractions, len(items), filtered, tokens)
	result.Output = output
	result.ItemsScrubbed = len(items)

	if err := s.persist(capture, output, items); err != nil {
		return nil, err
	}

	log.Printf("✅ Capture %s scrubbed: %d items, %d entities, %d friction points, %d tokens",
		capture.ID, len(items), len(output.Entities), len(output.FrictionPoints), tokens)
	return result, nil
}

// filterItems drops items already consumed by an earlier run and items
// matching the spam filter chain.
func (s *Scrubber) filterItems(capture *database.Capture) ([]database.SignalItem, int, error) {
	ids := make([]string, 0, len(capture.Signals))
	for _, item := range capture.Signals {
		ids = append(ids, item.ID)
	}
	processed, err := s.store.GetProcessedItemIDs(ids)
	if err != nil {
		return nil, 0, fmt.Errorf("lookup processed items: %w", err)
	}

	kept := make([]database.SignalItem, 0, len(capture.Signals))
	filtered := 0
	for i := range capture.Signals {
		item := capture.Signals[i]
		if processed[item.ID] {
			filtered++
			continue
		}
		if name, spam := isSpam(s.filters, &item); spam {
			log.Printf("🧹 Capture %s: dropping item %s (%s filter)", capture.ID, item.ID, name)
			filtered++
			continue
		}
		kept = append(kept, item)
	}
	return kept, filtered, nil
}

func splitBatches(items []database.SignalItem, size int) [][]database.SignalItem {
	var batches [][]database.SignalItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

type batchExtraction struct {
	index  int
	result *llm.ExtractionResult
	tokens int
	err    error
}

// extractBatches fans batches out to the model with bounded concurrency
// and settles them all, returning completed extractions in batch order.
func (s *Scrubber) extractBatches(ctx context.Context, captureID string, batches [][]database.SignalItem) ([]*llm.ExtractionResult, int, []error) {
	results := make([]batchExtraction, len(batches))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i := range batches {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			extraction, tokens, err := s.extractBatch(ctx, batches[index])
			results[index] = batchExtraction{index: index, result: extraction, tokens: tokens, err: err}
		}(i)
	}
	wg.Wait()

	var extractions []*llm.ExtractionResult
	var errs []error
	totalTokens := 0
	for _, r := range results {
		if r.err != nil {
			log.Printf("⚠️  Capture %s: extraction batch %d failed: %v", captureID, r.index, r.err)
			errs = append(errs, fmt.Errorf("batch %d: %w", r.index, r.err))
			continue
		}
		extractions = append(extractions, r.result)
		totalTokens += r.tokens
	}
	return extractions, totalTokens, errs
}

func (s *Scrubber) extractBatch(ctx context.Context, batch []database.SignalItem) (*llm.ExtractionResult, int, error) {
	if s.model == nil {
		return nil, 0, fmt.Errorf("extraction model not configured")
	}

	hash := cache.BatchHash(batch)
	if s.cache != nil {
		if cached, ok := s.cache.GetBatch(ctx, hash); ok {
			return cached, 0, nil
		}
	}

	content, usage, err := s.model.Generate(ctx, llm.ExtractionSystem(), llm.FormatExtractionPrompt(batch))
	if err != nil {
		return nil, 0, err
	}
	extraction, err := llm.ParseExtraction(content)
	if err != nil {
		return nil, usage.TotalTokens, err
	}

	if s.cache != nil {
		bestEffort("cache extraction batch", func() error {
			return s.cache.SetBatch(ctx, hash, extraction, extractionCacheTTL)
		})
	}
	return extraction, usage.TotalTokens, nil
}

func (s *Scrubber) assembleOutput(capture *database.Capture, extractions []*llm.ExtractionResult, scrubbed, filtered, tokens int) *database.ScrubberOutput {
	var entities []database.EntityMention
	var frictions []database.FrictionPoint
	var notables []database.NotableItem
	for _, e := range extractions {
		entities = append(entities, e.Entities...)
		frictions = append(frictions, e.FrictionPoints...)
		notables = append(notables, e.NotableItems...)
	}

	return &database.ScrubberOutput{
		ID:             uuid.New().String(),
		CaptureID:      capture.ID,
		SourceFeed:     capture.SourceFeed,
		Entities:       MergeEntities(entities),
		FrictionPoints: frictions,
		NotableItems:   notables,
		ItemsScrubbed:  scrubbed,
		ItemsFiltered:  filtered,
		TokensUsed:     tokens,
		CreatedAt:      time.Now().UTC(),
	}
}

func (s *Scrubber) emptyOutput(capture *database.Capture, filtered int) *database.ScrubberOutput {
	return &database.ScrubberOutput{
		ID:            uuid.New().String(),
		CaptureID:     capture.ID,
		SourceFeed:    capture.SourceFeed,
		ItemsFiltered: filtered,
		CreatedAt:     time.Now().UTC(),
	}
}

// persist writes the output and marks consumed items. A duplicate output
// for the capture means a previous attempt already succeeded; that is
// treated as success so retried captures stay idempotent.
func (s *Scrubber) persist(capture *database.Capture, output *database.ScrubberOutput, items []database.SignalItem) error {
	if err := s.store.SaveScrubberOutput(output); err != nil {
		if database.IsAlreadyExists(err) {
			log.Printf("🔄 Capture %s already has a scrubber output, skipping write", capture.ID)
		} else {
			return fmt.Errorf("save scrubber output: %w", err)
		}
	}

	if len(items) == 0 {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if err := s.store.MarkItemsProcessed(capture.ID, ids); err != nil {
		return fmt.Errorf("mark items processed: %w", err)
	}
	return nil
}

// MergeEntities collapses mentions of the same entity (case-folded name)
// into one record: counts are summed, the friction flag is OR-ed, and
// context, category, and display name come from the occurrence with the
// highest individual count, first occurrence winning ties. Sentiment is
// the mention-weighted mean. Output order is deterministic: by merged
// count descending, then name.
func MergeEntities(entities []database.EntityMention) []database.EntityMention {
	type acc struct {
		merged       database.EntityMention
		topCount     int
		sentimentSum float64
		weight       int
	}

	byKey := make(map[string]*acc)
	order := make([]string, 0, len(entities))
	for _, e := range entities {
		if e.MentionCount <= 0 {
			e.MentionCount = 1
		}
		key := strings.ToLower(strings.TrimSpace(e.Name))
		if key == "" {
			continue
		}
		a, ok := byKey[key]
		if !ok {
			byKey[key] = &acc{
				merged:       e,
				topCount:     e.MentionCount,
				sentimentSum: e.Sentiment * float64(e.MentionCount),
				weight:       e.MentionCount,
			}
			order = append(order, key)
			continue
		}
		a.merged.MentionCount += e.MentionCount
		a.merged.FrictionSignal = a.merged.FrictionSignal || e.FrictionSignal
		a.sentimentSum += e.Sentiment * float64(e.MentionCount)
		a.weight += e.MentionCount
		if e.MentionCount > a.topCount {
			a.topCount = e.MentionCount
			a.merged.Name = e.Name
			a.merged.Category = e.Category
			a.merged.MentionContext = e.MentionContext
		}
	}

	merged := make([]database.EntityMention, 0, len(byKey))
	for _, key := range order {
		a := byKey[key]
		if a.weight > 0 {
			a.merged.Sentiment = a.sentimentSum / float64(a.weight)
		}
		merged = append(merged, a.merged)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].MentionCount != merged[j].MentionCount {
			return merged[i].MentionCount > merged[j].MentionCount
		}
		return merged[i].Name < merged[j].Name
	})
	return merged
}
