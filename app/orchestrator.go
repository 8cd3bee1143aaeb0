package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"signal-scout/cache"
	"signal-scout/config"
	"signal-scout/database"
)

// ErrPipelineBusy is returned when another run holds the pipeline lock.
var ErrPipelineBusy = database.ErrPipelineBusy

const synthesisCooldownTTL = 6 * time.Hour

// OrchestratorStore is the persistence surface the orchestrator itself
// needs; the stage components carry their own narrower interfaces.
type OrchestratorStore interface {
	AcquireLock(runID string) error
	ReleaseLock() error
	CreateRun(run *database.PipelineRun) error
	FinalizeRun(run *database.PipelineRun) error
	GetPendingCaptures(limit int) ([]database.Capture, error)
	GetCapture(id string) (*database.Capture, error)
	UpdateCaptureStatus(id, status string) error
	ListOutputsSince(since time.Time, cursorID string, limit int) ([]database.ScrubberOutput, error)
	GetRecentSignals(limit int) ([]database.Signal, error)
	SaveSignals(signals []database.Signal) error
}

// SynthesisCooldowns suppresses repeat briefs for an entity set that
// was briefed recently; satisfied by cache.ExtractionCache.
type SynthesisCooldowns interface {
	InSynthesisCooldown(ctx context.Context, entityHash string) bool
	SetSynthesisCooldown(ctx context.Context, entityHash string, ttl time.Duration) error
}

// EventSink receives pipeline lifecycle events for realtime fan-out.
type EventSink interface {
	Publish(event string, payload interface{})
}

// Orchestrator drives one full pipeline run: scrub pending captures,
// update baselines and detect signals, synthesize briefs. It is the
// single writer; mutual exclusion across processes comes from the
// create-if-absent lock row, acquired before any stage and always
// released, including on panic.
type Orchestrator struct {
	store      OrchestratorStore
	scrubber   *Scrubber
	baselines  *BaselineTracker
	delta      *DeltaEngine
	strategist *Strategist
	cooldowns  SynthesisCooldowns
	cfg        config.PipelineConfig

	events  EventSink                               // optional
	onBrief func(brief *database.OpportunityBrief) // optional

	now func() time.Time
}

func NewOrchestrator(store OrchestratorStore, scrubber *Scrubber, baselines *BaselineTracker, delta *DeltaEngine, strategist *Strategist, cooldowns SynthesisCooldowns, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		store:      store,
		scrubber:   scrubber,
		baselines:  baselines,
		delta:      delta,
		strategist: strategist,
		cooldowns:  cooldowns,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetEventSink wires an optional realtime event receiver.
func (o *Orchestrator) SetEventSink(sink EventSink) { o.events = sink }

// SetBriefCallback wires an optional per-brief hook (webhook delivery).
func (o *Orchestrator) SetBriefCallback(fn func(brief *database.OpportunityBrief)) { o.onBrief = fn }

// Run executes one pipeline pass. Returns ErrPipelineBusy without side
// effects when another run holds the lock. The run record is finalized
// exactly once, and the lock is released even when a stage panics.
func (o *Orchestrator) Run(ctx context.Context) (*database.PipelineRun, error) {
	runID := uuid.New().String()
	if err := o.store.AcquireLock(runID); err != nil {
		if database.IsAlreadyExists(err) {
			return nil, ErrPipelineBusy
		}
		return nil, fmt.Errorf("acquire pipeline lock: %w", err)
	}

	start := o.now().UTC()
	run := &database.PipelineRun{ID: runID, StartedAt: start, Status: database.RunStatusRunning}
	if err := o.store.CreateRun(run); err != nil {
		bestEffort("release pipeline lock", o.store.ReleaseLock)
		return nil, fmt.Errorf("create run record: %w", err)
	}

	log.Printf("🚀 Pipeline run %s started", runID)
	o.publish("run_started", run)

	fatal := o.runStages(ctx, run)

	bestEffort("release pipeline lock", o.store.ReleaseLock)

	end := o.now().UTC()
	run.EndedAt = &end
	if fatal != nil {
		run.Status = database.RunStatusFailed
		run.Errors = append(run.Errors, database.RunError{
			Stage:   "orchestrator",
			Message: fatal.Error(),
			At:      end,
		})
		log.Printf("❌ Pipeline run %s failed after %s: %v", runID, end.Sub(start).Round(time.Millisecond), fatal)
	} else {
		run.Status = database.RunStatusCompleted
		log.Printf("🏁 Pipeline run %s completed in %s: %d captures, %d signals (%d qualifying), %d briefs",
			runID, end.Sub(start).Round(time.Millisecond),
			run.CapturesProcessed, run.SignalsDetected, run.SignalsQualified, run.BriefsCreated)
	}
	bestEffort("finalize run record", func() error { return o.store.FinalizeRun(run) })
	o.publish("run_finished", run)

	if fatal != nil {
		return run, fatal
	}
	return run, nil
}

// runStages executes the three stages, converting a panic anywhere in
// them into an error so the caller's lock release and run finalization
// still happen.
func (o *Orchestrator) runStages(ctx context.Context, run *database.PipelineRun) (fatal error) {
	defer func() {
		if r := recover(); r != nil {
			fatal = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	if err := o.stageScrub(ctx, run); err != nil {
		return err
	}
	outputs, detection, baselines, stats, err := o.stageDetect(run)
	if err != nil {
		return err
	}
	return o.stageSynthesize(ctx, run, outputs, detection, baselines, stats)
}

type scrubOutcome struct {
	capture string
	result  *ScrubResult
	err     error
}

// stageScrub pulls pending captures in pages and scrubs them with
// bounded concurrency. Per-capture failures mark the capture failed and
// are collected; they do not abort the stage.
func (o *Orchestrator) stageScrub(ctx context.Context, run *database.PipelineRun) error {
	for {
		captures, err := o.store.GetPendingCaptures(o.cfg.CapturePageSize)
		if err != nil {
			return fmt.Errorf("list pending captures: %w", err)
		}
		if len(captures) == 0 {
			return nil
		}

		outcomes := make([]scrubOutcome, len(captures))
		sem := make(chan struct{}, o.cfg.ScrubConcurrency)
		var wg sync.WaitGroup
		for i := range captures {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				outcomes[index] = o.scrubOne(ctx, &captures[index])
			}(i)
		}
		wg.Wait()

		for _, out := range outcomes {
			if out.err != nil {
				run.CapturesFailed++
				run.Errors = append(run.Errors, database.RunError{
					Stage: "scrub", Ref: out.capture, Message: out.err.Error(), At: o.now().UTC(),
				})
				continue
			}
			run.CapturesProcessed++
			run.ItemsFiltered += out.result.ItemsFiltered
			run.ItemsScrubbed += out.result.ItemsScrubbed
			run.TokensUsed += out.result.TokensUsed
			if out.result.Output != nil {
				run.EntitiesExtracted += len(out.result.Output.Entities)
			}
			for _, batchErr := range out.result.BatchErrors {
				run.Errors = append(run.Errors, database.RunError{
					Stage: "scrub", Ref: out.capture, Message: batchErr.Error(), At: o.now().UTC(),
				})
			}
		}

		if len(captures) < o.cfg.CapturePageSize {
			return nil
		}
	}
}

func (o *Orchestrator) scrubOne(ctx context.Context, capture *database.Capture) scrubOutcome {
	out := scrubOutcome{capture: capture.ID}
	if err := o.store.UpdateCaptureStatus(capture.ID, database.CaptureStatusProcessing); err != nil {
		out.err = fmt.Errorf("mark processing: %w", err)
		return out
	}

	result, err := o.scrubber.Scrub(ctx, capture)
	if err != nil {
		bestEffort("mark capture failed", func() error {
			return o.store.UpdateCaptureStatus(capture.ID, database.CaptureStatusFailed)
		})
		out.err = err
		return out
	}
	if err := o.store.UpdateCaptureStatus(capture.ID, database.CaptureStatusProcessed); err != nil {
		out.err = fmt.Errorf("mark processed: %w", err)
		return out
	}
	out.result = result
	return out
}

// stageDetect aggregates the trailing window of scrubber outputs,
// updates baselines, and runs the delta engine against the pre-update
// baselines and recent prior signals. Qualifying signals are persisted.
func (o *Orchestrator) stageDetect(run *database.PipelineRun) ([]database.ScrubberOutput, Detection, map[string]*database.EntityBaseline, map[string]*EntityToday, error) {
	since := o.now().UTC().Add(-time.Duration(o.cfg.LookbackHours) * time.Hour)
	outputs, err := o.collectOutputs(since)
	if err != nil {
		return nil, Detection{}, nil, nil, err
	}

	stats := o.baselines.Aggregate(outputs)
	updated, prior, err := o.baselines.Update(stats)
	run.BaselinesUpdated = updated
	if err != nil {
		return nil, Detection{}, nil, nil, fmt.Errorf("update baselines: %w", err)
	}

	priorSignals, err := o.store.GetRecentSignals(o.cfg.PriorSignalLimit)
	if err != nil {
		return nil, Detection{}, nil, nil, fmt.Errorf("load prior signals: %w", err)
	}

	detection := o.delta.Detect(stats, prior, priorSignals, outputs)
	run.SignalsDetected = len(detection.Signals)
	run.SignalsQualified = len(detection.Qualifying)

	if len(detection.Qualifying) > 0 {
		if err := o.store.SaveSignals(detection.Qualifying); err != nil {
			return nil, Detection{}, nil, nil, fmt.Errorf("persist signals: %w", err)
		}
	}
	return outputs, detection, prior, stats, nil
}

func (o *Orchestrator) collectOutputs(since time.Time) ([]database.ScrubberOutput, error) {
	var outputs []database.ScrubberOutput
	cursor := ""
	for {
		page, err := o.store.ListOutputsSince(since, cursor, o.cfg.OutputPageSize)
		if err != nil {
			return nil, fmt.Errorf("list scrubber outputs: %w", err)
		}
		outputs = append(outputs, page...)
		if len(page) < o.cfg.OutputPageSize {
			return outputs, nil
		}
		cursor = page[len(page)-1].ID
	}
}

type synthOutcome struct {
	signal  string
	brief   *database.OpportunityBrief
	tokens  int
	skipped bool
	err     error
}

// stageSynthesize fans qualifying signals out to the strategist with
// bounded concurrency and settles them all; a failed signal is recorded
// and skipped, never retried within the run.
func (o *Orchestrator) stageSynthesize(ctx context.Context, run *database.PipelineRun, outputs []database.ScrubberOutput, detection Detection, baselines map[string]*database.EntityBaseline, stats map[string]*EntityToday) error {
	if len(detection.Qualifying) == 0 {
		return nil
	}

	items := o.resolveItems(outputs)

	outcomes := make([]synthOutcome, len(detection.Qualifying))
	sem := make(chan struct{}, o.cfg.SynthConcurrency)
	var wg sync.WaitGroup
	for i := range detection.Qualifying {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[index] = o.synthesizeOne(ctx, &detection.Qualifying[index], baselines, outputs, items, stats)
		}(i)
	}
	wg.Wait()

	for _, out := range outcomes {
		run.TokensUsed += out.tokens
		if out.err != nil {
			run.BriefsFailed++
			run.Errors = append(run.Errors, database.RunError{
				Stage: "synthesize", Ref: out.signal, Message: out.err.Error(), At: o.now().UTC(),
			})
			continue
		}
		if out.skipped {
			run.BriefsSkipped++
			continue
		}
		run.BriefsCreated++
		o.publish("brief_created", out.brief)
		if o.onBrief != nil {
			o.onBrief(out.brief)
		}
	}
	return nil
}

func (o *Orchestrator) synthesizeOne(ctx context.Context, signal *database.Signal, baselines map[string]*database.EntityBaseline, outputs []database.ScrubberOutput, items map[string]database.SignalItem, stats map[string]*EntityToday) synthOutcome {
	out := synthOutcome{signal: signal.ID}

	cooldownKey := cache.BatchHash(signal.Entities)
	if o.cooldowns != nil && o.cooldowns.InSynthesisCooldown(ctx, cooldownKey) {
		log.Printf("😴 Skipping synthesis for %s: entity set briefed recently", DescribeSignal(signal))
		out.skipped = true
		return out
	}

	brief, usage, err := o.strategist.Synthesize(ctx, signal, baselines, outputs, items, stats)
	out.tokens = usage.TotalTokens
	if err != nil {
		out.err = err
		return out
	}
	out.brief = brief

	if o.cooldowns != nil {
		bestEffort("set synthesis cooldown", func() error {
			return o.cooldowns.SetSynthesisCooldown(ctx, cooldownKey, synthesisCooldownTTL)
		})
	}
	return out
}

// resolveItems builds an item-id index over the captures referenced by
// the window's outputs so evidence ids can be quoted back to source.
// Unresolvable captures degrade to insight-only snippets.
func (o *Orchestrator) resolveItems(outputs []database.ScrubberOutput) map[string]database.SignalItem {
	items := make(map[string]database.SignalItem)
	seen := make(map[string]bool)
	for i := range outputs {
		captureID := outputs[i].CaptureID
		if seen[captureID] {
			continue
		}
		seen[captureID] = true
		capture, err := o.store.GetCapture(captureID)
		if err != nil {
			if !database.IsNotFound(err) {
				log.Printf("⚠️  Could not resolve capture %s for evidence: %v", captureID, err)
			}
			continue
		}
		for _, item := range capture.Signals {
			items[item.ID] = item
		}
	}
	return items
}

func (o *Orchestrator) publish(event string, payload interface{}) {
	if o.events != nil {
		o.events.Publish(event, payload)
	}
}
