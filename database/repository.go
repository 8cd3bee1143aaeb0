package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrBulkWriteFailure is returned when more than half of a bulk write
// batch fails. Partial loss beyond that ratio is treated as fatal rather
// than silently accepted.
var ErrBulkWriteFailure = errors.New("bulk write majority failure")

// bulkWriteTripped reports whether a bulk write crossed the breaker
// threshold: strictly more than half of the batch failed. Exactly half
// still passes.
func bulkWriteTripped(failed, total int) bool {
	return total > 0 && failed*2 > total
}

// PipelineRepository handles database operations for the signal pipeline
type PipelineRepository struct {
	db *Database
}

// NewPipelineRepository creates a new pipeline repository
func NewPipelineRepository(db *Database) *PipelineRepository {
	return &PipelineRepository{db: db}
}

// InitSchema performs auto-migration for all pipeline tables
func (r *PipelineRepository) InitSchema() error {
	fmt.Println("🔄 Starting database schema initialization...")

	err := r.db.db.AutoMigrate(
		&Capture{},
		&IngestNonce{},
		&ProcessedItem{},
		&ScrubberOutput{},
		&EntityBaseline{},
		&Signal{},
		&OpportunityBrief{},
		&PipelineRun{},
		&PipelineLock{},
		&BriefWebhook{},
		&BriefWebhookLog{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	fmt.Println("✅ Database schema initialized")
	return nil
}

// ============================================================================
// Captures
// ============================================================================

// CreateCaptureIfAbsent persists a new capture. If a capture with the
// same id already exists the insert fails on the primary key and an
// AlreadyExistsError is returned; the caller treats that as an
// idempotent replay.
func (r *PipelineRepository) CreateCaptureIfAbsent(capture *Capture) error {
	if err := r.db.db.Create(capture).Error; err != nil {
		if IsAlreadyExists(err) {
			return &AlreadyExistsError{Resource: "capture", ID: capture.ID}
		}
		return WrapDBError("CreateCaptureIfAbsent", err)
	}
	return nil
}

// GetCapture loads a capture by id
func (r *PipelineRepository) GetCapture(id string) (*Capture, error) {
	var capture Capture
	if err := r.db.db.First(&capture, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundErrorWithID("capture", id)
		}
		return nil, WrapDBError("GetCapture", err)
	}
	return &capture, nil
}

// GetLatestCaptureForFeed returns the most recent capture stored for a
// source feed, or a NotFoundError if the feed has never submitted.
func (r *PipelineRepository) GetLatestCaptureForFeed(sourceFeed string) (*Capture, error) {
	var capture Capture
	err := r.db.db.
		Where("source_feed = ?", sourceFeed).
		Order("created_at DESC").
		First(&capture).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundErrorWithID("capture", sourceFeed)
		}
		return nil, WrapDBError("GetLatestCaptureForFeed", err)
	}
	return &capture, nil
}

// GetPendingCaptures returns up to limit captures awaiting scrubbing,
// oldest first.
func (r *PipelineRepository) GetPendingCaptures(limit int) ([]Capture, error) {
	var captures []Capture
	err := r.db.db.
		Where("status = ?", "pending").
		Order("created_at ASC").
		Limit(limit).
		Find(&captures).Error
	if err != nil {
		return nil, WrapDBError("GetPendingCaptures", err)
	}
	return captures, nil
}

// UpdateCaptureStatus transitions a capture's processing status
func (r *PipelineRepository) UpdateCaptureStatus(id, status string) error {
	err := r.db.db.Model(&Capture{}).
		Where("id = ?", id).
		Update("status", status).Error
	return WrapDBError("UpdateCaptureStatus", err)
}

// ============================================================================
// Nonces
// ============================================================================

// CreateNonceIfAbsent records an ingest nonce. A duplicate value means
// the request is a replay and an AlreadyExistsError is returned.
func (r *PipelineRepository) CreateNonceIfAbsent(value string, seenAt time.Time) error {
	nonce := IngestNonce{Value: value, SeenAt: seenAt}
	if err := r.db.db.Create(&nonce).Error; err != nil {
		if IsAlreadyExists(err) {
			return &AlreadyExistsError{Resource: "nonce", ID: value}
		}
		return WrapDBError("CreateNonceIfAbsent", err)
	}
	return nil
}

// DeleteNoncesBefore removes nonce records seen before the cutoff.
// Returns the number of rows removed.
func (r *PipelineRepository) DeleteNoncesBefore(cutoff time.Time) (int64, error) {
	res := r.db.db.Where("seen_at < ?", cutoff).Delete(&IngestNonce{})
	if res.Error != nil {
		return 0, WrapDBError("DeleteNoncesBefore", res.Error)
	}
	return res.RowsAffected, nil
}

// ============================================================================
// Processed items
// ============================================================================

// GetProcessedItemIDs returns which of the given item ids have already
// been consumed by the scrubber.
func (r *PipelineRepository) GetProcessedItemIDs(itemIDs []string) (map[string]bool, error) {
	if len(itemIDs) == 0 {
		return map[string]bool{}, nil
	}

	var ids []string
	err := r.db.db.Model(&ProcessedItem{}).
		Where("item_id IN ?", itemIDs).
		Pluck("item_id", &ids).Error
	if err != nil {
		return nil, WrapDBError("GetProcessedItemIDs", err)
	}

	processed := make(map[string]bool, len(ids))
	for _, id := range ids {
		processed[id] = true
	}
	return processed, nil
}

// MarkItemsProcessed inserts processed-item marks for a capture.
// Already-processed ids are tolerated (conflict ignored), and the
// failure-ratio circuit breaker trips if more than half of the writes
// fail for other reasons.
func (r *PipelineRepository) MarkItemsProcessed(captureID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	failed := 0
	for _, id := range itemIDs {
		item := ProcessedItem{ItemID: id, CaptureID: captureID, ProcessedAt: now}
		err := r.db.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&item).Error
		if err != nil && !IsAlreadyExists(err) {
			failed++
		}
	}

	if bulkWriteTripped(failed, len(itemIDs)) {
		return fmt.Errorf("%w: %d of %d processed-item marks failed", ErrBulkWriteFailure, failed, len(itemIDs))
	}
	return nil
}

// ============================================================================
// Scrubber outputs
// ============================================================================

// SaveScrubberOutput persists one scrubber output. The capture id is
// unique, so a re-scrubbed capture surfaces an AlreadyExistsError that
// callers treat as idempotent success.
func (r *PipelineRepository) SaveScrubberOutput(output *ScrubberOutput) error {
	if err := r.db.db.Create(output).Error; err != nil {
		if IsAlreadyExists(err) {
			return &AlreadyExistsError{Resource: "scrubber output", ID: output.CaptureID}
		}
		return WrapDBError("SaveScrubberOutput", err)
	}
	return nil
}

// ListOutputsSince returns scrubber outputs created at or after since,
// keyset-paginated by id. Pass an empty cursor for the first page; a
// page shorter than limit signals exhaustion.
func (r *PipelineRepository) ListOutputsSince(since time.Time, cursorID string, limit int) ([]ScrubberOutput, error) {
	var outputs []ScrubberOutput
	q := r.db.db.Where("created_at >= ?", since)
	if cursorID != "" {
		q = q.Where("id > ?", cursorID)
	}
	err := q.Order("id ASC").Limit(limit).Find(&outputs).Error
	if err != nil {
		return nil, WrapDBError("ListOutputsSince", err)
	}
	return outputs, nil
}

// ============================================================================
// Entity baselines
// ============================================================================

// GetBaseline loads one entity baseline by its case-folded key
func (r *PipelineRepository) GetBaseline(entityKey string) (*EntityBaseline, error) {
	var baseline EntityBaseline
	if err := r.db.db.First(&baseline, "entity_key = ?", entityKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundErrorWithID("baseline", entityKey)
		}
		return nil, WrapDBError("GetBaseline", err)
	}
	return &baseline, nil
}

// GetBaselines loads baselines for a set of entity keys. Missing
// entities are simply absent from the result.
func (r *PipelineRepository) GetBaselines(entityKeys []string) ([]EntityBaseline, error) {
	if len(entityKeys) == 0 {
		return nil, nil
	}
	var baselines []EntityBaseline
	err := r.db.db.Where("entity_key IN ?", entityKeys).Find(&baselines).Error
	if err != nil {
		return nil, WrapDBError("GetBaselines", err)
	}
	return baselines, nil
}

// SaveBaseline upserts an entity baseline (create on first observation,
// full update afterwards).
func (r *PipelineRepository) SaveBaseline(baseline *EntityBaseline) error {
	err := r.db.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_key"}},
		UpdateAll: true,
	}).Create(baseline).Error
	return WrapDBError("SaveBaseline", err)
}

// ListBaselines returns baselines ordered by mention volume
func (r *PipelineRepository) ListBaselines(limit, offset int) ([]EntityBaseline, error) {
	var baselines []EntityBaseline
	err := r.db.db.
		Order("avg_mentions DESC").
		Limit(limit).
		Offset(offset).
		Find(&baselines).Error
	if err != nil {
		return nil, WrapDBError("ListBaselines", err)
	}
	return baselines, nil
}

// ============================================================================
// Signals
// ============================================================================

// SaveSignals persists detected signals with the failure-ratio circuit
// breaker: more than half failing is escalated as fatal.
func (r *PipelineRepository) SaveSignals(signals []Signal) error {
	if len(signals) == 0 {
		return nil
	}

	failed := 0
	var lastErr error
	for i := range signals {
		if err := r.db.db.Create(&signals[i]).Error; err != nil {
			failed++
			lastErr = err
		}
	}

	if bulkWriteTripped(failed, len(signals)) {
		return fmt.Errorf("%w: %d of %d signals failed: %v", ErrBulkWriteFailure, failed, len(signals), lastErr)
	}
	return nil
}

// GetRecentSignals returns the most recent signals, newest first
func (r *PipelineRepository) GetRecentSignals(limit int) ([]Signal, error) {
	var signals []Signal
	err := r.db.db.
		Order("detected_at DESC").
		Limit(limit).
		Find(&signals).Error
	if err != nil {
		return nil, WrapDBError("GetRecentSignals", err)
	}
	return signals, nil
}

// ListSignals returns signals filtered by type and minimum strength
func (r *PipelineRepository) ListSignals(signalType string, minStrength float64, limit, offset int) ([]Signal, error) {
	q := r.db.db.Model(&Signal{})
	if signalType != "" {
		q = q.Where("type = ?", signalType)
	}
	if minStrength > 0 {
		q = q.Where("strength >= ?", minStrength)
	}

	var signals []Signal
	err := q.Order("detected_at DESC").Limit(limit).Offset(offset).Find(&signals).Error
	if err != nil {
		return nil, WrapDBError("ListSignals", err)
	}
	return signals, nil
}

// GetSignal loads one signal by id
func (r *PipelineRepository) GetSignal(id string) (*Signal, error) {
	var signal Signal
	if err := r.db.db.First(&signal, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundErrorWithID("signal", id)
		}
		return nil, WrapDBError("GetSignal", err)
	}
	return &signal, nil
}

// ============================================================================
// Opportunity briefs
// ============================================================================

// SaveBrief persists a newly synthesized opportunity brief
func (r *PipelineRepository) SaveBrief(brief *OpportunityBrief) error {
	return WrapDBError("SaveBrief", r.db.db.Create(brief).Error)
}

// GetBrief loads one brief by id
func (r *PipelineRepository) GetBrief(id string) (*OpportunityBrief, error) {
	var brief OpportunityBrief
	if err := r.db.db.First(&brief, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundErrorWithID("brief", id)
		}
		return nil, WrapDBError("GetBrief", err)
	}
	return &brief, nil
}

// ListBriefs returns briefs ordered by freshness then recency
func (r *PipelineRepository) ListBriefs(status string, limit, offset int) ([]OpportunityBrief, error) {
	q := r.db.db.Model(&OpportunityBrief{})
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var briefs []OpportunityBrief
	err := q.
		Order("freshness_score DESC, created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&briefs).Error
	if err != nil {
		return nil, WrapDBError("ListBriefs", err)
	}
	return briefs, nil
}

// ListActiveBriefsPage returns non-archived briefs keyset-paginated by
// id for the freshness maintenance sweep. A short page signals the end.
func (r *PipelineRepository) ListActiveBriefsPage(cursorID string, limit int) ([]OpportunityBrief, error) {
	q := r.db.db.Where("status <> ?", "archived")
	if cursorID != "" {
		q = q.Where("id > ?", cursorID)
	}

	var briefs []OpportunityBrief
	err := q.Order("id ASC").Limit(limit).Find(&briefs).Error
	if err != nil {
		return nil, WrapDBError("ListActiveBriefsPage", err)
	}
	return briefs, nil
}

// UpdateBriefFreshness applies the freshness decay result to one brief
func (r *PipelineRepository) UpdateBriefFreshness(id, status string, score float64) error {
	err := r.db.db.Model(&OpportunityBrief{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          status,
			"freshness_score": score,
		}).Error
	return WrapDBError("UpdateBriefFreshness", err)
}

// ============================================================================
// Pipeline runs
// ============================================================================

// CreateRun persists a new run record with status running
func (r *PipelineRepository) CreateRun(run *PipelineRun) error {
	return WrapDBError("CreateRun", r.db.db.Create(run).Error)
}

// FinalizeRun writes the finished run record (status, counters, errors)
func (r *PipelineRepository) FinalizeRun(run *PipelineRun) error {
	return WrapDBError("FinalizeRun", r.db.db.Save(run).Error)
}

// GetRun loads one run by id
func (r *PipelineRepository) GetRun(id string) (*PipelineRun, error) {
	var run PipelineRun
	if err := r.db.db.First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundErrorWithID("pipeline run", id)
		}
		return nil, WrapDBError("GetRun", err)
	}
	return &run, nil
}

// ListRuns returns recent run records, newest first
func (r *PipelineRepository) ListRuns(limit, offset int) ([]PipelineRun, error) {
	var runs []PipelineRun
	err := r.db.db.
		Order("started_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	if err != nil {
		return nil, WrapDBError("ListRuns", err)
	}
	return runs, nil
}

// ============================================================================
// Pipeline lock
// ============================================================================

// AcquireLock creates the singleton lock row. An AlreadyExistsError
// means another run is active; the caller must not queue or retry.
func (r *PipelineRepository) AcquireLock(runID string) error {
	lock := PipelineLock{
		ID:         "pipeline",
		RunID:      runID,
		AcquiredAt: time.Now().UTC(),
	}
	if err := r.db.db.Create(&lock).Error; err != nil {
		if IsAlreadyExists(err) {
			return &AlreadyExistsError{Resource: "pipeline lock", ID: lock.ID}
		}
		return WrapDBError("AcquireLock", err)
	}
	return nil
}

// ReleaseLock deletes the singleton lock row. Deleting an absent lock is
// not an error.
func (r *PipelineRepository) ReleaseLock() error {
	err := r.db.db.Delete(&PipelineLock{}, "id = ?", "pipeline").Error
	return WrapDBError("ReleaseLock", err)
}

// ============================================================================
// Webhooks
// ============================================================================

// GetActiveWebhooks returns all enabled brief webhooks
func (r *PipelineRepository) GetActiveWebhooks() ([]BriefWebhook, error) {
	var hooks []BriefWebhook
	err := r.db.db.Where("enabled = ?", true).Find(&hooks).Error
	if err != nil {
		return nil, WrapDBError("GetActiveWebhooks", err)
	}
	return hooks, nil
}

// GetWebhooks returns all configured webhooks
func (r *PipelineRepository) GetWebhooks() ([]BriefWebhook, error) {
	var hooks []BriefWebhook
	err := r.db.db.Order("id ASC").Find(&hooks).Error
	if err != nil {
		return nil, WrapDBError("GetWebhooks", err)
	}
	return hooks, nil
}

// GetWebhookByID loads one webhook
func (r *PipelineRepository) GetWebhookByID(id int64) (*BriefWebhook, error) {
	var hook BriefWebhook
	if err := r.db.db.First(&hook, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundErrorWithID("webhook", id)
		}
		return nil, WrapDBError("GetWebhookByID", err)
	}
	return &hook, nil
}

// SaveWebhook creates or updates a webhook configuration
func (r *PipelineRepository) SaveWebhook(hook *BriefWebhook) error {
	return WrapDBError("SaveWebhook", r.db.db.Save(hook).Error)
}

// DeleteWebhook removes a webhook configuration
func (r *PipelineRepository) DeleteWebhook(id int64) error {
	res := r.db.db.Delete(&BriefWebhook{}, "id = ?", id)
	if res.Error != nil {
		return WrapDBError("DeleteWebhook", res.Error)
	}
	if res.RowsAffected == 0 {
		return NewNotFoundErrorWithID("webhook", id)
	}
	return nil
}

// SaveWebhookLog records one delivery attempt
func (r *PipelineRepository) SaveWebhookLog(logEntry *BriefWebhookLog) error {
	return WrapDBError("SaveWebhookLog", r.db.db.Create(logEntry).Error)
}
