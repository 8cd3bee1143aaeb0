package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Capture processing statuses.
const (
	CaptureStatusPending    = "pending"
	CaptureStatusProcessing = "processing"
	CaptureStatusProcessed  = "processed"
	CaptureStatusFailed     = "failed"
)

// Signal types emitted by the delta engine.
const (
	SignalTypeVelocitySpike   = "velocity_spike"
	SignalTypeSentimentFlip   = "sentiment_flip"
	SignalTypeFrictionCluster = "friction_cluster"
	SignalTypeNewEmergence    = "new_emergence"
)

// Signal directions relative to the entity's most recent prior signal.
const (
	DirectionNew          = "new"
	DirectionAccelerating = "accelerating"
	DirectionDecelerating = "decelerating"
)

// Opportunity brief lifecycle statuses.
const (
	BriefStatusFresh    = "fresh"
	BriefStatusWarm     = "warm"
	BriefStatusCold     = "cold"
	BriefStatusArchived = "archived"
)

// Pipeline run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Capture represents one authenticated batch submission of raw signal items.
// The capture id is client-supplied and acts as the idempotency key: the
// primary key constraint gives create-if-absent semantics, so a legitimate
// retry of the same capture is a no-op.
//
// Status is the only field mutated after creation
// (pending → processing → processed|failed). Captures are never deleted.
type Capture struct {
	ID           string         `gorm:"size:64;primaryKey" json:"id"`
	SourceFeed   string         `gorm:"size:128;index;not null" json:"source_feed"`
	SourceType   string         `gorm:"size:32;not null" json:"source_type"`
	CapturedAt   time.Time      `gorm:"index;not null" json:"captured_at"`
	AgentVersion string         `gorm:"size:32" json:"agent_version"`
	Signals      SignalItemList `gorm:"type:jsonb;not null" json:"signals"`
	Metadata     MetadataMap    `gorm:"type:jsonb" json:"metadata,omitempty"`
	ItemCount    int            `gorm:"not null" json:"item_count"`
	Status       string         `gorm:"size:16;index;not null;default:pending" json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName specifies the table name for Capture
func (Capture) TableName() string {
	return "captures"
}

// IngestNonce is a replay-protection record. Inserting a duplicate value
// fails on the primary key, which is how a replayed request is detected.
// The maintenance job sweeps nonces older than the tolerance window.
type IngestNonce struct {
	Value  string    `gorm:"size:64;primaryKey" json:"value"`
	SeenAt time.Time `gorm:"index;not null" json:"seen_at"`
}

// TableName specifies the table name for IngestNonce
func (IngestNonce) TableName() string {
	return "ingest_nonces"
}

// ProcessedItem marks a signal item as consumed by the scrubber so a
// re-scrubbed capture does not double-count it.
type ProcessedItem struct {
	ItemID      string    `gorm:"size:128;primaryKey" json:"item_id"`
	CaptureID   string    `gorm:"size:64;index;not null" json:"capture_id"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}

// TableName specifies the table name for ProcessedItem
func (ProcessedItem) TableName() string {
	return "processed_items"
}

// EntityMention is one deduplicated entity extracted from a capture.
// Mentions of the same case-folded name are merged: counts summed,
// friction flag OR-ed, context taken from the highest-count occurrence.
type EntityMention struct {
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	Sentiment      float64 `json:"sentiment"`
	MentionContext string  `json:"mention_context"`
	FrictionSignal bool    `json:"friction_signal"`
	MentionCount   int     `json:"mention_count"`
}

// FrictionPoint is a concrete pain point extracted from signal items.
type FrictionPoint struct {
	Entity    string   `json:"entity"`
	Signal    string   `json:"signal"`
	SourceIDs []string `json:"source_ids"`
	Severity  float64  `json:"severity"`
}

// NotableItem flags a single source item worth keeping as evidence.
type NotableItem struct {
	ItemID    string  `json:"item_id"`
	Relevance float64 `json:"relevance"`
	Insight   string  `json:"insight"`
}

// ScrubberOutput is the structured result of scrubbing one capture.
// Immutable once written; one row per capture.
type ScrubberOutput struct {
	ID             string            `gorm:"size:64;primaryKey" json:"id"`
	CaptureID      string            `gorm:"size:64;uniqueIndex;not null" json:"capture_id"`
	SourceFeed     string            `gorm:"size:128" json:"source_feed"`
	Entities       EntityMentionList `gorm:"type:jsonb" json:"entities"`
	FrictionPoints FrictionPointList `gorm:"type:jsonb" json:"friction_points"`
	NotableItems   NotableItemList   `gorm:"type:jsonb" json:"notable_items"`
	ItemsScrubbed  int               `json:"items_scrubbed"`
	ItemsFiltered  int               `json:"items_filtered"`
	TokensUsed     int               `json:"tokens_used"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for ScrubberOutput
func (ScrubberOutput) TableName() string {
	return "scrubber_outputs"
}

// BaselineSnapshot is one day of observed entity activity.
type BaselineSnapshot struct {
	Date         string  `json:"date"` // YYYY-MM-DD
	Mentions     int     `json:"mentions"`
	Sentiment    float64 `json:"sentiment"`
	FrictionRate float64 `json:"friction_rate"`
}

// EntityBaseline holds an entity's rolling history. Keyed by the
// case-folded entity name. Snapshots are newest-first, deduplicated by
// date, and capped at BaselineWindowDays entries; the three averages are
// simple means over the retained window. Updated at most once per day,
// never deleted, and never decayed by absence.
type EntityBaseline struct {
	EntityKey      string       `gorm:"size:256;primaryKey" json:"entity_key"`
	Category       string       `gorm:"size:64" json:"category"`
	AvgMentions    float64      `json:"avg_mentions_per_day"`
	AvgSentiment   float64      `json:"avg_sentiment"`
	AvgFriction    float64      `json:"avg_friction_rate"`
	Snapshots      SnapshotList `gorm:"type:jsonb" json:"snapshots"`
	FirstSeen      time.Time    `json:"first_seen"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// BaselineWindowDays is the maximum number of daily snapshots retained
// per entity baseline.
const BaselineWindowDays = 7

// MatureSnapshotCount is the minimum snapshot count before deviation
// thresholds apply; below it the delta engine uses cold-start thresholds.
const MatureSnapshotCount = 3

// TableName specifies the table name for EntityBaseline
func (EntityBaseline) TableName() string {
	return "entity_baselines"
}

// Signal is one detected anomaly or friction cluster. Immutable.
type Signal struct {
	ID              string     `gorm:"size:64;primaryKey" json:"id"`
	Type            string     `gorm:"size:32;index;not null" json:"type"`
	Entities        StringList `gorm:"type:jsonb;not null" json:"entities"`
	Strength        float64    `gorm:"index" json:"strength"`
	FrictionTheme   *string    `gorm:"size:128" json:"friction_theme,omitempty"`
	MentionVelocity float64    `json:"mention_velocity"`
	SentimentDelta  float64    `json:"sentiment_delta"`
	FrictionSpike   float64    `json:"friction_spike"`
	Direction       string     `gorm:"size:16" json:"direction"`
	EvidenceIDs     StringList `gorm:"type:jsonb" json:"evidence_ids"`
	DetectedAt      time.Time  `gorm:"index;not null" json:"detected_at"`
	WindowHours     int        `json:"window_hours"`
}

// TableName specifies the table name for Signal
func (Signal) TableName() string {
	return "signals"
}

// OpportunityBrief is the synthesized output of the strategist. Free-tier
// fields are always served; pro fields are nulled by the tier gate for
// free consumers. Only the freshness job mutates a brief after creation
// (status and freshness score).
type OpportunityBrief struct {
	ID       string `gorm:"size:64;primaryKey" json:"id"`
	SignalID string `gorm:"size:64;index" json:"signal_id"`

	// Free tier
	Title        string     `gorm:"size:256" json:"title"`
	Category     string     `gorm:"size:64" json:"category"`
	Entities     StringList `gorm:"type:jsonb" json:"entities"`
	Strength     float64    `json:"strength"`
	Direction    string     `gorm:"size:16" json:"direction"`
	MentionCount int        `json:"mention_count"`
	Thesis       string     `gorm:"type:text" json:"thesis"`

	// Pro tier
	FrictionDetail       string     `gorm:"type:text" json:"friction_detail,omitempty"`
	GapAnalysis          string     `gorm:"type:text" json:"gap_analysis,omitempty"`
	TimingSignal         string     `gorm:"type:text" json:"timing_signal,omitempty"`
	RiskFactors          StringList `gorm:"type:jsonb" json:"risk_factors,omitempty"`
	Evidence             StringList `gorm:"type:jsonb" json:"evidence,omitempty"`
	CompetitiveLandscape string     `gorm:"type:text" json:"competitive_landscape,omitempty"`
	OpportunityType      string     `gorm:"size:64" json:"opportunity_type,omitempty"`
	BlueprintTargetUser  string     `gorm:"type:text" json:"blueprint_target_user,omitempty"`
	BlueprintWedge       string     `gorm:"type:text" json:"blueprint_wedge,omitempty"`
	BlueprintMoat        string     `gorm:"type:text" json:"blueprint_moat,omitempty"`
	BlueprintMilestone   string     `gorm:"type:text" json:"blueprint_milestone,omitempty"`

	// Lifecycle
	Status         string    `gorm:"size:16;index;not null;default:fresh" json:"status"`
	FreshnessScore float64   `json:"freshness_score"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for OpportunityBrief
func (OpportunityBrief) TableName() string {
	return "opportunity_briefs"
}

// RunError records one per-unit failure collected during a pipeline run.
type RunError struct {
	Stage   string    `json:"stage"` // scrub, detect, synthesize, orchestrator
	Ref     string    `json:"ref"`   // capture id, signal id, or entity
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// PipelineRun is one orchestrator execution record. Created with status
// running at lock acquisition, finalized exactly once at run end.
type PipelineRun struct {
	ID        string     `gorm:"size:64;primaryKey" json:"id"`
	StartedAt time.Time  `gorm:"index;not null" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `gorm:"size:16;index;not null" json:"status"`

	CapturesProcessed int `json:"captures_processed"`
	CapturesFailed    int `json:"captures_failed"`
	ItemsFiltered     int `json:"items_filtered"`
	ItemsScrubbed     int `json:"items_scrubbed"`
	EntitiesExtracted int `json:"entities_extracted"`
	BaselinesUpdated  int `json:"baselines_updated"`
	SignalsDetected   int `json:"signals_detected"`
	SignalsQualified  int `json:"signals_qualified"`
	BriefsCreated     int `json:"briefs_created"`
	BriefsSkipped     int `json:"briefs_skipped"`
	BriefsFailed      int `json:"briefs_failed"`
	TokensUsed        int `json:"tokens_used"`

	Errors RunErrorList `gorm:"type:jsonb" json:"errors"`
}

// TableName specifies the table name for PipelineRun
func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// PipelineLockID is the fixed id of the singleton lock row.
const PipelineLockID = "pipeline"

// PipelineLock is the cross-process mutual exclusion record. Exactly one
// row with the fixed id may exist; a duplicate-key insert means another
// run is active. A document lock stays correct across process instances
// where an in-process mutex would not.
type PipelineLock struct {
	ID         string    `gorm:"size:32;primaryKey" json:"id"`
	RunID      string    `gorm:"size:64" json:"run_id"`
	AcquiredAt time.Time `gorm:"not null" json:"acquired_at"`
}

// TableName specifies the table name for PipelineLock
func (PipelineLock) TableName() string {
	return "pipeline_locks"
}

// BriefWebhook is a registered delivery target for new opportunity briefs.
type BriefWebhook struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:128" json:"name"`
	URL         string    `gorm:"size:512;not null" json:"url"`
	Secret      string    `gorm:"size:128" json:"secret,omitempty"`
	Enabled     bool      `gorm:"default:true" json:"enabled"`
	MinStrength float64   `gorm:"default:0" json:"min_strength"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for BriefWebhook
func (BriefWebhook) TableName() string {
	return "brief_webhooks"
}

// BriefWebhookLog records one delivery attempt.
type BriefWebhookLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WebhookID   int64     `gorm:"index;not null" json:"webhook_id"`
	BriefID     string    `gorm:"size:64;index" json:"brief_id"`
	StatusCode  int       `json:"status_code"`
	Error       *string   `gorm:"type:text" json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	DeliveredAt time.Time `gorm:"index" json:"delivered_at"`
}

// TableName specifies the table name for BriefWebhookLog
func (BriefWebhookLog) TableName() string {
	return "brief_webhook_logs"
}

// ============================================================================
// JSONB column types
// ============================================================================

// jsonbValue marshals v for storage in a jsonb column.
func jsonbValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// jsonbScan unmarshals a jsonb column value into dest.
func jsonbScan(dest interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
}

// StringList stores a []string as jsonb.
type StringList []string

func (l StringList) Value() (driver.Value, error)  { return jsonbValue([]string(l)) }
func (l *StringList) Scan(value interface{}) error { return jsonbScan((*[]string)(l), value) }

// SnapshotList stores baseline snapshots as jsonb, newest-first.
type SnapshotList []BaselineSnapshot

func (l SnapshotList) Value() (driver.Value, error) { return jsonbValue([]BaselineSnapshot(l)) }
func (l *SnapshotList) Scan(value interface{}) error {
	return jsonbScan((*[]BaselineSnapshot)(l), value)
}

// EntityMentionList stores merged entities as jsonb.
type EntityMentionList []EntityMention

func (l EntityMentionList) Value() (driver.Value, error) { return jsonbValue([]EntityMention(l)) }
func (l *EntityMentionList) Scan(value interface{}) error {
	return jsonbScan((*[]EntityMention)(l), value)
}

// FrictionPointList stores friction points as jsonb.
type FrictionPointList []FrictionPoint

func (l FrictionPointList) Value() (driver.Value, error) { return jsonbValue([]FrictionPoint(l)) }
func (l *FrictionPointList) Scan(value interface{}) error {
	return jsonbScan((*[]FrictionPoint)(l), value)
}

// NotableItemList stores notable items as jsonb.
type NotableItemList []NotableItem

func (l NotableItemList) Value() (driver.Value, error) { return jsonbValue([]NotableItem(l)) }
func (l *NotableItemList) Scan(value interface{}) error {
	return jsonbScan((*[]NotableItem)(l), value)
}

// RunErrorList stores run errors as jsonb.
type RunErrorList []RunError

func (l RunErrorList) Value() (driver.Value, error)  { return jsonbValue([]RunError(l)) }
func (l *RunErrorList) Scan(value interface{}) error { return jsonbScan((*[]RunError)(l), value) }

// SignalItemList stores the raw capture payload as jsonb.
type SignalItemList []SignalItem

func (l SignalItemList) Value() (driver.Value, error) { return jsonbValue([]SignalItem(l)) }
func (l *SignalItemList) Scan(value interface{}) error {
	return jsonbScan((*[]SignalItem)(l), value)
}

// MetadataMap stores free-form submission metadata as jsonb.
type MetadataMap map[string]interface{}

func (m MetadataMap) Value() (driver.Value, error) { return jsonbValue(map[string]interface{}(m)) }
func (m *MetadataMap) Scan(value interface{}) error {
	return jsonbScan((*map[string]interface{})(m), value)
}
