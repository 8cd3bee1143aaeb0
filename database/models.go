// Package database provides the document store for the signal
// intelligence pipeline.
//
// This package includes:
//   - Connection management using GORM and PostgreSQL
//   - Create-if-absent semantics backed by primary/unique key constraints
//   - Paginated list operations for the pipeline's windowed reads
//
// Key Concepts:
//   - Idempotency keys (capture id, nonce, processed-item id) are enforced
//     by the store's uniqueness constraints, not by application locking
//   - The pipeline lock is a create-if-absent row, correct across processes
//
// Data Models:
//
//	All data models (Capture, Signal, OpportunityBrief, etc.) are defined
//	in the models_pkg package to avoid circular import dependencies.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "signal-scout/database/models_pkg"
)

// Database holds the GORM database connection and provides access to the
// underlying DB instance.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Connect establishes database connection using GORM.
// TranslateError is enabled so duplicate-key inserts surface as
// gorm.ErrDuplicatedKey, which the create-if-absent operations rely on.
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent), // Silent logging for production
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============================================================================
// Type Aliases
// ============================================================================

// Aliases so callers can work with the database package directly without
// importing models_pkg.

type Capture = models.Capture
type SignalItem = models.SignalItem
type IngestNonce = models.IngestNonce
type ProcessedItem = models.ProcessedItem
type ScrubberOutput = models.ScrubberOutput
type EntityMention = models.EntityMention
type FrictionPoint = models.FrictionPoint
type NotableItem = models.NotableItem
type EntityBaseline = models.EntityBaseline
type BaselineSnapshot = models.BaselineSnapshot
type Signal = models.Signal
type OpportunityBrief = models.OpportunityBrief
type PipelineRun = models.PipelineRun
type RunError = models.RunError
type PipelineLock = models.PipelineLock
type BriefWebhook = models.BriefWebhook
type BriefWebhookLog = models.BriefWebhookLog

type StringList = models.StringList
type SnapshotList = models.SnapshotList
type EntityMentionList = models.EntityMentionList
type FrictionPointList = models.FrictionPointList
type NotableItemList = models.NotableItemList
type RunErrorList = models.RunErrorList
type SignalItemList = models.SignalItemList
type MetadataMap = models.MetadataMap

// Status and type constants, re-exported for the same reason.
const (
	CaptureStatusPending    = models.CaptureStatusPending
	CaptureStatusProcessing = models.CaptureStatusProcessing
	CaptureStatusProcessed  = models.CaptureStatusProcessed
	CaptureStatusFailed     = models.CaptureStatusFailed

	SignalTypeVelocitySpike   = models.SignalTypeVelocitySpike
	SignalTypeSentimentFlip   = models.SignalTypeSentimentFlip
	SignalTypeFrictionCluster = models.SignalTypeFrictionCluster
	SignalTypeNewEmergence    = models.SignalTypeNewEmergence

	DirectionNew          = models.DirectionNew
	DirectionAccelerating = models.DirectionAccelerating
	DirectionDecelerating = models.DirectionDecelerating

	BriefStatusFresh    = models.BriefStatusFresh
	BriefStatusWarm     = models.BriefStatusWarm
	BriefStatusCold     = models.BriefStatusCold
	BriefStatusArchived = models.BriefStatusArchived

	RunStatusRunning   = models.RunStatusRunning
	RunStatusCompleted = models.RunStatusCompleted
	RunStatusFailed    = models.RunStatusFailed

	PlatformShortPost      = models.PlatformShortPost
	PlatformRepoEvent      = models.PlatformRepoEvent
	PlatformForumPost      = models.PlatformForumPost
	PlatformAggregatorPost = models.PlatformAggregatorPost

	BaselineWindowDays  = models.BaselineWindowDays
	MatureSnapshotCount = models.MatureSnapshotCount
	PipelineLockID      = models.PipelineLockID
)
