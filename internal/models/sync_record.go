package models

import (
	"time"
)

// Sync record statuses
const (
	SyncStatusPending    = "pending"
	SyncStatusProcessing = "processing"
	SyncStatusSuccess    = "success"
	SyncStatusPartial    = "partial"
	SyncStatusFailed     = "failed"
)

// Sync directions
const (
	SyncDirectionInbound  = "inbound"
	SyncDirectionOutbound = "outbound"
)

// Sync types
const (
	SyncTypeAuto   = "auto"
	SyncTypeManual = "manual"
	SyncTypeRetry  = "retry"
	SyncTypeForced = "forced"
)

// SyncRecord is one entry in the sync ledger: the durable record of a
// single synchronization attempt against the external inventory system.
// The ledger is append-mostly and independent of the domain tables it
// describes.
type SyncRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityType string `gorm:"column:entity_type;type:varchar(50);not null;index:idx_sync_entity" json:"entityType"` // "Product", "Sale", "System"
	EntityID   string `gorm:"column:entity_id;type:varchar(255);not null;index:idx_sync_entity" json:"entityId"`
	Direction  string `gorm:"column:direction;type:varchar(20);not null" json:"direction"` // inbound, outbound
	SyncType   string `gorm:"column:sync_type;type:varchar(20);not null" json:"syncType"`  // auto, manual, retry, forced
	Status     string `gorm:"column:status;type:varchar(20);not null;index" json:"status"` // pending, processing, success, partial, failed

	ItemsProcessed int `gorm:"column:items_processed;default:0" json:"itemsProcessed"`
	ItemsSucceeded int `gorm:"column:items_succeeded;default:0" json:"itemsSucceeded"`
	ItemsFailed    int `gorm:"column:items_failed;default:0" json:"itemsFailed"`

	StartedAt    time.Time  `gorm:"column:started_at;not null" json:"startedAt"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completedAt"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at" json:"lastSyncedAt"`

	// Snapshot of the operation input/result, kept for audit and so the
	// retry scheduler can replay the operation without a closure.
	Payload      JSONB   `gorm:"column:payload;type:jsonb" json:"payload"`
	ErrorMessage *string `gorm:"column:error_message;type:text" json:"errorMessage"`

	RetryCount  int        `gorm:"column:retry_count;default:0" json:"retryCount"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at;index" json:"nextRetryAt"`

	PerformedByID       *int64  `gorm:"column:performed_by_id" json:"performedById"`
	PerformedByUsername *string `gorm:"column:performed_by_username;type:varchar(255)" json:"performedByUsername"`

	CreatedAt time.Time `gorm:"column:created_at" json:"-"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"-"`
}

// TableName specifies the table name
func (SyncRecord) TableName() string {
	return "sync_records"
}

// IsTerminal reports whether the record has reached a final state.
// Terminal records only move again via an explicit operator reset.
func (r SyncRecord) IsTerminal() bool {
	return r.Status == SyncStatusSuccess || r.Status == SyncStatusPartial || r.Status == SyncStatusFailed
}
