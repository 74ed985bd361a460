package sync

import (
	"fmt"
	"time"

	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
)

const (
	defaultMaxRetries = 3
	retryBackoffBase  = 5 * time.Minute
)

// Ledger is the durable log of sync attempts. It does record-keeping
// only; the single piece of policy it owns is the retry backoff
// computation. Domain tables never depend on it.
type Ledger struct {
	db         *database.DB
	maxRetries int
}

// NewLedger creates a ledger over the local store
func NewLedger(db *database.DB) *Ledger {
	return &Ledger{db: db, maxRetries: defaultMaxRetries}
}

// SetMaxRetries overrides the automatic retry cap
func (l *Ledger) SetMaxRetries(n int) {
	if n > 0 {
		l.maxRetries = n
	}
}

// Begin opens a new record in processing state and returns it. A
// ledger write failure here is fatal to the operation; without the
// record there is no audit trail to hang the outcome on.
func (l *Ledger) Begin(entityType, entityID, direction, syncType string, payload models.JSONB, actor *Actor) (*models.SyncRecord, error) {
	rec := &models.SyncRecord{
		EntityType: entityType,
		EntityID:   entityID,
		Direction:  direction,
		SyncType:   syncType,
		Status:     models.SyncStatusProcessing,
		StartedAt:  time.Now().UTC(),
		Payload:    payload,
	}
	if actor != nil {
		rec.PerformedByID = actor.ID
		if actor.Username != "" {
			rec.PerformedByUsername = &actor.Username
		}
	}

	if err := l.db.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create sync record: %w", err)
	}
	return rec, nil
}

// Complete transitions a record to success and clears all retry state
func (l *Ledger) Complete(recordID int64, payload models.JSONB, stats Stats) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":          models.SyncStatusSuccess,
		"items_processed": stats.Processed,
		"items_succeeded": stats.Succeeded,
		"items_failed":    stats.Failed,
		"completed_at":    now,
		"last_synced_at":  now,
		"error_message":   nil,
		"retry_count":     0,
		"next_retry_at":   nil,
	}
	if payload != nil {
		updates["payload"] = payload
	}

	err := l.db.Model(&models.SyncRecord{}).Where("id = ?", recordID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to complete sync record %d: %w", recordID, err)
	}
	return nil
}

// Fail records a failure and schedules the next retry with exponential
// backoff (5, 10, 20 minutes). Once the retry cap is reached the
// record goes terminal and only an operator reset revives it.
func (l *Ledger) Fail(recordID int64, syncErr error, stats Stats) error {
	rec, err := l.Get(recordID)
	if err != nil {
		return err
	}

	rec.RetryCount++
	msg := syncErr.Error()

	updates := map[string]interface{}{
		"items_processed": stats.Processed,
		"items_succeeded": stats.Succeeded,
		"items_failed":    stats.Failed,
		"error_message":   msg,
		"retry_count":     rec.RetryCount,
	}

	if rec.RetryCount < l.maxRetries {
		next := time.Now().UTC().Add(retryBackoffBase * time.Duration(1<<(rec.RetryCount-1)))
		updates["status"] = models.SyncStatusPending
		updates["next_retry_at"] = next
	} else {
		updates["status"] = models.SyncStatusFailed
		updates["next_retry_at"] = nil
		updates["completed_at"] = time.Now().UTC()
	}

	err = l.db.Model(&models.SyncRecord{}).Where("id = ?", recordID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to record sync failure %d: %w", recordID, err)
	}
	return nil
}

// FailTerminal marks a record failed immediately, skipping the backoff
// cycle. Used for errors a retry cannot fix (validation, missing
// items, negative stock).
func (l *Ledger) FailTerminal(recordID int64, syncErr error, stats Stats) error {
	updates := map[string]interface{}{
		"status":          models.SyncStatusFailed,
		"items_processed": stats.Processed,
		"items_succeeded": stats.Succeeded,
		"items_failed":    stats.Failed,
		"error_message":   syncErr.Error(),
		"retry_count":     l.maxRetries,
		"next_retry_at":   nil,
		"completed_at":    time.Now().UTC(),
	}

	err := l.db.Model(&models.SyncRecord{}).Where("id = ?", recordID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to terminally fail sync record %d: %w", recordID, err)
	}
	return nil
}

// MarkPartial terminates a begun record as partial. Per-item detail
// lives in the payload; partial is terminal, the leftover items stay
// queued in their own tables, not in this record.
func (l *Ledger) MarkPartial(recordID int64, payload models.JSONB, stats Stats, errMsg string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":          models.SyncStatusPartial,
		"items_processed": stats.Processed,
		"items_succeeded": stats.Succeeded,
		"items_failed":    stats.Failed,
		"completed_at":    now,
		"last_synced_at":  now,
		"next_retry_at":   nil,
	}
	if payload != nil {
		updates["payload"] = payload
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}

	err := l.db.Model(&models.SyncRecord{}).Where("id = ?", recordID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to mark sync record %d partial: %w", recordID, err)
	}
	return nil
}

// MarkProcessing claims a pending record for a retry pass
func (l *Ledger) MarkProcessing(recordID int64) error {
	err := l.db.Model(&models.SyncRecord{}).Where("id = ?", recordID).
		Update("status", models.SyncStatusProcessing).Error
	if err != nil {
		return fmt.Errorf("failed to mark sync record %d processing: %w", recordID, err)
	}
	return nil
}

// Requeue puts a claimed record back to pending without touching its
// retry count. Used when the single-flight guard blocks a replay; the
// next scan picks it up again.
func (l *Ledger) Requeue(recordID int64) error {
	err := l.db.Model(&models.SyncRecord{}).Where("id = ?", recordID).
		Update("status", models.SyncStatusPending).Error
	if err != nil {
		return fmt.Errorf("failed to requeue sync record %d: %w", recordID, err)
	}
	return nil
}

// Get loads one record by id
func (l *Ledger) Get(recordID int64) (*models.SyncRecord, error) {
	var rec models.SyncRecord
	if err := l.db.First(&rec, recordID).Error; err != nil {
		return nil, fmt.Errorf("failed to load sync record %d: %w", recordID, err)
	}
	return &rec, nil
}

// ListRetryable returns pending records whose backoff window has
// elapsed, oldest first
func (l *Ledger) ListRetryable() ([]models.SyncRecord, error) {
	var recs []models.SyncRecord
	err := l.db.
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			models.SyncStatusPending, time.Now().UTC()).
		Order("started_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable sync records: %w", err)
	}
	return recs, nil
}

// History returns recent records, optionally filtered by entity
func (l *Ledger) History(entityType, entityID string, limit int) ([]models.SyncRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := l.db.Model(&models.SyncRecord{})
	if entityType != "" {
		q = q.Where("entity_type = ?", entityType)
	}
	if entityID != "" {
		q = q.Where("entity_id = ?", entityID)
	}

	var recs []models.SyncRecord
	if err := q.Order("started_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load sync history: %w", err)
	}
	return recs, nil
}

// Stats aggregates record counts since the given time
func (l *Ledger) Stats(since time.Time) (*LedgerStats, error) {
	stats := &LedgerStats{SinceTime: since}

	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := l.db.Model(&models.SyncRecord{}).
		Select("status, COUNT(*) AS n").
		Where("started_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sync stats: %w", err)
	}

	for _, r := range rows {
		stats.Total += r.N
		switch r.Status {
		case models.SyncStatusSuccess:
			stats.Success = r.N
		case models.SyncStatusPartial:
			stats.Partial = r.N
		case models.SyncStatusFailed:
			stats.Failed = r.N
		case models.SyncStatusPending:
			stats.Pending = r.N
		}
	}

	var last models.SyncRecord
	err = l.db.Where("status = ?", models.SyncStatusSuccess).
		Order("last_synced_at DESC").First(&last).Error
	if err == nil {
		stats.LastSync = last.LastSyncedAt
	}

	return stats, nil
}

// ResetFailed requeues terminal failures for a fresh backoff cycle.
// Empty entityType resets every failed record.
func (l *Ledger) ResetFailed(entityType string) (int64, error) {
	q := l.db.Model(&models.SyncRecord{}).Where("status = ?", models.SyncStatusFailed)
	if entityType != "" {
		q = q.Where("entity_type = ?", entityType)
	}

	res := q.Updates(map[string]interface{}{
		"status":        models.SyncStatusPending,
		"retry_count":   0,
		"next_retry_at": nil,
		"completed_at":  nil,
	})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset failed sync records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
