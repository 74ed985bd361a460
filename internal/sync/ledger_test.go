package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/bitwerke/kassego/internal/models"
)

func TestLedger_BeginAndComplete(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)

	rec, err := ledger.Begin("Product", "WH1", models.SyncDirectionInbound, models.SyncTypeManual,
		models.JSONB{"warehouse_id": "WH1"}, &Actor{Username: "anna"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if rec.Status != models.SyncStatusProcessing {
		t.Errorf("Expected processing status, got %s", rec.Status)
	}
	if rec.PerformedByUsername == nil || *rec.PerformedByUsername != "anna" {
		t.Error("Actor username not recorded")
	}

	err = ledger.Complete(rec.ID, models.JSONB{"created": 3}, Stats{Processed: 3, Succeeded: 3})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got, err := ledger.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.SyncStatusSuccess {
		t.Errorf("Expected success status, got %s", got.Status)
	}
	if got.CompletedAt == nil || got.LastSyncedAt == nil {
		t.Error("Completion timestamps not set")
	}
	if got.RetryCount != 0 || got.NextRetryAt != nil {
		t.Error("Retry state should be cleared on success")
	}
	if got.ItemsSucceeded != 3 {
		t.Errorf("Expected 3 succeeded items, got %d", got.ItemsSucceeded)
	}
}

func TestLedger_FailBackoffDoubles(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)

	rec, err := ledger.Begin("System", "catalog", models.SyncDirectionInbound, models.SyncTypeAuto, nil, nil)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	syncErr := errors.New("connection refused")
	expectedDelays := []time.Duration{5 * time.Minute, 10 * time.Minute}

	for i, want := range expectedDelays {
		before := time.Now().UTC()
		if err := ledger.Fail(rec.ID, syncErr, Stats{}); err != nil {
			t.Fatalf("Fail #%d failed: %v", i+1, err)
		}

		got, err := ledger.Get(rec.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != models.SyncStatusPending {
			t.Fatalf("After failure %d expected pending, got %s", i+1, got.Status)
		}
		if got.RetryCount != i+1 {
			t.Errorf("Expected retry count %d, got %d", i+1, got.RetryCount)
		}
		if got.NextRetryAt == nil {
			t.Fatalf("After failure %d expected a scheduled retry", i+1)
		}

		delay := got.NextRetryAt.Sub(before)
		if delay < want-time.Minute || delay > want+time.Minute {
			t.Errorf("After failure %d expected ~%v backoff, got %v", i+1, want, delay)
		}
	}

	// Third failure exhausts the cap: terminal, no retry scheduled
	if err := ledger.Fail(rec.ID, syncErr, Stats{}); err != nil {
		t.Fatalf("Final Fail failed: %v", err)
	}
	got, err := ledger.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.SyncStatusFailed {
		t.Errorf("Expected terminal failed status, got %s", got.Status)
	}
	if got.NextRetryAt != nil {
		t.Error("Terminal failure must not schedule a retry")
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "connection refused" {
		t.Error("Error message not preserved")
	}
}

func TestLedger_FailTerminalSkipsBackoff(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)

	rec, _ := ledger.Begin("Product", "WH1", models.SyncDirectionInbound, models.SyncTypeManual, nil, nil)
	err := ledger.FailTerminal(rec.ID, errors.New("item 42 not found"), Stats{Processed: 1, Failed: 1})
	if err != nil {
		t.Fatalf("FailTerminal failed: %v", err)
	}

	got, _ := ledger.Get(rec.ID)
	if got.Status != models.SyncStatusFailed {
		t.Errorf("Expected failed status, got %s", got.Status)
	}
	if got.NextRetryAt != nil {
		t.Error("Terminal failure must not schedule a retry")
	}
}

func TestLedger_ListRetryableHonorsBackoffWindow(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)

	// A record that just failed once: backoff still pending
	waiting, _ := ledger.Begin("System", "catalog", models.SyncDirectionInbound, models.SyncTypeAuto, nil, nil)
	if err := ledger.Fail(waiting.ID, errors.New("timeout"), Stats{}); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	// A record whose backoff elapsed
	due, _ := ledger.Begin("Sale", "WH1", models.SyncDirectionOutbound, models.SyncTypeAuto, nil, nil)
	past := time.Now().UTC().Add(-time.Minute)
	err := db.Model(&models.SyncRecord{}).Where("id = ?", due.ID).
		Updates(map[string]interface{}{
			"status":        models.SyncStatusPending,
			"next_retry_at": past,
		}).Error
	if err != nil {
		t.Fatalf("Failed to prepare due record: %v", err)
	}

	// A processing record must never be picked up
	busy, _ := ledger.Begin("Product", "WH2", models.SyncDirectionInbound, models.SyncTypeManual, nil, nil)
	_ = busy

	recs, err := ledger.ListRetryable()
	if err != nil {
		t.Fatalf("ListRetryable failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("Expected exactly 1 due record, got %d", len(recs))
	}
	if recs[0].ID != due.ID {
		t.Errorf("Expected record %d, got %d", due.ID, recs[0].ID)
	}
}

func TestLedger_ResetFailed(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)

	rec, _ := ledger.Begin("Sale", "WH1", models.SyncDirectionOutbound, models.SyncTypeAuto, nil, nil)
	if err := ledger.FailTerminal(rec.ID, errors.New("gone"), Stats{}); err != nil {
		t.Fatalf("FailTerminal failed: %v", err)
	}

	other, _ := ledger.Begin("Product", "WH1", models.SyncDirectionInbound, models.SyncTypeAuto, nil, nil)
	if err := ledger.FailTerminal(other.ID, errors.New("gone"), Stats{}); err != nil {
		t.Fatalf("FailTerminal failed: %v", err)
	}

	// Scoped reset touches only the matching entity type
	n, err := ledger.ResetFailed("Sale")
	if err != nil {
		t.Fatalf("ResetFailed failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 reset record, got %d", n)
	}

	got, _ := ledger.Get(rec.ID)
	if got.Status != models.SyncStatusPending {
		t.Errorf("Expected pending after reset, got %s", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("Expected retry count reset to 0, got %d", got.RetryCount)
	}

	untouched, _ := ledger.Get(other.ID)
	if untouched.Status != models.SyncStatusFailed {
		t.Errorf("Other entity type should stay failed, got %s", untouched.Status)
	}
}

func TestLedger_StatsGroupsByStatus(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedger(db)

	ok, _ := ledger.Begin("Product", "WH1", models.SyncDirectionInbound, models.SyncTypeAuto, nil, nil)
	_ = ledger.Complete(ok.ID, nil, Stats{Processed: 2, Succeeded: 2})

	bad, _ := ledger.Begin("Product", "WH1", models.SyncDirectionInbound, models.SyncTypeAuto, nil, nil)
	_ = ledger.FailTerminal(bad.ID, errors.New("boom"), Stats{})

	stats, err := ledger.Stats(time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Expected 2 total records, got %d", stats.Total)
	}
	if stats.Success != 1 || stats.Failed != 1 {
		t.Errorf("Expected 1 success and 1 failed, got %d/%d", stats.Success, stats.Failed)
	}
	if stats.LastSync == nil {
		t.Error("Expected last successful sync timestamp")
	}
}
