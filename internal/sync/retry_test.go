package sync

import (
	"context"
	"testing"
	"time"

	"github.com/bitwerke/kassego/internal/models"
	"github.com/bitwerke/kassego/internal/services/inventory"
)

// failPushThenRecover books a failed outbound push and brings the
// external store back up, leaving a due retry record behind
func failPushThenRecover(t *testing.T, te *testEngine) *models.SyncRecord {
	t.Helper()

	product := seedProduct(t, te.db, 1, "WH1", 10)
	te.gw.applyErr[1] = &inventory.ConnectionError{Err: context.DeadlineExceeded}

	_, err := te.wc.TrackChange(product.ID, -1, models.ChangeTypeSale, Reference{ID: "S", Type: "sale"}, nil, "")
	if err != nil {
		t.Fatalf("TrackChange failed: %v", err)
	}
	if _, err := te.orchestrator.PushStockChanges(context.Background(), "WH1"); err != nil {
		t.Fatalf("PushStockChanges failed: %v", err)
	}

	rec := te.lastRecord(t)
	if rec.Status != models.SyncStatusPending {
		t.Fatalf("Setup expected a pending retry record, got %s", rec.Status)
	}

	// External store recovers; pull the due time into the past
	delete(te.gw.applyErr, 1)
	past := time.Now().UTC().Add(-time.Minute)
	err = te.db.Model(&models.SyncRecord{}).Where("id = ?", rec.ID).
		Update("next_retry_at", past).Error
	if err != nil {
		t.Fatalf("Failed to age retry record: %v", err)
	}
	return rec
}

func TestRetryScheduler_ReplaysDuePush(t *testing.T) {
	te := newTestEngine(t)
	scheduler := NewRetryScheduler(te.ledger, te.orchestrator)

	rec := failPushThenRecover(t, te)

	scheduler.RunOnce()

	got, err := te.ledger.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.SyncStatusSuccess {
		t.Errorf("Replayed record should succeed, got %s", got.Status)
	}
	if te.gw.appliedCount() != 1 {
		t.Errorf("Expected exactly one applied delta after replay, got %d", te.gw.appliedCount())
	}

	var change models.StockChange
	te.db.First(&change)
	if !change.SyncedToInventory {
		t.Error("Change not flagged after successful replay")
	}
}

func TestRetryScheduler_SkipsUnexpiredBackoff(t *testing.T) {
	te := newTestEngine(t)
	scheduler := NewRetryScheduler(te.ledger, te.orchestrator)

	product := seedProduct(t, te.db, 1, "WH1", 10)
	te.gw.applyErr[1] = &inventory.ConnectionError{Err: context.DeadlineExceeded}
	_, err := te.wc.TrackChange(product.ID, -1, models.ChangeTypeSale, Reference{ID: "S", Type: "sale"}, nil, "")
	if err != nil {
		t.Fatalf("TrackChange failed: %v", err)
	}
	if _, err := te.orchestrator.PushStockChanges(context.Background(), "WH1"); err != nil {
		t.Fatalf("PushStockChanges failed: %v", err)
	}
	rec := te.lastRecord(t)

	// Backoff still minutes away: the scan must leave it alone
	scheduler.RunOnce()

	got, _ := te.ledger.Get(rec.ID)
	if got.Status != models.SyncStatusPending {
		t.Errorf("Record with live backoff should stay pending, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("Retry count should be untouched, got %d", got.RetryCount)
	}
}

func TestRetryScheduler_RequeuesWhenEngineBusy(t *testing.T) {
	te := newTestEngine(t)
	scheduler := NewRetryScheduler(te.ledger, te.orchestrator)

	// Age an inbound catalog record into the due window
	rec, err := te.ledger.Begin("System", "catalog", models.SyncDirectionInbound, models.SyncTypeAuto, nil, nil)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := te.ledger.Requeue(rec.ID); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	// Another pass holds the guard
	if !te.orchestrator.tryBegin() {
		t.Fatal("Guard should be free")
	}
	defer te.orchestrator.end()

	scheduler.RunOnce()

	got, _ := te.ledger.Get(rec.ID)
	if got.Status != models.SyncStatusPending {
		t.Errorf("Blocked replay should requeue to pending, got %s", got.Status)
	}
	if te.gw.listCalls != 0 {
		t.Errorf("Adapter must not be called while the guard is held, got %d", te.gw.listCalls)
	}
}

func TestForceRetry_IgnoresBackoffTimer(t *testing.T) {
	te := newTestEngine(t)
	scheduler := NewRetryScheduler(te.ledger, te.orchestrator)

	product := seedProduct(t, te.db, 1, "WH1", 10)
	te.gw.applyErr[1] = &inventory.ConnectionError{Err: context.DeadlineExceeded}
	_, err := te.wc.TrackChange(product.ID, -1, models.ChangeTypeSale, Reference{ID: "S", Type: "sale"}, nil, "")
	if err != nil {
		t.Fatalf("TrackChange failed: %v", err)
	}
	if _, err := te.orchestrator.PushStockChanges(context.Background(), "WH1"); err != nil {
		t.Fatalf("PushStockChanges failed: %v", err)
	}
	rec := te.lastRecord(t)

	// Backoff is still live, but the operator wants it now
	delete(te.gw.applyErr, 1)
	got, err := scheduler.ForceRetry(rec.ID)
	if err != nil {
		t.Fatalf("ForceRetry failed: %v", err)
	}
	if got.Status != models.SyncStatusSuccess {
		t.Errorf("Forced replay should succeed, got %s", got.Status)
	}
}

func TestResetFailedSyncs_RevivesTerminalRecords(t *testing.T) {
	te := newTestEngine(t)
	scheduler := NewRetryScheduler(te.ledger, te.orchestrator)

	rec, _ := te.ledger.Begin("Sale", "WH1", models.SyncDirectionOutbound, models.SyncTypeAuto, nil, nil)
	if err := te.ledger.FailTerminal(rec.ID, context.DeadlineExceeded, Stats{}); err != nil {
		t.Fatalf("FailTerminal failed: %v", err)
	}

	n, err := scheduler.ResetFailedSyncs("")
	if err != nil {
		t.Fatalf("ResetFailedSyncs failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 revived record, got %d", n)
	}

	got, _ := te.ledger.Get(rec.ID)
	if got.Status != models.SyncStatusPending || got.RetryCount != 0 {
		t.Errorf("Revived record should be pending with fresh retries, got %s/%d",
			got.Status, got.RetryCount)
	}
}
