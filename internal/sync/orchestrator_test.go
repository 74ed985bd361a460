package sync

import (
	"context"
	"strings"
	"testing"

	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
	"github.com/bitwerke/kassego/internal/services/inventory"
	"github.com/bitwerke/kassego/internal/settings"
)

type testEngine struct {
	db           *database.DB
	store        *settings.Store
	gw           *fakeGateway
	ledger       *Ledger
	wc           *WarehouseContext
	orchestrator *Orchestrator
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	db := newTestDB(t)
	store := newTestStore(t, db)
	gw := newFakeGateway()
	ledger := NewLedger(db)

	wc, err := NewWarehouseContext(db, gw, store)
	if err != nil {
		t.Fatalf("NewWarehouseContext failed: %v", err)
	}

	return &testEngine{
		db:           db,
		store:        store,
		gw:           gw,
		ledger:       ledger,
		wc:           wc,
		orchestrator: NewOrchestrator(db, gw, ledger, wc, store),
	}
}

func (te *testEngine) lastRecord(t *testing.T) *models.SyncRecord {
	t.Helper()
	var rec models.SyncRecord
	if err := te.db.Order("id DESC").First(&rec).Error; err != nil {
		t.Fatalf("No sync record found: %v", err)
	}
	return &rec
}

func TestManualSync_ReconcilesAllWarehouses(t *testing.T) {
	te := newTestEngine(t)
	te.gw.warehouses = []inventory.Warehouse{
		{ID: "WH1", Name: "Store One", IsActive: true},
		{ID: "WH2", Name: "Store Two", IsActive: true},
	}
	te.gw.items["WH1"] = []inventory.Item{testItem(1, "WH1", 5)}
	te.gw.items["WH2"] = []inventory.Item{testItem(1, "WH2", 3), testItem(2, "WH2", 8)}

	summary, err := te.orchestrator.ManualSync(&Actor{Username: "chef"}, false)
	if err != nil {
		t.Fatalf("ManualSync failed: %v", err)
	}

	if summary.Created != 3 {
		t.Errorf("Expected 3 created products across warehouses, got %d", summary.Created)
	}
	if len(summary.Warehouses) != 2 {
		t.Errorf("Expected 2 warehouse results, got %d", len(summary.Warehouses))
	}

	// One external item in two warehouses yields two local rows
	var count int64
	te.db.Model(&models.Product{}).Where("external_id = ?", 1).Count(&count)
	if count != 2 {
		t.Errorf("Expected item 1 in both warehouses, got %d rows", count)
	}

	rec, err := te.ledger.Get(summary.RecordID)
	if err != nil {
		t.Fatalf("Ledger record missing: %v", err)
	}
	if rec.Status != models.SyncStatusSuccess {
		t.Errorf("Expected success record, got %s", rec.Status)
	}
	if rec.SyncType != models.SyncTypeManual {
		t.Errorf("Expected manual sync type, got %s", rec.SyncType)
	}
	if rec.PerformedByUsername == nil || *rec.PerformedByUsername != "chef" {
		t.Error("Actor not recorded on ledger entry")
	}

	if te.store.LastSyncAt() == nil {
		t.Error("Last-sync timestamp not persisted")
	}
	if te.store.ConnectionStatus() != "connected" {
		t.Errorf("Expected connected status, got %q", te.store.ConnectionStatus())
	}
}

func TestAutoSync_DisabledFlagSkipsTick(t *testing.T) {
	te := newTestEngine(t)
	te.gw.warehouses = []inventory.Warehouse{
		{ID: "WH1", Name: "Store One", IsActive: true},
	}
	if err := te.store.Set(settings.KeySyncEnabled, "false"); err != nil {
		t.Fatalf("Failed to disable sync: %v", err)
	}

	// The timers run regardless of the flag; each tick checks it, so
	// a disabled tick must touch nothing.
	summary, err := te.orchestrator.AutoSync()
	if err != nil {
		t.Fatalf("AutoSync failed: %v", err)
	}
	if summary != nil {
		t.Fatal("Disabled auto-sync must be a no-op")
	}
	if te.gw.listCalls != 0 {
		t.Errorf("Disabled auto-sync must not hit the external store, got %d calls", te.gw.listCalls)
	}

	// Re-enabling over the settings store takes effect on the next tick
	if err := te.store.Set(settings.KeySyncEnabled, "true"); err != nil {
		t.Fatalf("Failed to re-enable sync: %v", err)
	}
	summary, err = te.orchestrator.AutoSync()
	if err != nil {
		t.Fatalf("AutoSync after re-enable failed: %v", err)
	}
	if summary == nil {
		t.Fatal("Re-enabled auto-sync must run a pass")
	}
	if te.gw.listCalls == 0 {
		t.Error("Re-enabled auto-sync never reached the external store")
	}
}

func TestManualSync_PartialPassStampsLastSync(t *testing.T) {
	te := newTestEngine(t)
	te.gw.warehouses = []inventory.Warehouse{
		{ID: "WH1", Name: "Store One", IsActive: true},
	}

	// A soft-deleted row holds the sync_id, so item 5 fails its
	// upsert while item 6 goes through: a partial pass.
	blocked := seedProduct(t, te.db, 5, "WH1", 3)
	if err := te.db.Delete(&blocked).Error; err != nil {
		t.Fatalf("Failed to soft-delete product: %v", err)
	}
	te.gw.items["WH1"] = []inventory.Item{testItem(5, "WH1", 8), testItem(6, "WH1", 2)}

	summary, err := te.orchestrator.ManualSync(&Actor{Username: "chef"}, false)
	if err != nil {
		t.Fatalf("ManualSync failed: %v", err)
	}
	if len(summary.Errors) == 0 {
		t.Fatal("Expected a partial pass with item errors")
	}

	rec := te.lastRecord(t)
	if rec.Status != models.SyncStatusPartial {
		t.Fatalf("Expected partial record, got %s", rec.Status)
	}

	// The pass completed, so the last-sync timestamp must move even
	// though some items failed.
	if te.store.LastSyncAt() == nil {
		t.Error("Partial pass must still persist the last-sync timestamp")
	}
	if te.store.ConnectionStatus() != "connected" {
		t.Errorf("Expected connected status, got %q", te.store.ConnectionStatus())
	}
}

func TestManualSync_ConnectionFailureSchedulesRetry(t *testing.T) {
	te := newTestEngine(t)
	te.gw.listErr = &inventory.ConnectionError{Err: context.DeadlineExceeded}

	_, err := te.orchestrator.ManualSync(nil, false)
	if err == nil {
		t.Fatal("Expected error when the external store is down")
	}

	rec := te.lastRecord(t)
	if rec.Status != models.SyncStatusPending {
		t.Errorf("Connection failure should enter the retry cycle, got %s", rec.Status)
	}
	if rec.NextRetryAt == nil {
		t.Error("Expected a scheduled retry")
	}
	if !strings.HasPrefix(te.store.ConnectionStatus(), "error") {
		t.Errorf("Expected error connection status, got %q", te.store.ConnectionStatus())
	}
}

func TestSingleFlight_SecondSyncRejected(t *testing.T) {
	te := newTestEngine(t)
	te.gw.warehouses = []inventory.Warehouse{{ID: "WH1", Name: "Store One", IsActive: true}}

	if !te.orchestrator.tryBegin() {
		t.Fatal("Guard should be free initially")
	}

	_, err := te.orchestrator.ManualSync(nil, false)
	if err != ErrSyncInProgress {
		t.Errorf("Expected ErrSyncInProgress, got %v", err)
	}

	// The periodic path is a silent no-op, and must not touch the adapter
	summary, err := te.orchestrator.AutoSync()
	if err != nil || summary != nil {
		t.Errorf("AutoSync under guard should be a no-op, got %v / %v", summary, err)
	}
	if te.gw.listCalls != 0 {
		t.Errorf("Adapter must not be called under the guard, got %d calls", te.gw.listCalls)
	}

	te.orchestrator.end()
	if _, err := te.orchestrator.ManualSync(nil, false); err != nil {
		t.Errorf("Sync after guard release should work: %v", err)
	}
}

func TestPushStockChanges_FlagsAtMostOnce(t *testing.T) {
	te := newTestEngine(t)
	product := seedProduct(t, te.db, 42, "WH1", 10)
	if err := te.store.SetCurrentWarehouse("WH1", "Store One"); err != nil {
		t.Fatalf("SetCurrentWarehouse failed: %v", err)
	}

	_, err := te.wc.TrackChange(product.ID, -2, models.ChangeTypeSale, Reference{ID: "S-1", Type: "sale"}, nil, "")
	if err != nil {
		t.Fatalf("TrackChange failed: %v", err)
	}

	res, err := te.orchestrator.PushStockChanges(context.Background(), "WH1")
	if err != nil {
		t.Fatalf("PushStockChanges failed: %v", err)
	}
	if res.Pushed != 1 || res.Failed != 0 {
		t.Fatalf("Expected 1 pushed, got %d/%d", res.Pushed, res.Failed)
	}
	if res.Remaining != 0 {
		t.Errorf("Expected empty backlog, got %d", res.Remaining)
	}

	if len(te.gw.applied) != 1 {
		t.Fatalf("Expected one external delta, got %d", len(te.gw.applied))
	}
	if te.gw.applied[0].Delta != -2 || te.gw.applied[0].ItemID != 42 {
		t.Errorf("Wrong delta applied: %+v", te.gw.applied[0])
	}

	var change models.StockChange
	te.db.First(&change)
	if !change.SyncedToInventory || change.SyncDate == nil {
		t.Error("Change not flagged as synced")
	}

	var got models.Product
	te.db.First(&got, product.ID)
	if got.SyncStatus != models.ProductSyncSynced {
		t.Errorf("Expected product back to synced, got %s", got.SyncStatus)
	}
	if got.LastSyncAt == nil {
		t.Error("Product last-sync timestamp not stamped after push")
	}

	rec := te.lastRecord(t)
	if rec.Status != models.SyncStatusSuccess || rec.Direction != models.SyncDirectionOutbound {
		t.Errorf("Expected successful outbound record, got %s/%s", rec.Status, rec.Direction)
	}

	// A second push finds nothing: the delta is never re-applied
	res, err = te.orchestrator.PushStockChanges(context.Background(), "WH1")
	if err != nil {
		t.Fatalf("Second push failed: %v", err)
	}
	if res.Pushed != 0 {
		t.Errorf("Second push must be empty, pushed %d", res.Pushed)
	}
	if te.gw.appliedCount() != 1 {
		t.Errorf("Delta applied more than once: %d", te.gw.appliedCount())
	}
}

func TestPushStockChanges_PartialBatch(t *testing.T) {
	te := newTestEngine(t)
	ok := seedProduct(t, te.db, 1, "WH1", 10)
	bad := seedProduct(t, te.db, 2, "WH1", 10)
	te.gw.applyErr[2] = &inventory.InsufficientStockError{
		ItemID: 2, WarehouseID: "WH1", Available: 0, Requested: 1,
	}

	for _, p := range []models.Product{ok, bad} {
		_, err := te.wc.TrackChange(p.ID, -1, models.ChangeTypeSale, Reference{ID: "S", Type: "sale"}, nil, "")
		if err != nil {
			t.Fatalf("TrackChange failed: %v", err)
		}
	}

	res, err := te.orchestrator.PushStockChanges(context.Background(), "WH1")
	if err != nil {
		t.Fatalf("PushStockChanges failed: %v", err)
	}
	if res.Pushed != 1 || res.Failed != 1 {
		t.Fatalf("Expected 1/1 pushed/failed, got %d/%d", res.Pushed, res.Failed)
	}
	if res.Remaining != 1 {
		t.Errorf("Failed change should stay in the backlog, remaining %d", res.Remaining)
	}

	rec := te.lastRecord(t)
	if rec.Status != models.SyncStatusPartial {
		t.Errorf("Mixed batch should record partial, got %s", rec.Status)
	}
	if rec.ItemsSucceeded != 1 || rec.ItemsFailed != 1 {
		t.Errorf("Wrong item counters: %d/%d", rec.ItemsSucceeded, rec.ItemsFailed)
	}

	// The failed change keeps its queue slot and gains a note
	var failed models.StockChange
	te.db.Where("product_id = ?", bad.ID).First(&failed)
	if failed.SyncedToInventory {
		t.Error("Failed change must stay unsynced")
	}
	if !strings.Contains(failed.Notes, "push failed") {
		t.Errorf("Expected failure note, got %q", failed.Notes)
	}
}

func TestPushStockChanges_AllFailedEntersRetryCycle(t *testing.T) {
	te := newTestEngine(t)
	product := seedProduct(t, te.db, 1, "WH1", 10)
	te.gw.applyErr[1] = &inventory.ConnectionError{Err: context.DeadlineExceeded}

	_, err := te.wc.TrackChange(product.ID, -1, models.ChangeTypeSale, Reference{ID: "S", Type: "sale"}, nil, "")
	if err != nil {
		t.Fatalf("TrackChange failed: %v", err)
	}

	res, err := te.orchestrator.PushStockChanges(context.Background(), "WH1")
	if err != nil {
		t.Fatalf("PushStockChanges failed: %v", err)
	}
	if res.Pushed != 0 || res.Failed != 1 {
		t.Fatalf("Expected 0/1 pushed/failed, got %d/%d", res.Pushed, res.Failed)
	}

	rec := te.lastRecord(t)
	if rec.Status != models.SyncStatusPending {
		t.Errorf("All-failed batch should schedule a retry, got %s", rec.Status)
	}
	if rec.NextRetryAt == nil {
		t.Error("Expected backoff schedule on the record")
	}
}

func TestReconcileWarehouse_LogsLedgerRecord(t *testing.T) {
	te := newTestEngine(t)
	te.gw.items["WH1"] = []inventory.Item{testItem(1, "WH1", 4)}

	res, err := te.orchestrator.ReconcileWarehouse(context.Background(), "WH1", models.SyncTypeForced, nil)
	if err != nil {
		t.Fatalf("ReconcileWarehouse failed: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("Expected 1 created, got %d", res.Created)
	}

	rec := te.lastRecord(t)
	if rec.EntityType != "Product" || rec.EntityID != "WH1" {
		t.Errorf("Wrong record scope: %s/%s", rec.EntityType, rec.EntityID)
	}
	if rec.SyncType != models.SyncTypeForced {
		t.Errorf("Expected forced sync type, got %s", rec.SyncType)
	}
	if rec.Status != models.SyncStatusSuccess {
		t.Errorf("Expected success, got %s", rec.Status)
	}
}
