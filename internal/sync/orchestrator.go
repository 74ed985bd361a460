package sync

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
	"github.com/bitwerke/kassego/internal/services/inventory"
	"github.com/bitwerke/kassego/internal/settings"
)

// Notifier receives sync lifecycle events for connected POS terminals
type Notifier interface {
	Broadcast(event string, data interface{})
}

// Orchestrator is the top-level sync entry point: the periodic inbound
// catalog sync, the manual/forced sync, and the outbound stock pushes.
// One in-process flag serializes every reconciliation and every
// retry-driven replay; two passes rewriting the same product rows
// concurrently is the one thing this engine must never do.
type Orchestrator struct {
	mu       sync.Mutex
	db       *database.DB
	adapter  inventory.Gateway
	ledger   *Ledger
	wc       *WarehouseContext
	settings *settings.Store
	notifier Notifier

	isSyncing bool
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewOrchestrator wires the orchestrator and binds it into the
// warehouse context manager
func NewOrchestrator(db *database.DB, adapter inventory.Gateway, ledger *Ledger, wc *WarehouseContext, store *settings.Store) *Orchestrator {
	o := &Orchestrator{
		db:       db,
		adapter:  adapter,
		ledger:   ledger,
		wc:       wc,
		settings: store,
		stopChan: make(chan struct{}),
	}
	wc.BindEngine(o)
	return o
}

// SetNotifier attaches the terminal event broadcaster
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// Start launches the periodic inbound sync loop. The interval is read
// from the settings store on every round so operator changes apply
// without a restart.
func (o *Orchestrator) Start() {
	go func() {
		log.Println("🔄 Sync Orchestrator started")
		for {
			select {
			case <-time.After(o.settings.SyncInterval()):
				if _, err := o.AutoSync(); err != nil {
					log.Printf("⚠️ Sync: periodic sync failed: %v", err)
				}
			case <-o.stopChan:
				log.Println("🛑 Sync Orchestrator stopped")
				return
			}
		}
	}()
}

// Stop halts the periodic loop. An in-flight pass runs to completion;
// there is no mid-flight cancellation.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopChan) })
}

// Syncing reports whether a pass is currently running
func (o *Orchestrator) Syncing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isSyncing
}

func (o *Orchestrator) tryBegin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isSyncing {
		return false
	}
	o.isSyncing = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.isSyncing = false
	o.mu.Unlock()
}

func (o *Orchestrator) notify(event string, data interface{}) {
	if o.notifier != nil {
		o.notifier.Broadcast(event, data)
	}
}

// AutoSync is the periodic inbound full sync across every active
// external warehouse. A second call while one is running is a logged
// no-op, never queued; the next tick picks up remaining work.
func (o *Orchestrator) AutoSync() (*SyncSummary, error) {
	if !o.settings.SyncEnabled() {
		return nil, nil
	}
	if !o.tryBegin() {
		log.Println("⏳ Sync: pass already in progress, skipping tick")
		return nil, nil
	}
	defer o.end()

	return o.runCatalogSync(models.SyncTypeAuto, nil, nil)
}

// ManualSync runs the same inbound path on operator demand and returns
// the detailed result synchronously. It still respects the
// single-flight guard; two concurrent reconciliations are never
// allowed.
func (o *Orchestrator) ManualSync(actor *Actor, forced bool) (*SyncSummary, error) {
	if !o.tryBegin() {
		return nil, ErrSyncInProgress
	}
	defer o.end()

	syncType := models.SyncTypeManual
	if forced {
		syncType = models.SyncTypeForced
	}
	return o.runCatalogSync(syncType, actor, nil)
}

// runCatalogSync performs one inbound catalog pass. Caller holds the
// single-flight guard. When rec is non-nil this is a replay of an
// existing ledger record instead of a fresh one.
func (o *Orchestrator) runCatalogSync(syncType string, actor *Actor, rec *models.SyncRecord) (*SyncSummary, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.settings.SyncTimeout())
	defer cancel()

	if rec == nil {
		var err error
		rec, err = o.ledger.Begin("System", "catalog", models.SyncDirectionInbound, syncType,
			models.JSONB{"scope": "all_warehouses"}, actor)
		if err != nil {
			return nil, err
		}
	}

	summary := &SyncSummary{
		RecordID:  rec.ID,
		SyncType:  syncType,
		StartedAt: time.Now().UTC(),
	}

	log.Printf("🔄 Sync: starting %s catalog sync (record %d)", syncType, rec.ID)

	warehouses, err := o.adapter.ListWarehouses(ctx)
	if err != nil {
		o.recordFailure(rec.ID, err, Stats{})
		o.setConnectionStatus("error: " + err.Error())
		o.notify("sync.failed", map[string]interface{}{"recordId": rec.ID, "error": err.Error()})
		return nil, err
	}

	stats := Stats{}
	var passErrors []string

	for _, wh := range warehouses {
		res, err := o.wc.Reconcile(ctx, wh.ID)
		if err != nil {
			passErrors = append(passErrors, fmt.Sprintf("%s: %v", wh.ID, err))
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}

		summary.Warehouses = append(summary.Warehouses, *res)
		summary.Created += res.Created
		summary.Updated += res.Updated
		summary.Deactivated += res.Deactivated

		stats.Processed += res.Created + res.Updated + res.Unchanged + len(res.Failures)
		stats.Succeeded += res.Created + res.Updated + res.Unchanged
		stats.Failed += len(res.Failures)
		for _, f := range res.Failures {
			summary.Errors = append(summary.Errors, f.Error)
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	payload := models.JSONB{
		"scope":       "all_warehouses",
		"warehouses":  len(warehouses),
		"created":     summary.Created,
		"updated":     summary.Updated,
		"deactivated": summary.Deactivated,
	}

	switch {
	case len(warehouses) > 0 && len(passErrors) == len(warehouses):
		err := fmt.Errorf("all warehouses failed: %s", strings.Join(passErrors, "; "))
		o.recordFailure(rec.ID, err, stats)
		o.setConnectionStatus("error: " + passErrors[0])
		o.notify("sync.failed", map[string]interface{}{"recordId": rec.ID, "error": err.Error()})
		return summary, err

	case len(summary.Errors) > 0:
		if err := o.ledger.MarkPartial(rec.ID, payload, stats, strings.Join(summary.Errors, "; ")); err != nil {
			return summary, err
		}
		// The pass did complete; last-sync tracks completion, not
		// perfection.
		if err := o.settings.SetLastSyncAt(time.Now().UTC()); err != nil {
			log.Printf("⚠️ Sync: failed to persist last-sync timestamp: %v", err)
		}
		o.setConnectionStatus("connected")
		o.notify("sync.partial", summary)

	default:
		if err := o.ledger.Complete(rec.ID, payload, stats); err != nil {
			return summary, err
		}
		if err := o.settings.SetLastSyncAt(time.Now().UTC()); err != nil {
			log.Printf("⚠️ Sync: failed to persist last-sync timestamp: %v", err)
		}
		o.setConnectionStatus("connected")
		o.notify("sync.completed", summary)
	}

	log.Printf("✅ Sync: catalog sync finished in %v (created %d, updated %d, deactivated %d, errors %d)",
		summary.Duration, summary.Created, summary.Updated, summary.Deactivated, len(summary.Errors))
	return summary, nil
}

// ReconcileWarehouse runs a guarded, ledger-logged reconciliation for
// one warehouse. Implements Engine for the context manager.
func (o *Orchestrator) ReconcileWarehouse(ctx context.Context, warehouseID, syncType string, actor *Actor) (*ReconcileResult, error) {
	if warehouseID == "" {
		return nil, &ValidationError{Msg: "warehouse id is required"}
	}
	if !o.tryBegin() {
		return nil, ErrSyncInProgress
	}
	defer o.end()

	ctx, cancel := context.WithTimeout(ctx, o.settings.SyncTimeout())
	defer cancel()

	rec, err := o.ledger.Begin("Product", warehouseID, models.SyncDirectionInbound, syncType,
		models.JSONB{"warehouse_id": warehouseID}, actor)
	if err != nil {
		return nil, err
	}

	res, err := o.wc.Reconcile(ctx, warehouseID)
	if err != nil {
		o.recordFailure(rec.ID, err, Stats{})
		o.setConnectionStatus("error: " + err.Error())
		return nil, err
	}

	stats := Stats{
		Processed: res.Created + res.Updated + res.Unchanged + len(res.Failures),
		Succeeded: res.Created + res.Updated + res.Unchanged,
		Failed:    len(res.Failures),
	}
	payload := models.JSONB{
		"warehouse_id": warehouseID,
		"created":      res.Created,
		"updated":      res.Updated,
		"deactivated":  res.Deactivated,
	}

	if len(res.Failures) > 0 {
		var msgs []string
		for _, f := range res.Failures {
			msgs = append(msgs, f.Error)
		}
		if err := o.ledger.MarkPartial(rec.ID, payload, stats, strings.Join(msgs, "; ")); err != nil {
			return res, err
		}
	} else {
		if err := o.ledger.Complete(rec.ID, payload, stats); err != nil {
			return res, err
		}
	}
	o.setConnectionStatus("connected")

	return res, nil
}

// PushStockChanges pushes one FIFO batch of unsynced stock changes for
// a warehouse to the external store. Per-item failures leave the row
// unsynced and noted; the next batch simply re-attempts it. Implements
// Engine.
func (o *Orchestrator) PushStockChanges(ctx context.Context, warehouseID string) (*PushResult, error) {
	if warehouseID == "" {
		return nil, &ValidationError{Msg: "warehouse id is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, o.settings.SyncTimeout())
	defer cancel()

	var changes []models.StockChange
	err := o.db.
		Where("warehouse_id = ? AND synced_to_inventory = ?", warehouseID, false).
		Order("created_at ASC").
		Limit(o.settings.BatchSize()).
		Find(&changes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load unsynced changes: %w", err)
	}

	result := &PushResult{WarehouseID: warehouseID}
	if len(changes) == 0 {
		return result, nil
	}

	changeIDs := make([]interface{}, 0, len(changes))
	for _, c := range changes {
		changeIDs = append(changeIDs, c.ID)
	}
	rec, err := o.ledger.Begin("Sale", warehouseID, models.SyncDirectionOutbound, models.SyncTypeAuto,
		models.JSONB{"warehouse_id": warehouseID, "change_ids": changeIDs}, nil)
	if err != nil {
		return nil, err
	}

	res, err := o.pushBatch(ctx, warehouseID, changes, rec)
	return res, err
}

// pushBatch applies one loaded batch and settles the given ledger
// record. Shared by the fresh-push and retry-replay paths.
func (o *Orchestrator) pushBatch(ctx context.Context, warehouseID string, changes []models.StockChange, rec *models.SyncRecord) (*PushResult, error) {
	result := &PushResult{WarehouseID: warehouseID}
	now := time.Now().UTC()
	products := make(map[uint]*models.Product)
	var firstErr error

	for i := range changes {
		change := &changes[i]

		product, ok := products[change.ProductID]
		if !ok {
			var p models.Product
			if err := o.db.First(&p, change.ProductID).Error; err != nil {
				o.noteChangeFailure(change, fmt.Sprintf("product %d missing locally", change.ProductID))
				result.Failed++
				result.Failures = append(result.Failures, ItemFailure{
					EntityID: fmt.Sprintf("%d", change.ID),
					Error:    err.Error(),
				})
				continue
			}
			product = &p
			products[change.ProductID] = product
		}

		err := o.adapter.ApplyStockDelta(ctx, product.ExternalID, warehouseID,
			change.QuantityChange, change.ChangeType, change.PerformedByID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			o.noteChangeFailure(change, err.Error())
			result.Failed++
			result.Failures = append(result.Failures, ItemFailure{
				EntityID: fmt.Sprintf("%d", change.ID),
				Error:    err.Error(),
			})
			continue
		}

		// The flag flips exactly once; the guard on synced_to_inventory
		// keeps a replayed batch from re-applying the delta.
		err = o.db.Model(&models.StockChange{}).
			Where("id = ? AND synced_to_inventory = ?", change.ID, false).
			Updates(map[string]interface{}{
				"synced_to_inventory": true,
				"sync_date":           now,
			}).Error
		if err != nil {
			// The external side has the delta; keep it flagged unsynced
			// and let the idempotency note warn the operator.
			o.noteChangeFailure(change, "external apply ok but local flag failed: "+err.Error())
			result.Failed++
			continue
		}

		err = o.db.Model(&models.Product{}).Where("id = ?", product.ID).Updates(map[string]interface{}{
			"sync_status":  models.ProductSyncSynced,
			"last_sync_at": now,
		}).Error
		if err != nil {
			// The change itself is flagged; a stale product status
			// heals on the next catalog pass.
			log.Printf("⚠️ Sync: failed to mark product %d synced: %v", product.ID, err)
		}

		result.Pushed++
	}

	if remaining, err := o.wc.UnsyncedCount(warehouseID); err == nil {
		result.Remaining = remaining
	}
	o.wc.RefreshBacklog()

	stats := Stats{
		Processed: result.Pushed + result.Failed,
		Succeeded: result.Pushed,
		Failed:    result.Failed,
	}
	payload := models.JSONB{
		"warehouse_id": warehouseID,
		"pushed":       result.Pushed,
		"failed":       result.Failed,
	}

	switch {
	case result.Failed == 0:
		if err := o.ledger.Complete(rec.ID, payload, stats); err != nil {
			return result, err
		}
		o.notify("push.completed", result)

	case result.Pushed > 0:
		var msgs []string
		for _, f := range result.Failures {
			msgs = append(msgs, f.Error)
		}
		if err := o.ledger.MarkPartial(rec.ID, payload, stats, strings.Join(msgs, "; ")); err != nil {
			return result, err
		}
		o.notify("push.partial", result)

	default:
		if firstErr == nil {
			firstErr = fmt.Errorf("all %d stock changes failed to push", result.Failed)
		}
		o.recordFailure(rec.ID, firstErr, stats)
		o.notify("push.failed", result)
	}

	log.Printf("📤 Sync: pushed %d/%d stock changes for warehouse %s (%d still queued)",
		result.Pushed, stats.Processed, warehouseID, result.Remaining)
	return result, nil
}

func (o *Orchestrator) noteChangeFailure(change *models.StockChange, msg string) {
	note := change.Notes
	if note != "" {
		note += "; "
	}
	note += "push failed: " + msg

	err := o.db.Model(&models.StockChange{}).Where("id = ?", change.ID).
		Update("notes", note).Error
	if err != nil {
		log.Printf("⚠️ Sync: failed to note push failure on change %d: %v", change.ID, err)
	}
}

// Redispatch replays a ledger record through the code path that
// produced it. Dispatch is by direction and entity type from the
// stored payload, never by remembering a closure. Honors the
// single-flight guard; ErrSyncInProgress means "requeue me".
func (o *Orchestrator) Redispatch(rec *models.SyncRecord) error {
	switch rec.Direction {
	case models.SyncDirectionInbound:
		if !o.tryBegin() {
			return ErrSyncInProgress
		}
		defer o.end()

		switch rec.EntityType {
		case "System":
			_, err := o.runCatalogSync(models.SyncTypeRetry, nil, rec)
			return err
		case "Product":
			return o.redispatchReconcile(rec)
		default:
			return &ValidationError{Msg: fmt.Sprintf("no inbound handler for entity type %q", rec.EntityType)}
		}

	case models.SyncDirectionOutbound:
		if !o.tryBegin() {
			return ErrSyncInProgress
		}
		defer o.end()

		return o.redispatchPush(rec)

	default:
		return &ValidationError{Msg: fmt.Sprintf("unknown sync direction %q", rec.Direction)}
	}
}

func (o *Orchestrator) redispatchReconcile(rec *models.SyncRecord) error {
	warehouseID := payloadString(rec.Payload, "warehouse_id")
	if warehouseID == "" {
		warehouseID = rec.EntityID
	}
	if warehouseID == "" {
		return &ValidationError{Msg: "record payload carries no warehouse id"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.settings.SyncTimeout())
	defer cancel()

	res, err := o.wc.Reconcile(ctx, warehouseID)
	if err != nil {
		o.recordFailure(rec.ID, err, Stats{})
		return err
	}

	stats := Stats{
		Processed: res.Created + res.Updated + res.Unchanged + len(res.Failures),
		Succeeded: res.Created + res.Updated + res.Unchanged,
		Failed:    len(res.Failures),
	}
	return o.ledger.Complete(rec.ID, models.JSONB{
		"warehouse_id": warehouseID,
		"created":      res.Created,
		"updated":      res.Updated,
		"deactivated":  res.Deactivated,
	}, stats)
}

func (o *Orchestrator) redispatchPush(rec *models.SyncRecord) error {
	warehouseID := payloadString(rec.Payload, "warehouse_id")
	if warehouseID == "" {
		warehouseID = rec.EntityID
	}
	if warehouseID == "" {
		return &ValidationError{Msg: "record payload carries no warehouse id"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.settings.SyncTimeout())
	defer cancel()

	// Re-load from the backlog instead of the stored change ids: rows
	// pushed by a later batch are already flagged and must not be
	// re-applied.
	var changes []models.StockChange
	err := o.db.
		Where("warehouse_id = ? AND synced_to_inventory = ?", warehouseID, false).
		Order("created_at ASC").
		Limit(o.settings.BatchSize()).
		Find(&changes).Error
	if err != nil {
		return fmt.Errorf("failed to load unsynced changes: %w", err)
	}

	if len(changes) == 0 {
		return o.ledger.Complete(rec.ID, models.JSONB{
			"warehouse_id": warehouseID,
			"pushed":       0,
			"note":         "backlog already drained",
		}, Stats{})
	}

	_, err = o.pushBatch(ctx, warehouseID, changes, rec)
	return err
}

// recordFailure books an error on a ledger record, choosing between
// the backoff cycle and an immediate terminal failure
func (o *Orchestrator) recordFailure(recordID int64, syncErr error, stats Stats) {
	var err error
	if inventory.Retryable(syncErr) {
		err = o.ledger.Fail(recordID, syncErr, stats)
	} else {
		err = o.ledger.FailTerminal(recordID, syncErr, stats)
	}
	if err != nil {
		log.Printf("⚠️ Sync: failed to record failure on ledger record %d: %v", recordID, err)
	}
}

func (o *Orchestrator) setConnectionStatus(status string) {
	if err := o.settings.SetConnectionStatus(status); err != nil {
		log.Printf("⚠️ Sync: failed to persist connection status: %v", err)
	}
}

func payloadString(payload models.JSONB, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
