package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
	"github.com/bitwerke/kassego/internal/services/inventory"
	"github.com/bitwerke/kassego/internal/settings"
	"gorm.io/gorm"
)

// Engine is the slice of the orchestrator the context manager needs:
// pushing a backlog and running a guarded, ledger-logged
// reconciliation. Kept as an interface so tests can substitute it and
// so all guard logic stays in one place.
type Engine interface {
	PushStockChanges(ctx context.Context, warehouseID string) (*PushResult, error)
	ReconcileWarehouse(ctx context.Context, warehouseID, syncType string, actor *Actor) (*ReconcileResult, error)
}

// WarehouseContext owns the "which warehouse is this till pointed at"
// decision. It is constructed once at startup from the persisted
// settings and every mutation funnels through SwitchTo, so the backlog
// check and the durable persist cannot be bypassed.
type WarehouseContext struct {
	mu       sync.RWMutex
	db       *database.DB
	adapter  inventory.Gateway
	settings *settings.Store
	engine   Engine

	currentID   string
	currentName string
	backlog     int64
}

// NewWarehouseContext loads the persisted context and the current
// backlog count
func NewWarehouseContext(db *database.DB, adapter inventory.Gateway, store *settings.Store) (*WarehouseContext, error) {
	wc := &WarehouseContext{
		db:       db,
		adapter:  adapter,
		settings: store,
	}

	wc.currentID, wc.currentName = store.CurrentWarehouse()
	if wc.currentID != "" {
		n, err := wc.UnsyncedCount(wc.currentID)
		if err != nil {
			return nil, err
		}
		wc.backlog = n
	}

	return wc, nil
}

// BindEngine wires the orchestrator in after construction; the two
// reference each other, the context manager is built first.
func (wc *WarehouseContext) BindEngine(e Engine) {
	wc.engine = e
}

// Current returns the active warehouse id and name
func (wc *WarehouseContext) Current() (string, string) {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	return wc.currentID, wc.currentName
}

// Backlog returns the cached unsynced-change count for the active warehouse
func (wc *WarehouseContext) Backlog() int64 {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	return wc.backlog
}

// UnsyncedCount counts stock changes for a warehouse that have not
// been confirmed on the external side
func (wc *WarehouseContext) UnsyncedCount(warehouseID string) (int64, error) {
	var n int64
	err := wc.db.Model(&models.StockChange{}).
		Where("warehouse_id = ? AND synced_to_inventory = ?", warehouseID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unsynced changes: %w", err)
	}
	return n, nil
}

// RefreshBacklog recounts the cached backlog from the database
func (wc *WarehouseContext) RefreshBacklog() {
	wc.mu.RLock()
	id := wc.currentID
	wc.mu.RUnlock()
	if id == "" {
		return
	}

	n, err := wc.UnsyncedCount(id)
	if err != nil {
		log.Printf("⚠️ Warehouse: backlog recount failed: %v", err)
		return
	}

	wc.mu.Lock()
	wc.backlog = n
	wc.mu.Unlock()
}

// SwitchTo changes the active warehouse. A backlog on the current
// warehouse without force returns a confirmation-required result and
// mutates nothing. With force (or a clean backlog) the old backlog is
// pushed best-effort, the new context is persisted, and the new
// warehouse is reconciled. Only a persist failure fails the switch;
// the switch must never look successful without being durable.
func (wc *WarehouseContext) SwitchTo(ctx context.Context, warehouseID, warehouseName string, force bool) (*SwitchResult, error) {
	if warehouseID == "" {
		return nil, &ValidationError{Msg: "warehouse id is required"}
	}

	wc.mu.RLock()
	oldID := wc.currentID
	wc.mu.RUnlock()

	if warehouseID == oldID {
		return &SwitchResult{
			Switched:      true,
			WarehouseID:   warehouseID,
			WarehouseName: warehouseName,
		}, nil
	}

	var backlog int64
	if oldID != "" {
		n, err := wc.UnsyncedCount(oldID)
		if err != nil {
			return nil, err
		}
		backlog = n
	}

	if backlog > 0 && !force {
		return &SwitchResult{
			RequiresConfirmation: true,
			UnsyncedCount:        backlog,
			WarehouseID:          warehouseID,
			WarehouseName:        warehouseName,
		}, nil
	}

	result := &SwitchResult{
		WarehouseID:   warehouseID,
		WarehouseName: warehouseName,
		UnsyncedCount: backlog,
	}

	// Best-effort: a failed push leaves the changes queued for the
	// retry machinery, it does not block the switch.
	if backlog > 0 && wc.engine != nil {
		pushRes, err := wc.engine.PushStockChanges(ctx, oldID)
		if err != nil {
			log.Printf("⚠️ Warehouse: backlog push before switch failed: %v", err)
		}
		result.Push = pushRes
	}

	if err := wc.settings.SetCurrentWarehouse(warehouseID, warehouseName); err != nil {
		return nil, err
	}

	wc.mu.Lock()
	wc.currentID = warehouseID
	wc.currentName = warehouseName
	wc.mu.Unlock()
	wc.RefreshBacklog()
	result.Switched = true

	if wc.engine != nil {
		syncType := models.SyncTypeManual
		if force {
			syncType = models.SyncTypeForced
		}
		recRes, err := wc.engine.ReconcileWarehouse(ctx, warehouseID, syncType, nil)
		if err != nil {
			log.Printf("⚠️ Warehouse: reconciliation after switch failed: %v", err)
		}
		result.Reconcile = recRes
	}

	log.Printf("🏬 Warehouse context switched to %s (%s)", warehouseID, warehouseName)
	return result, nil
}

// TrackChange is the synchronous local half of every stock-affecting
// POS event: mutate local stock (floored at zero), append the
// StockChange row, flag the product pending. The remote push triggered
// for sales is best-effort; a remote failure never rolls back a sale.
func (wc *WarehouseContext) TrackChange(productID uint, delta float64, changeType string, ref Reference, actor *Actor, notes string) (*models.StockChange, error) {
	switch changeType {
	case models.ChangeTypeSale, models.ChangeTypeReturn, models.ChangeTypeAdjustment:
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown change type %q", changeType)}
	}

	var product models.Product
	if err := wc.db.First(&product, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("failed to load product %d: %w", productID, err)
	}

	before := product.Stock
	after := before + delta
	if after < 0 {
		after = 0
	}

	change := &models.StockChange{
		ProductID:         product.ID,
		WarehouseID:       product.WarehouseID,
		QuantityChange:    delta,
		QuantityBefore:    before,
		QuantityAfter:     after,
		ChangeType:        changeType,
		ReferenceID:       ref.ID,
		ReferenceType:     ref.Type,
		Notes:             notes,
		SyncedToInventory: false,
	}
	if actor != nil {
		change.PerformedByID = actor.ID
		change.PerformedByName = actor.Username
	}

	err := wc.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Product{}).Where("id = ?", product.ID).Updates(map[string]interface{}{
			"stock":       after,
			"sync_status": models.ProductSyncPending,
		}).Error
		if err != nil {
			return err
		}
		return tx.Create(change).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record stock change: %w", err)
	}

	wc.mu.Lock()
	if product.WarehouseID == wc.currentID {
		wc.backlog++
	}
	wc.mu.Unlock()

	if changeType == models.ChangeTypeSale && wc.settings.AutoPushOnSale() && wc.engine != nil {
		if _, err := wc.engine.PushStockChanges(context.Background(), product.WarehouseID); err != nil {
			// The sale is committed locally; the change stays queued.
			log.Printf("⚠️ Sync: auto-push after sale failed: %v", err)
		}
	}

	return change, nil
}

// Reconcile brings the local product cache for one warehouse in line
// with the external active-item set. The external read happens before
// the local transaction opens; external drift between read and commit
// is an accepted eventual-consistency gap at POS scale. Products that
// vanished from the external set are deactivated, never deleted, so
// local sales history keeps its references.
func (wc *WarehouseContext) Reconcile(ctx context.Context, warehouseID string) (*ReconcileResult, error) {
	if warehouseID == "" {
		return nil, &ValidationError{Msg: "warehouse id is required"}
	}

	items, err := wc.adapter.ListActiveItems(ctx, warehouseID, nil)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{WarehouseID: warehouseID}
	now := time.Now().UTC()

	err = wc.db.Transaction(func(tx *gorm.DB) error {
		seen := make([]string, 0, len(items))

		for _, item := range items {
			syncID := models.BuildSyncID(item.ID, item.WarehouseID)
			seen = append(seen, syncID)

			// Savepoint per item: on Postgres a failed statement
			// poisons the enclosing transaction, so without it one
			// bad item would abort the rest of the pass.
			var outcome upsertOutcome
			err := tx.Transaction(func(itemTx *gorm.DB) error {
				var upErr error
				outcome, upErr = wc.upsertProduct(itemTx, syncID, item, now)
				return upErr
			})
			if err != nil {
				result.Failures = append(result.Failures, ItemFailure{
					EntityID: syncID,
					Error:    err.Error(),
				})
				continue
			}

			switch outcome {
			case upsertCreated:
				result.Created++
			case upsertUpdated:
				result.Updated++
			default:
				result.Unchanged++
			}
		}

		q := tx.Model(&models.Product{}).
			Where("warehouse_id = ? AND is_active = ?", warehouseID, true)
		if len(seen) > 0 {
			q = q.Where("sync_id NOT IN ?", seen)
		}
		res := q.Updates(map[string]interface{}{
			"is_active":   false,
			"sync_status": models.ProductSyncOutOfSync,
		})
		if res.Error != nil {
			return res.Error
		}
		result.Deactivated = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation transaction failed: %w", err)
	}

	return result, nil
}

type upsertOutcome int

const (
	upsertUnchanged upsertOutcome = iota
	upsertCreated
	upsertUpdated
)

func (wc *WarehouseContext) upsertProduct(tx *gorm.DB, syncID string, item inventory.Item, now time.Time) (upsertOutcome, error) {
	raw, _ := json.Marshal(item)

	var existing models.Product
	err := tx.Where("sync_id = ?", syncID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		product := models.Product{
			SyncID:          syncID,
			ExternalID:      item.ID,
			Name:            item.Name,
			IsVariant:       item.IsVariant,
			VariantName:     item.VariantName,
			ParentProductID: item.ParentID,
			ItemType:        item.ItemType,
			Stock:           item.Stock,
			Price:           item.Price,
			CostPrice:       item.CostPrice,
			CategoryName:    item.CategoryName,
			SupplierName:    item.SupplierName,
			WarehouseID:     item.WarehouseID,
			WarehouseName:   item.WarehouseName,
			IsActive:        true,
			SyncStatus:      models.ProductSyncSynced,
			LastSyncAt:      &now,
			RawData:         raw,
		}
		if err := tx.Create(&product).Error; err != nil {
			return upsertUnchanged, err
		}
		return upsertCreated, nil
	}
	if err != nil {
		return upsertUnchanged, err
	}

	if !productDiffers(existing, item) && existing.IsActive && existing.SyncStatus == models.ProductSyncSynced {
		return upsertUnchanged, nil
	}

	updates := map[string]interface{}{
		"external_id":       item.ID,
		"name":              item.Name,
		"is_variant":        item.IsVariant,
		"variant_name":      item.VariantName,
		"parent_product_id": item.ParentID,
		"item_type":         item.ItemType,
		"stock":             item.Stock,
		"price":             item.Price,
		"cost_price":        item.CostPrice,
		"category_name":     item.CategoryName,
		"supplier_name":     item.SupplierName,
		"warehouse_name":    item.WarehouseName,
		"is_active":         true,
		"sync_status":       models.ProductSyncSynced,
		"last_sync_at":      now,
		"raw_data":          raw,
	}
	if err := tx.Model(&models.Product{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return upsertUnchanged, err
	}
	return upsertUpdated, nil
}

func productDiffers(p models.Product, item inventory.Item) bool {
	if p.Name != item.Name || p.IsVariant != item.IsVariant || p.VariantName != item.VariantName {
		return true
	}
	if (p.ParentProductID == nil) != (item.ParentID == nil) {
		return true
	}
	if p.ParentProductID != nil && item.ParentID != nil && *p.ParentProductID != *item.ParentID {
		return true
	}
	if p.ItemType != item.ItemType || p.Stock != item.Stock {
		return true
	}
	if p.Price != item.Price || p.CostPrice != item.CostPrice {
		return true
	}
	if p.CategoryName != item.CategoryName || p.SupplierName != item.SupplierName {
		return true
	}
	if p.WarehouseName != item.WarehouseName {
		return true
	}
	return false
}
