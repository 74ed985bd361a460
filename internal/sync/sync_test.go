package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bitwerke/kassego/internal/config"
	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
	"github.com/bitwerke/kassego/internal/services/inventory"
	"github.com/bitwerke/kassego/internal/settings"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens an isolated in-memory database with the full schema
func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// A second pool connection would see a different :memory: database
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := database.Wrap(gdb)
	err = db.AutoMigrate(
		&models.Product{},
		&models.StockChange{},
		&models.Sale{},
		&models.SaleLine{},
		&models.SyncRecord{},
		&models.PosSetting{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, db *database.DB) *settings.Store {
	t.Helper()

	store, err := settings.NewStore(db)
	if err != nil {
		t.Fatalf("Failed to create settings store: %v", err)
	}
	err = store.Seed(config.SyncDefaults{
		Enabled:          true,
		AutoPushOnSale:   false,
		IntervalMinutes:  15,
		RetryIntervalMin: 5,
		BatchSize:        100,
		MaxRetries:       3,
		TimeoutSeconds:   60,
	})
	if err != nil {
		t.Fatalf("Failed to seed settings: %v", err)
	}
	return store
}

type appliedDelta struct {
	ItemID      int64
	WarehouseID string
	Delta       float64
	ChangeType  string
}

// fakeGateway is an in-memory stand-in for the external store
type fakeGateway struct {
	mu         sync.Mutex
	items      map[string][]inventory.Item
	warehouses []inventory.Warehouse

	listErr  error
	applyErr map[int64]error // per-item push error

	listCalls int
	applied   []appliedDelta
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		items:    make(map[string][]inventory.Item),
		applyErr: make(map[int64]error),
	}
}

func (f *fakeGateway) ListActiveItems(ctx context.Context, warehouseID string, since *time.Time) ([]inventory.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if warehouseID != "" {
		return f.items[warehouseID], nil
	}
	var all []inventory.Item
	for _, items := range f.items {
		all = append(all, items...)
	}
	return all, nil
}

func (f *fakeGateway) ListWarehouses(ctx context.Context) ([]inventory.Warehouse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.warehouses, nil
}

func (f *fakeGateway) GetWarehouse(ctx context.Context, id string) (*inventory.Warehouse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, wh := range f.warehouses {
		if wh.ID == id {
			w := wh
			return &w, nil
		}
	}
	return nil, nil
}

func (f *fakeGateway) ApplyStockDelta(ctx context.Context, itemID int64, warehouseID string, delta float64, changeType string, actorID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.applyErr[itemID]; ok {
		return err
	}
	f.applied = append(f.applied, appliedDelta{
		ItemID:      itemID,
		WarehouseID: warehouseID,
		Delta:       delta,
		ChangeType:  changeType,
	})
	return nil
}

func (f *fakeGateway) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func testItem(id int64, warehouseID string, stock float64) inventory.Item {
	return inventory.Item{
		ID:            id,
		Name:          fmt.Sprintf("Item %d", id),
		ItemType:      "product",
		Price:         9.99,
		CostPrice:     4.50,
		CategoryName:  "Test",
		WarehouseID:   warehouseID,
		WarehouseName: "Warehouse " + warehouseID,
		Stock:         stock,
	}
}

func seedProduct(t *testing.T, db *database.DB, externalID int64, warehouseID string, stock float64) models.Product {
	t.Helper()
	p := models.Product{
		SyncID:      models.BuildSyncID(externalID, warehouseID),
		ExternalID:  externalID,
		Name:        fmt.Sprintf("Item %d", externalID),
		ItemType:    "product",
		Stock:       stock,
		WarehouseID: warehouseID,
		IsActive:    true,
		SyncStatus:  models.ProductSyncSynced,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	return p
}
