package settings

import (
	"testing"
	"time"

	"github.com/bitwerke/kassego/internal/config"
	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := database.Wrap(gdb)
	if err := db.AutoMigrate(&models.PosSetting{}); err != nil {
		t.Fatalf("Failed to migrate test schema: %v", err)
	}
	return db
}

func defaults() config.SyncDefaults {
	return config.SyncDefaults{
		Enabled:          true,
		AutoPushOnSale:   true,
		IntervalMinutes:  15,
		RetryIntervalMin: 5,
		BatchSize:        100,
		MaxRetries:       3,
		TimeoutSeconds:   60,
	}
}

func TestStore_SeedOnlyFillsMissingKeys(t *testing.T) {
	db := newTestDB(t)

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	// Operator already tuned the batch size before this boot
	if err := store.Set(KeyBatchSize, "25"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := store.Seed(defaults()); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	if store.BatchSize() != 25 {
		t.Errorf("Seed must not overwrite an operator value, got %d", store.BatchSize())
	}
	if !store.SyncEnabled() {
		t.Error("Missing key should receive the default")
	}
	if store.SyncInterval() != 15*time.Minute {
		t.Errorf("Expected 15m interval, got %v", store.SyncInterval())
	}
	if store.SyncTimeout() != 60*time.Second {
		t.Errorf("Expected 60s timeout, got %v", store.SyncTimeout())
	}
}

func TestStore_ValuesSurviveRestart(t *testing.T) {
	db := newTestDB(t)

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Seed(defaults()); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	if err := store.Set(KeySyncEnabled, "false"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.SetCurrentWarehouse("WH-7", "Hamburg"); err != nil {
		t.Fatalf("SetCurrentWarehouse failed: %v", err)
	}

	// Fresh store over the same database reads the persisted state
	reborn, err := NewStore(db)
	if err != nil {
		t.Fatalf("Second NewStore failed: %v", err)
	}
	if reborn.SyncEnabled() {
		t.Error("Disabled flag did not survive the restart")
	}
	id, name := reborn.CurrentWarehouse()
	if id != "WH-7" || name != "Hamburg" {
		t.Errorf("Warehouse context lost: %s / %s", id, name)
	}
}

func TestStore_LastSyncRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if store.LastSyncAt() != nil {
		t.Error("Expected nil before any sync")
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := store.SetLastSyncAt(now); err != nil {
		t.Fatalf("SetLastSyncAt failed: %v", err)
	}

	got := store.LastSyncAt()
	if got == nil || !got.Equal(now) {
		t.Errorf("Expected %v, got %v", now, got)
	}
}

func TestStore_IntFallbackOnGarbage(t *testing.T) {
	db := newTestDB(t)
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := store.Set(KeyMaxRetries, "lots"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if store.MaxRetries() != 3 {
		t.Errorf("Garbage value should fall back to default, got %d", store.MaxRetries())
	}
}
