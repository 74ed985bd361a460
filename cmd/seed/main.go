package main

import (
	"fmt"
	"log"
	"time"

	"github.com/bitwerke/kassego/internal/config"
	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
	"github.com/bitwerke/kassego/internal/settings"
)

func main() {
	fmt.Println("🌱 kasseGo Demo Data Seeder")

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	fmt.Println("✅ Connected to database")
	fmt.Println()

	// Run migrations first
	fmt.Println("🔨 Running database migrations...")
	err = db.AutoMigrate(
		&models.Product{},
		&models.StockChange{},
		&models.Sale{},
		&models.SaleLine{},
		&models.SyncRecord{},
		&models.PosSetting{},
	)
	if err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	fmt.Println("✅ Migrations complete")
	fmt.Println()

	// Check if data already exists
	var productCount int64
	db.Model(&models.Product{}).Count(&productCount)
	if productCount > 0 {
		fmt.Printf("⚠️  Database already has %d products. Clear it first? (y/N): ", productCount)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("❌ Aborted. Database not modified.")
			return
		}

		// Clear existing data
		fmt.Println("🗑️  Clearing existing data...")
		db.Exec("TRUNCATE TABLE stock_changes CASCADE")
		db.Exec("TRUNCATE TABLE sale_lines CASCADE")
		db.Exec("TRUNCATE TABLE sales CASCADE")
		db.Exec("TRUNCATE TABLE sync_records CASCADE")
		db.Exec("TRUNCATE TABLE products CASCADE")
		fmt.Println("✅ Data cleared")
	}

	fmt.Println()
	fmt.Println("📦 Creating demo data...")
	fmt.Println()

	const warehouseID = "WH-BERLIN-01"
	const warehouseName = "Berlin Flagship Store"

	// 1. Active warehouse context
	fmt.Println("🏬 Setting warehouse context...")
	store, err := settings.NewStore(db)
	if err != nil {
		log.Fatalf("❌ Failed to init settings store: %v", err)
	}
	if err := store.Seed(cfg.Sync); err != nil {
		log.Fatalf("❌ Failed to seed settings: %v", err)
	}
	if err := store.SetCurrentWarehouse(warehouseID, warehouseName); err != nil {
		log.Fatalf("❌ Failed to set warehouse context: %v", err)
	}
	fmt.Printf("   ✓ Active warehouse: %s (%s)\n\n", warehouseName, warehouseID)

	// 2. Products mirroring an external catalog
	fmt.Println("📦 Creating products...")
	now := time.Now().UTC()
	products := []models.Product{
		{
			ExternalID:    1001,
			SyncID:        models.BuildSyncID(1001, warehouseID),
			Name:          "Espresso Beans 1kg",
			ItemType:      "product",
			Price:         18.90,
			CostPrice:     9.40,
			CategoryName:  "Coffee",
			SupplierName:  "Roastery Nord",
			WarehouseID:   warehouseID,
			WarehouseName: warehouseName,
			Stock:         42,
			IsActive:      true,
			SyncStatus:    models.ProductSyncSynced,
			LastSyncAt:    &now,
		},
		{
			ExternalID:    1002,
			SyncID:        models.BuildSyncID(1002, warehouseID),
			Name:          "Ceramic Mug 350ml",
			ItemType:      "product",
			Price:         12.50,
			CostPrice:     4.10,
			CategoryName:  "Accessories",
			SupplierName:  "Keramik Werk",
			WarehouseID:   warehouseID,
			WarehouseName: warehouseName,
			Stock:         120,
			IsActive:      true,
			SyncStatus:    models.ProductSyncSynced,
			LastSyncAt:    &now,
		},
		{
			ExternalID:    1003,
			SyncID:        models.BuildSyncID(1003, warehouseID),
			Name:          "Cold Brew Bottle 750ml",
			IsVariant:     true,
			VariantName:   "Amber",
			ItemType:      "product",
			Price:         24.00,
			CostPrice:     11.00,
			CategoryName:  "Accessories",
			SupplierName:  "Keramik Werk",
			WarehouseID:   warehouseID,
			WarehouseName: warehouseName,
			Stock:         15,
			IsActive:      true,
			SyncStatus:    models.ProductSyncSynced,
			LastSyncAt:    &now,
		},
		{
			ExternalID:    1004,
			SyncID:        models.BuildSyncID(1004, warehouseID),
			Name:          "Filter Papers #4 (100 pack)",
			ItemType:      "consumable",
			Price:         4.90,
			CostPrice:     1.70,
			CategoryName:  "Brewing",
			SupplierName:  "Roastery Nord",
			WarehouseID:   warehouseID,
			WarehouseName: warehouseName,
			Stock:         300,
			IsActive:      true,
			SyncStatus:    models.ProductSyncSynced,
			LastSyncAt:    &now,
		},
	}

	for i := range products {
		if err := db.Create(&products[i]).Error; err != nil {
			log.Printf("⚠️  Failed to create product %s: %v", products[i].Name, err)
		} else {
			fmt.Printf("   ✓ Created product: %s (stock %.0f)\n", products[i].Name, products[i].Stock)
		}
	}
	fmt.Printf("✅ Created %d products\n\n", len(products))

	// 3. One historical sale with its pushed stock change
	fmt.Println("🧾 Creating a sample sale...")
	sale := models.Sale{
		Reference:       "S-DEMO-0001",
		WarehouseID:     warehouseID,
		Total:           2 * products[0].Price,
		Status:          models.SaleStatusCompleted,
		PerformedByName: "demo",
		Lines: []models.SaleLine{
			{ProductID: products[0].ID, Quantity: 2, UnitPrice: products[0].Price},
		},
	}
	if err := db.Create(&sale).Error; err != nil {
		log.Printf("⚠️  Failed to create sale: %v", err)
	} else {
		syncDate := now
		change := models.StockChange{
			ProductID:         products[0].ID,
			WarehouseID:       warehouseID,
			QuantityChange:    -2,
			QuantityBefore:    44,
			QuantityAfter:     42,
			ChangeType:        models.ChangeTypeSale,
			ReferenceID:       sale.Reference,
			ReferenceType:     "sale",
			PerformedByName:   "demo",
			SyncedToInventory: true,
			SyncDate:          &syncDate,
		}
		if err := db.Create(&change).Error; err != nil {
			log.Printf("⚠️  Failed to create stock change: %v", err)
		}
		fmt.Printf("   ✓ Created sale %s with pushed stock change\n", sale.Reference)
	}

	fmt.Println()
	fmt.Println("✅ Demo data ready. Start the server with: go run ./cmd/api")
}
