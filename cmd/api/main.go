package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitwerke/kassego/internal/config"
	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/handlers"
	"github.com/bitwerke/kassego/internal/models"
	"github.com/bitwerke/kassego/internal/services/inventory"
	"github.com/bitwerke/kassego/internal/settings"
	"github.com/bitwerke/kassego/internal/sync"
	"github.com/bitwerke/kassego/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.Product{},
		&models.StockChange{},
		&models.Sale{},
		&models.SaleLine{},
		&models.SyncRecord{},
		&models.PosSetting{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Settings store with env-provided defaults
	store, err := settings.NewStore(db)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	if err := store.Seed(cfg.Sync); err != nil {
		log.Printf("⚠️ Settings: failed to seed defaults: %v", err)
	}

	// 5. Sync engine
	log.Println("🔄 Initializing Inventory Sync Engine...")
	adapter := inventory.NewAdapter(cfg.Inventory.DSN())
	ledger := sync.NewLedger(db)
	ledger.SetMaxRetries(store.MaxRetries())

	warehouse, err := sync.NewWarehouseContext(db, adapter, store)
	if err != nil {
		log.Fatalf("Failed to init warehouse context: %v", err)
	}

	orchestrator := sync.NewOrchestrator(db, adapter, ledger, warehouse, store)
	scheduler := sync.NewRetryScheduler(ledger, orchestrator)

	hub := websocket.NewHub()
	go hub.Run()
	orchestrator.SetNotifier(hub)

	// Timers always run; each auto-sync tick re-reads the enabled
	// flag, so toggling it over the API works without a restart.
	orchestrator.Start()
	scheduler.Start()
	if store.SyncEnabled() {
		log.Println("✅ Sync Engine: Started successfully")
	} else {
		log.Println("⚠️ Sync Engine: periodic sync disabled via settings, timers idle")
	}

	// 6. Set up HTTP router
	router := handlers.NewRouter(db, handlers.Deps{
		Adapter:      adapter,
		Settings:     store,
		Ledger:       ledger,
		Orchestrator: orchestrator,
		Scheduler:    scheduler,
		Warehouse:    warehouse,
		Hub:          hub,
	})

	// 7. Start server with graceful shutdown
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 POS server starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop sync timers
	scheduler.Stop()
	orchestrator.Stop()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
