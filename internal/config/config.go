package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	Port      string
	Database  DatabaseConfig
	Inventory InventoryConfig
	Sync      SyncDefaults
}

// DatabaseConfig holds local POS database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// InventoryConfig holds the connection settings for the external
// inventory system's MySQL datastore. The schema over there is owned
// by the other system; we only touch it through the adapter.
type InventoryConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// SyncDefaults seeds the persisted sync settings on first start.
// After that the values in pos_settings win.
type SyncDefaults struct {
	Enabled          bool
	AutoPushOnSale   bool
	IntervalMinutes  int
	RetryIntervalMin int
	BatchSize        int
	MaxRetries       int
	TimeoutSeconds   int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		NodeEnv: getEnv("NODE_ENV", "development"),
		Port:    getEnv("PORT", "3001"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "kassego"),
		},
		Inventory: InventoryConfig{
			Host:     getEnv("INVENTORY_DB_HOST", "localhost"),
			Port:     getEnv("INVENTORY_DB_PORT", "3306"),
			Username: getEnv("INVENTORY_DB_USER", "inventory"),
			Password: os.Getenv("INVENTORY_DB_PASSWORD"),
			Database: getEnv("INVENTORY_DB_NAME", "inventory"),
		},
		Sync: SyncDefaults{
			Enabled:          getBoolEnv("SYNC_ENABLED", true),
			AutoPushOnSale:   getBoolEnv("SYNC_AUTO_PUSH_ON_SALE", true),
			IntervalMinutes:  getIntEnv("SYNC_INTERVAL_MINUTES", 15),
			RetryIntervalMin: getIntEnv("SYNC_RETRY_INTERVAL_MINUTES", 5),
			BatchSize:        getIntEnv("SYNC_BATCH_SIZE", 100),
			MaxRetries:       getIntEnv("SYNC_MAX_RETRIES", 3),
			TimeoutSeconds:   getIntEnv("SYNC_TIMEOUT_SECONDS", 60),
		},
	}

	return cfg, nil
}

// DSN builds the MySQL connection string for the external inventory store
func (c InventoryConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
