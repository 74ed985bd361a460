package settings

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bitwerke/kassego/internal/config"
	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys
const (
	KeySyncEnabled          = "sync.enabled"
	KeyAutoPushOnSale       = "sync.auto_push_on_sale"
	KeySyncIntervalMin      = "sync.interval_minutes"
	KeyRetryIntervalMin     = "sync.retry_interval_minutes"
	KeyBatchSize            = "sync.batch_size"
	KeyMaxRetries           = "sync.max_retries"
	KeyTimeoutSeconds       = "sync.timeout_seconds"
	KeyLastSyncAt           = "sync.last_sync_at"
	KeyConnectionStatus     = "sync.connection_status"
	KeyCurrentWarehouseID   = "warehouse.current_id"
	KeyCurrentWarehouseName = "warehouse.current_name"
)

// Store is the persisted runtime configuration of the sync engine,
// backed by the pos_settings table with a write-through cache. The
// bootstrap .env values only seed missing keys; after that the table
// is authoritative so operator changes survive restarts.
type Store struct {
	db    *database.DB
	mu    sync.RWMutex
	cache map[string]string
}

// NewStore creates a settings store and loads the current table contents
func NewStore(db *database.DB) (*Store, error) {
	s := &Store{
		db:    db,
		cache: make(map[string]string),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reload() error {
	var rows []models.PosSetting
	if err := s.db.Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]string, len(rows))
	for _, row := range rows {
		s.cache[row.Key] = row.Value
	}
	return nil
}

// Seed inserts defaults for keys that have never been written
func (s *Store) Seed(defaults config.SyncDefaults) error {
	seed := map[string]string{
		KeySyncEnabled:      strconv.FormatBool(defaults.Enabled),
		KeyAutoPushOnSale:   strconv.FormatBool(defaults.AutoPushOnSale),
		KeySyncIntervalMin:  strconv.Itoa(defaults.IntervalMinutes),
		KeyRetryIntervalMin: strconv.Itoa(defaults.RetryIntervalMin),
		KeyBatchSize:        strconv.Itoa(defaults.BatchSize),
		KeyMaxRetries:       strconv.Itoa(defaults.MaxRetries),
		KeyTimeoutSeconds:   strconv.Itoa(defaults.TimeoutSeconds),
		KeyConnectionStatus: "unknown",
	}

	for key, value := range seed {
		row := models.PosSetting{Key: key, Value: value}
		if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}

	return s.reload()
}

// Get returns the raw value for a key, empty string if unset
func (s *Store) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[key]
}

// Set persists a value and updates the cache. The write must land on
// disk before the cache changes, callers rely on that for durability.
func (s *Store) Set(key, value string) error {
	row := models.PosSetting{Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to persist setting %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return nil
}

func (s *Store) getBool(key string) bool {
	v := s.Get(key)
	return v == "true" || v == "1" || v == "yes"
}

func (s *Store) getInt(key string, fallback int) int {
	if n, err := strconv.Atoi(s.Get(key)); err == nil {
		return n
	}
	return fallback
}

// SyncEnabled reports whether the periodic inbound sync runs at all
func (s *Store) SyncEnabled() bool { return s.getBool(KeySyncEnabled) }

// AutoPushOnSale reports whether sales trigger an immediate outbound push
func (s *Store) AutoPushOnSale() bool { return s.getBool(KeyAutoPushOnSale) }

// SyncInterval is the periodic inbound sync cadence
func (s *Store) SyncInterval() time.Duration {
	return time.Duration(s.getInt(KeySyncIntervalMin, 15)) * time.Minute
}

// RetryInterval is the retry-scan cadence
func (s *Store) RetryInterval() time.Duration {
	return time.Duration(s.getInt(KeyRetryIntervalMin, 5)) * time.Minute
}

// BatchSize caps one outbound push batch
func (s *Store) BatchSize() int { return s.getInt(KeyBatchSize, 100) }

// MaxRetries caps automatic ledger retries before a record goes terminal
func (s *Store) MaxRetries() int { return s.getInt(KeyMaxRetries, 3) }

// SyncTimeout is the wall-clock budget around external interaction
func (s *Store) SyncTimeout() time.Duration {
	return time.Duration(s.getInt(KeyTimeoutSeconds, 60)) * time.Second
}

// LastSyncAt returns the last successful inbound sync time, nil if never
func (s *Store) LastSyncAt() *time.Time {
	v := s.Get(KeyLastSyncAt)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

// SetLastSyncAt stores the last successful inbound sync time
func (s *Store) SetLastSyncAt(t time.Time) error {
	return s.Set(KeyLastSyncAt, t.UTC().Format(time.RFC3339))
}

// ConnectionStatus returns the last observed external store status
func (s *Store) ConnectionStatus() string { return s.Get(KeyConnectionStatus) }

// SetConnectionStatus stores the external store status string
func (s *Store) SetConnectionStatus(status string) error {
	return s.Set(KeyConnectionStatus, status)
}

// CurrentWarehouse returns the persisted warehouse context
func (s *Store) CurrentWarehouse() (id, name string) {
	return s.Get(KeyCurrentWarehouseID), s.Get(KeyCurrentWarehouseName)
}

// SetCurrentWarehouse persists both context keys in one transaction so
// a crash can never leave the id and name referring to different
// warehouses.
func (s *Store) SetCurrentWarehouse(id, name string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range map[string]string{
			KeyCurrentWarehouseID:   id,
			KeyCurrentWarehouseName: name,
		} {
			row := models.PosSetting{Key: key, Value: value}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist warehouse context: %w", err)
	}

	s.mu.Lock()
	s.cache[KeyCurrentWarehouseID] = id
	s.cache[KeyCurrentWarehouseName] = name
	s.mu.Unlock()
	return nil
}
