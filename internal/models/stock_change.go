package models

import (
	"time"
)

// Stock change types
const (
	ChangeTypeSale       = "sale"
	ChangeTypeReturn     = "return"
	ChangeTypeAdjustment = "adjustment"
)

// StockChange is one local stock movement produced by a POS event.
// Rows are created synchronously with the local stock mutation and
// consumed oldest-first in bounded batches by the outbound push.
// SyncedToInventory flips to true exactly once, after the delta has
// been confirmed on the external side; it is never reverted.
type StockChange struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID   uint   `gorm:"column:product_id;index;not null" json:"productId"`
	WarehouseID string `gorm:"column:warehouse_id;type:varchar(50);index:idx_change_backlog;not null" json:"warehouseId"`

	QuantityChange float64 `gorm:"column:quantity_change;not null" json:"quantityChange"` // signed
	QuantityBefore float64 `gorm:"column:quantity_before;not null" json:"quantityBefore"`
	QuantityAfter  float64 `gorm:"column:quantity_after;not null" json:"quantityAfter"`

	ChangeType    string `gorm:"column:change_type;type:varchar(20);not null" json:"changeType"` // sale, return, adjustment
	ReferenceID   string `gorm:"column:reference_id;type:varchar(100)" json:"referenceId"`
	ReferenceType string `gorm:"column:reference_type;type:varchar(50)" json:"referenceType"`

	PerformedByID   *int64 `gorm:"column:performed_by_id" json:"performedById"`
	PerformedByName string `gorm:"column:performed_by_name" json:"performedByName"`
	Notes           string `gorm:"column:notes;type:text" json:"notes"`

	SyncedToInventory bool       `gorm:"column:synced_to_inventory;default:false;index:idx_change_backlog" json:"syncedToInventory"`
	SyncDate          *time.Time `gorm:"column:sync_date" json:"syncDate"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Product Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

// TableName specifies the table name
func (StockChange) TableName() string {
	return "stock_changes"
}
