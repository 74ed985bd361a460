package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Product sync statuses
const (
	ProductSyncSynced    = "synced"
	ProductSyncPending   = "pending"
	ProductSyncOutOfSync = "out_of_sync"
)

// Product is the local POS cache of an external inventory item, scoped
// to one warehouse. SyncID is the unique external key
// "<externalItemID>_<warehouseID>"; one external item sold from two
// warehouses yields two local rows.
type Product struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	SyncID     string `gorm:"column:sync_id;type:varchar(100);uniqueIndex;not null" json:"syncId"`
	ExternalID int64  `gorm:"column:external_id;index;not null" json:"externalId"`

	Name            string `gorm:"not null" json:"name"`
	IsVariant       bool   `gorm:"column:is_variant;default:false" json:"isVariant"`
	VariantName     string `gorm:"column:variant_name" json:"variantName"`
	ParentProductID *int64 `gorm:"column:parent_product_id" json:"parentProductId"`
	ItemType        string `gorm:"column:item_type;type:varchar(50)" json:"itemType"`

	Stock     float64 `gorm:"column:stock;default:0" json:"stock"`
	Price     float64 `gorm:"column:price;default:0" json:"price"`
	CostPrice float64 `gorm:"column:cost_price;default:0" json:"costPrice"`

	CategoryName  string `gorm:"column:category_name" json:"categoryName"`
	SupplierName  string `gorm:"column:supplier_name" json:"supplierName"`
	WarehouseID   string `gorm:"column:warehouse_id;type:varchar(50);index;not null" json:"warehouseId"`
	WarehouseName string `gorm:"column:warehouse_name" json:"warehouseName"`

	IsActive   bool       `gorm:"column:is_active;default:true" json:"isActive"`
	SyncStatus string     `gorm:"column:sync_status;type:varchar(20);default:'pending';index" json:"syncStatus"` // synced, pending, out_of_sync
	LastSyncAt *time.Time `gorm:"column:last_sync_at" json:"lastSyncAt"`

	// Raw external snapshot from the last reconciliation pass
	RawData datatypes.JSON `gorm:"type:jsonb" json:"rawData,omitempty"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name
func (Product) TableName() string {
	return "products"
}

// BuildSyncID composes the unique external key for an item/warehouse pair
func BuildSyncID(externalID int64, warehouseID string) string {
	return fmt.Sprintf("%d_%s", externalID, warehouseID)
}
