package inventory

import (
	"context"
	"time"
)

// Item is one external inventory item (product or variant) with its
// computed stock in one warehouse. The adapter flattens the external
// joins into this shape; nothing else in the POS sees external tables.
type Item struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	IsVariant     bool       `json:"isVariant"`
	VariantName   string     `json:"variantName"`
	ParentID      *int64     `json:"parentId"`
	ItemType      string     `json:"itemType"`
	Price         float64    `json:"price"`
	CostPrice     float64    `json:"costPrice"`
	CategoryName  string     `json:"categoryName"`
	SupplierName  string     `json:"supplierName"`
	WarehouseID   string     `json:"warehouseId"`
	WarehouseName string     `json:"warehouseName"`
	Stock         float64    `json:"stock"`
	UpdatedAt     *time.Time `json:"updatedAt"`
}

// Warehouse is an external warehouse descriptor
type Warehouse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

// Gateway is the narrow surface the sync engine sees. The production
// implementation is Adapter; tests substitute a fake.
type Gateway interface {
	// ListActiveItems returns the active external item set with
	// per-warehouse stock. warehouseID "" means every active
	// warehouse; since non-nil switches to incremental mode.
	ListActiveItems(ctx context.Context, warehouseID string, since *time.Time) ([]Item, error)

	// ListWarehouses returns all active external warehouses
	ListWarehouses(ctx context.Context) ([]Warehouse, error)

	// GetWarehouse returns one warehouse descriptor, nil if unknown
	GetWarehouse(ctx context.Context, id string) (*Warehouse, error)

	// ApplyStockDelta applies a signed quantity change to one
	// item/warehouse pair inside the external store's own transaction
	ApplyStockDelta(ctx context.Context, itemID int64, warehouseID string, delta float64, changeType string, actorID *int64) error
}
