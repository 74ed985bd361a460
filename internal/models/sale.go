package models

import (
	"time"
)

// Sale statuses
const (
	SaleStatusCompleted = "completed"
	SaleStatusReturned  = "returned"
)

// Sale is a completed POS transaction. Stock effects are carried by
// StockChange rows, one per line; the sale itself never blocks on the
// outbound push.
type Sale struct {
	ID          int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference   string  `gorm:"column:reference;type:varchar(64);uniqueIndex;not null" json:"reference"`
	WarehouseID string  `gorm:"column:warehouse_id;type:varchar(50);index;not null" json:"warehouseId"`
	Total       float64 `gorm:"column:total;default:0" json:"total"`
	Status      string  `gorm:"column:status;type:varchar(20);default:'completed'" json:"status"`

	PerformedByID   *int64 `gorm:"column:performed_by_id" json:"performedById"`
	PerformedByName string `gorm:"column:performed_by_name" json:"performedByName"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Lines []SaleLine `gorm:"foreignKey:SaleID" json:"lines,omitempty"`
}

// TableName specifies the table name
func (Sale) TableName() string {
	return "sales"
}

// SaleLine is one product position on a sale
type SaleLine struct {
	ID        int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	SaleID    int64   `gorm:"column:sale_id;index;not null" json:"saleId"`
	ProductID uint    `gorm:"column:product_id;not null" json:"productId"`
	Quantity  float64 `gorm:"column:quantity;not null" json:"quantity"`
	UnitPrice float64 `gorm:"column:unit_price;not null" json:"unitPrice"`

	Product Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

// TableName specifies the table name
func (SaleLine) TableName() string {
	return "sale_lines"
}
