package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Adapter is the production Gateway against the external inventory
// system's MySQL datastore. The schema over there belongs to the other
// system; every call opens one connection, performs one logical
// operation and disconnects, so a crashed sync pass can never leak a
// held connection across ticks.
type Adapter struct {
	dsn string
}

// NewAdapter creates an adapter for the given MySQL DSN
func NewAdapter(dsn string) *Adapter {
	return &Adapter{dsn: dsn}
}

// connect opens a fresh single-use connection to the external store
func (a *Adapter) connect(ctx context.Context) (*gorm.DB, func(), error) {
	db, err := gorm.Open(mysql.Open(a.dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, nil, &ConnectionError{Err: err}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, &ConnectionError{Err: err}
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, nil, &ConnectionError{Err: err}
	}

	cleanup := func() {
		if err := sqlDB.Close(); err != nil {
			log.Printf("⚠️ Inventory: failed to close connection: %v", err)
		}
	}
	return db, cleanup, nil
}

// itemRow is the scan target for both the wide and the narrow query
type itemRow struct {
	ID            int64
	Name          string
	IsVariant     bool
	VariantName   *string
	ParentID      *int64
	ItemType      *string
	Price         float64
	CostPrice     float64
	CategoryName  *string
	SupplierName  *string
	WarehouseID   string
	WarehouseName string
	Stock         float64
	UpdatedAt     *time.Time
}

const listItemsWide = `
SELECT i.id, i.name, i.is_variant, i.variant_name, i.parent_id, i.item_type,
       i.price, i.cost_price,
       c.name AS category_name, s.name AS supplier_name,
       w.id AS warehouse_id, w.name AS warehouse_name,
       COALESCE(st.quantity, 0) AS stock,
       i.updated_at
FROM items i
JOIN warehouses w ON w.is_active = 1
LEFT JOIN categories c ON c.id = i.category_id
LEFT JOIN suppliers s ON s.id = i.supplier_id
LEFT JOIN stocks st ON st.item_id = i.id AND st.warehouse_id = w.id
WHERE i.is_active = 1`

// Narrow fallback: some installations lack the categories/suppliers
// tables, the catalog itself must still come through.
const listItemsNarrow = `
SELECT i.id, i.name, i.is_variant, i.variant_name, i.parent_id, i.item_type,
       i.price, i.cost_price,
       w.id AS warehouse_id, w.name AS warehouse_name,
       COALESCE(st.quantity, 0) AS stock,
       i.updated_at
FROM items i
JOIN warehouses w ON w.is_active = 1
LEFT JOIN stocks st ON st.item_id = i.id AND st.warehouse_id = w.id
WHERE i.is_active = 1`

// ListActiveItems implements Gateway
func (a *Adapter) ListActiveItems(ctx context.Context, warehouseID string, since *time.Time) ([]Item, error) {
	db, cleanup, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	build := func(base string) (string, []interface{}) {
		query := base
		args := []interface{}{}
		if warehouseID != "" {
			query += " AND w.id = ?"
			args = append(args, warehouseID)
		}
		if since != nil {
			query += " AND (i.updated_at > ? OR i.created_at > ?)"
			args = append(args, *since, *since)
		}
		query += " ORDER BY i.id"
		return query, args
	}

	var rows []itemRow
	query, args := build(listItemsWide)
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		log.Printf("⚠️ Inventory: wide item query failed, falling back to narrow: %v", err)
		rows = rows[:0]
		query, args = build(listItemsNarrow)
		if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
			return nil, &QueryError{Op: "list_active_items", Err: err}
		}
	}

	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, Item{
			ID:            r.ID,
			Name:          r.Name,
			IsVariant:     r.IsVariant,
			VariantName:   deref(r.VariantName),
			ParentID:      r.ParentID,
			ItemType:      deref(r.ItemType),
			Price:         r.Price,
			CostPrice:     r.CostPrice,
			CategoryName:  deref(r.CategoryName),
			SupplierName:  deref(r.SupplierName),
			WarehouseID:   r.WarehouseID,
			WarehouseName: r.WarehouseName,
			Stock:         r.Stock,
			UpdatedAt:     r.UpdatedAt,
		})
	}
	return items, nil
}

// ListWarehouses implements Gateway
func (a *Adapter) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	db, cleanup, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var rows []Warehouse
	err = db.WithContext(ctx).
		Raw("SELECT id, name, is_active FROM warehouses WHERE is_active = 1 ORDER BY id").
		Scan(&rows).Error
	if err != nil {
		return nil, &QueryError{Op: "list_warehouses", Err: err}
	}
	return rows, nil
}

// GetWarehouse implements Gateway
func (a *Adapter) GetWarehouse(ctx context.Context, id string) (*Warehouse, error) {
	db, cleanup, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var row Warehouse
	res := db.WithContext(ctx).
		Raw("SELECT id, name, is_active FROM warehouses WHERE id = ?", id).
		Scan(&row)
	if res.Error != nil {
		return nil, &QueryError{Op: "get_warehouse", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row, nil
}

// ApplyStockDelta implements Gateway. The quantity change runs inside
// the external store's own transaction; the audit row is appended
// afterwards best-effort, because losing an audit line is acceptable
// and losing a stock write is not.
func (a *Adapter) ApplyStockDelta(ctx context.Context, itemID int64, warehouseID string, delta float64, changeType string, actorID *int64) error {
	db, cleanup, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row struct{ Quantity float64 }
		res := tx.Raw(
			"SELECT quantity FROM stocks WHERE item_id = ? AND warehouse_id = ? FOR UPDATE",
			itemID, warehouseID,
		).Scan(&row)
		if res.Error != nil {
			return &QueryError{Op: "read_stock", Err: res.Error}
		}

		if res.RowsAffected == 0 {
			// A return can land on an item this warehouse never
			// stocked; a sale cannot.
			if delta <= 0 {
				return &NotFoundError{Kind: "stock row for item", ID: fmt.Sprintf("%d/%s", itemID, warehouseID)}
			}
			return tx.Exec(
				"INSERT INTO stocks (item_id, warehouse_id, quantity, updated_at) VALUES (?, ?, ?, NOW())",
				itemID, warehouseID, delta,
			).Error
		}

		newQty := row.Quantity + delta
		if newQty < 0 {
			return &InsufficientStockError{
				ItemID:      itemID,
				WarehouseID: warehouseID,
				Available:   row.Quantity,
				Requested:   -delta,
			}
		}

		return tx.Exec(
			"UPDATE stocks SET quantity = ?, updated_at = NOW() WHERE item_id = ? AND warehouse_id = ?",
			newQty, itemID, warehouseID,
		).Error
	})
	if err != nil {
		var connErr *ConnectionError
		var queryErr *QueryError
		var nfErr *NotFoundError
		var stockErr *InsufficientStockError
		if errors.As(err, &connErr) || errors.As(err, &queryErr) ||
			errors.As(err, &nfErr) || errors.As(err, &stockErr) {
			return err
		}
		return &QueryError{Op: "apply_stock_delta", Err: err}
	}

	auditErr := db.WithContext(ctx).Exec(
		"INSERT INTO stock_transactions (item_id, warehouse_id, quantity_change, transaction_type, performed_by, created_at) VALUES (?, ?, ?, ?, ?, NOW())",
		itemID, warehouseID, delta, changeType, actorID,
	).Error
	if auditErr != nil {
		log.Printf("⚠️ Inventory: stock updated but audit row failed for item %d/%s: %v", itemID, warehouseID, auditErr)
	}

	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
