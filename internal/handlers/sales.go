package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
	possync "github.com/bitwerke/kassego/internal/sync"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// SalesHandler records POS sales and returns, wiring their stock
// effects into the sync engine
type SalesHandler struct {
	db        *database.DB
	warehouse *possync.WarehouseContext
}

// NewSalesHandler creates a new sales handler
func NewSalesHandler(db *database.DB, wc *possync.WarehouseContext) *SalesHandler {
	return &SalesHandler{db: db, warehouse: wc}
}

// RegisterRoutes registers sales routes
func (sh *SalesHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sales", sh.CreateSale).Methods("POST")
	r.HandleFunc("/api/sales", sh.ListSales).Methods("GET")
	r.HandleFunc("/api/sales/{id}", sh.GetSale).Methods("GET")
	r.HandleFunc("/api/sales/{id}/return", sh.ReturnSale).Methods("POST")
}

type saleLineRequest struct {
	ProductID uint    `json:"productId"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// CreateSale books a sale: the sale document, one stock change per
// line, and the local stock decrement. The sale never waits on the
// external store; push failures land in the retry backlog.
func (sh *SalesHandler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lines         []saleLineRequest `json:"lines"`
		PerformedByID *int64            `json:"performedById"`
		Username      string            `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Lines) == 0 {
		respondError(w, http.StatusBadRequest, "a sale needs at least one line")
		return
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			respondError(w, http.StatusBadRequest, "line quantity must be positive")
			return
		}
	}

	warehouseID, _ := sh.warehouse.Current()
	if warehouseID == "" {
		respondError(w, http.StatusConflict, "no active warehouse selected")
		return
	}

	// Validate every product up front so a missing one cannot leave a
	// half-booked sale behind.
	for _, line := range req.Lines {
		var p models.Product
		if err := sh.db.First(&p, line.ProductID).Error; err != nil {
			respondError(w, http.StatusNotFound, fmt.Sprintf("product %d not found", line.ProductID))
			return
		}
	}

	sale := models.Sale{
		Reference:       "S-" + uuid.New().String(),
		WarehouseID:     warehouseID,
		Status:          models.SaleStatusCompleted,
		PerformedByID:   req.PerformedByID,
		PerformedByName: req.Username,
	}
	for _, line := range req.Lines {
		sale.Total += line.Quantity * line.UnitPrice
		sale.Lines = append(sale.Lines, models.SaleLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	if err := sh.db.Create(&sale).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	actor := &possync.Actor{ID: req.PerformedByID, Username: req.Username}
	ref := possync.Reference{ID: sale.Reference, Type: "sale"}
	for _, line := range sale.Lines {
		_, err := sh.warehouse.TrackChange(line.ProductID, -line.Quantity, models.ChangeTypeSale, ref, actor, "")
		if err != nil {
			// The sale stands; the stock books are what went wrong.
			log.Printf("⚠️ Sales: stock tracking failed for product %d on sale %s: %v",
				line.ProductID, sale.Reference, err)
		}
	}

	respondJSON(w, http.StatusCreated, sale)
}

// ReturnSale reverses a completed sale, restoring local stock and
// queueing the positive deltas for push
func (sh *SalesHandler) ReturnSale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sale id")
		return
	}

	var req struct {
		PerformedByID *int64 `json:"performedById"`
		Username      string `json:"username"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	var sale models.Sale
	if err := sh.db.Preload("Lines").First(&sale, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "sale not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sale.Status == models.SaleStatusReturned {
		respondError(w, http.StatusConflict, "sale is already returned")
		return
	}

	if err := sh.db.Model(&sale).Update("status", models.SaleStatusReturned).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	actor := &possync.Actor{ID: req.PerformedByID, Username: req.Username}
	ref := possync.Reference{ID: sale.Reference, Type: "return"}
	for _, line := range sale.Lines {
		_, err := sh.warehouse.TrackChange(line.ProductID, line.Quantity, models.ChangeTypeReturn, ref, actor, "")
		if err != nil {
			log.Printf("⚠️ Sales: stock tracking failed for product %d on return of %s: %v",
				line.ProductID, sale.Reference, err)
		}
	}

	sale.Status = models.SaleStatusReturned
	respondJSON(w, http.StatusOK, sale)
}

// ListSales returns recent sales, newest first
func (sh *SalesHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var sales []models.Sale
	err := sh.db.Preload("Lines").Order("created_at DESC").Limit(limit).Find(&sales).Error
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(sales),
		"sales": sales,
	})
}

// GetSale returns one sale with its lines
func (sh *SalesHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sale id")
		return
	}

	var sale models.Sale
	if err := sh.db.Preload("Lines").First(&sale, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "sale not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, sale)
}
