package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/models"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// ProductHandler serves the local product catalog
type ProductHandler struct {
	db *database.DB
}

// NewProductHandler creates a new product handler
func NewProductHandler(db *database.DB) *ProductHandler {
	return &ProductHandler{db: db}
}

// RegisterRoutes registers product routes
func (ph *ProductHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/products", ph.ListProducts).Methods("GET")
	r.HandleFunc("/api/products/{id}", ph.GetProduct).Methods("GET")
}

// ListProducts returns the local catalog, filterable by warehouse,
// sync status and a name search
func (ph *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset, _ := strconv.Atoi(q.Get("offset"))

	query := ph.db.Model(&models.Product{})
	if wh := q.Get("warehouseId"); wh != "" {
		query = query.Where("warehouse_id = ?", wh)
	}
	if status := q.Get("syncStatus"); status != "" {
		query = query.Where("sync_status = ?", status)
	}
	if q.Get("includeInactive") != "true" {
		query = query.Where("is_active = ?", true)
	}
	if search := q.Get("search"); search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var products []models.Product
	err := query.Order("name ASC").Limit(limit).Offset(offset).Find(&products).Error
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":    total,
		"count":    len(products),
		"products": products,
	})
}

// GetProduct returns one product by local id
func (ph *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var product models.Product
	if err := ph.db.First(&product, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, product)
}
