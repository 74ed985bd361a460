package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bitwerke/kassego/internal/services/inventory"
	possync "github.com/bitwerke/kassego/internal/sync"
	"github.com/gorilla/mux"
)

// WarehouseHandler exposes warehouse listing and the active-warehouse
// switch
type WarehouseHandler struct {
	adapter      inventory.Gateway
	warehouse    *possync.WarehouseContext
	orchestrator *possync.Orchestrator
}

// NewWarehouseHandler creates a new warehouse handler
func NewWarehouseHandler(adapter inventory.Gateway, wc *possync.WarehouseContext, orchestrator *possync.Orchestrator) *WarehouseHandler {
	return &WarehouseHandler{adapter: adapter, warehouse: wc, orchestrator: orchestrator}
}

// RegisterRoutes registers warehouse routes
func (wh *WarehouseHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/warehouses", wh.ListWarehouses).Methods("GET")
	r.HandleFunc("/api/warehouse/current", wh.GetCurrent).Methods("GET")
	r.HandleFunc("/api/warehouse/switch", wh.Switch).Methods("POST")
	r.HandleFunc("/api/warehouse/push", wh.Push).Methods("POST")
}

// ListWarehouses returns the warehouses known to the external store
func (wh *WarehouseHandler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := wh.adapter.ListWarehouses(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(warehouses),
		"warehouses": warehouses,
	})
}

// GetCurrent returns the active warehouse and its unsynced backlog
func (wh *WarehouseHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	id, name := wh.warehouse.Current()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"warehouseId":   id,
		"warehouseName": name,
		"unsyncedCount": wh.warehouse.Backlog(),
	})
}

// Switch changes the active warehouse. Without force a pending backlog
// returns 409 with the count so the UI can ask for confirmation.
func (wh *WarehouseHandler) Switch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WarehouseID   string `json:"warehouseId"`
		WarehouseName string `json:"warehouseName"`
		Force         bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.WarehouseID == "" {
		respondError(w, http.StatusBadRequest, "warehouseId is required")
		return
	}

	if req.WarehouseName == "" {
		// GetWarehouse returns (nil, nil) for an unknown id; a lookup
		// error just means we proceed without a resolved name.
		remote, err := wh.adapter.GetWarehouse(r.Context(), req.WarehouseID)
		if err == nil && remote == nil {
			respondError(w, http.StatusNotFound, "warehouse not found")
			return
		}
		if remote != nil {
			req.WarehouseName = remote.Name
		}
	}

	result, err := wh.warehouse.SwitchTo(r.Context(), req.WarehouseID, req.WarehouseName, req.Force)
	if err != nil {
		var verr *possync.ValidationError
		switch {
		case errors.As(err, &verr):
			respondError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, possync.ErrSyncInProgress):
			respondError(w, http.StatusConflict, "a sync is already running")
		default:
			respondError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	if result.RequiresConfirmation {
		respondJSON(w, http.StatusConflict, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Push flushes one batch of unsynced stock changes for a warehouse
func (wh *WarehouseHandler) Push(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WarehouseID string `json:"warehouseId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.WarehouseID == "" {
		req.WarehouseID, _ = wh.warehouse.Current()
	}
	if req.WarehouseID == "" {
		respondError(w, http.StatusBadRequest, "no warehouse selected")
		return
	}

	result, err := wh.orchestrator.PushStockChanges(r.Context(), req.WarehouseID)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}
