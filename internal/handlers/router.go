package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bitwerke/kassego/internal/database"
	"github.com/bitwerke/kassego/internal/services/inventory"
	"github.com/bitwerke/kassego/internal/settings"
	possync "github.com/bitwerke/kassego/internal/sync"
	"github.com/bitwerke/kassego/internal/websocket"
	"github.com/gorilla/mux"
)

// Router wraps the mux router and database
type Router struct {
	*mux.Router
	db *database.DB
}

// Deps carries the engine components the handlers talk to
type Deps struct {
	Adapter      inventory.Gateway
	Settings     *settings.Store
	Ledger       *possync.Ledger
	Orchestrator *possync.Orchestrator
	Scheduler    *possync.RetryScheduler
	Warehouse    *possync.WarehouseContext
	Hub          *websocket.Hub
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(db *database.DB, deps Deps) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		db:     db,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	NewSyncHandler(deps.Ledger, deps.Orchestrator, deps.Scheduler, deps.Settings).RegisterRoutes(r.Router)
	NewWarehouseHandler(deps.Adapter, deps.Warehouse, deps.Orchestrator).RegisterRoutes(r.Router)
	NewSalesHandler(db, deps.Warehouse).RegisterRoutes(r.Router)
	NewProductHandler(db).RegisterRoutes(r.Router)

	// Terminal event stream
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(deps.Hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"server": "local",
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
