package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bitwerke/kassego/internal/settings"
	possync "github.com/bitwerke/kassego/internal/sync"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// SyncHandler exposes the sync engine to the operator UI
type SyncHandler struct {
	ledger       *possync.Ledger
	orchestrator *possync.Orchestrator
	scheduler    *possync.RetryScheduler
	settings     *settings.Store
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(ledger *possync.Ledger, orchestrator *possync.Orchestrator, scheduler *possync.RetryScheduler, store *settings.Store) *SyncHandler {
	return &SyncHandler{
		ledger:       ledger,
		orchestrator: orchestrator,
		scheduler:    scheduler,
		settings:     store,
	}
}

// RegisterRoutes registers sync routes
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sync/status", sh.GetStatus).Methods("GET")
	r.HandleFunc("/api/sync/history", sh.GetHistory).Methods("GET")
	r.HandleFunc("/api/sync/stats", sh.GetStats).Methods("GET")

	r.HandleFunc("/api/sync/manual", sh.TriggerManualSync).Methods("POST")
	r.HandleFunc("/api/sync/retry/{id}", sh.ForceRetry).Methods("POST")
	r.HandleFunc("/api/sync/reset-failed", sh.ResetFailed).Methods("POST")

	r.HandleFunc("/api/sync/settings", sh.GetSettings).Methods("GET")
	r.HandleFunc("/api/sync/settings", sh.UpdateSettings).Methods("PUT")
}

// GetStatus reports the live engine state
func (sh *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"syncing":          sh.orchestrator.Syncing(),
		"enabled":          sh.settings.SyncEnabled(),
		"connectionStatus": sh.settings.ConnectionStatus(),
	}
	if last := sh.settings.LastSyncAt(); last != nil {
		status["lastSyncAt"] = last.Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, status)
}

// GetHistory returns ledger records, optionally filtered to one entity
func (sh *SyncHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	records, err := sh.ledger.History(q.Get("entityType"), q.Get("entityId"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"records": records,
	})
}

// GetStats returns grouped ledger counts for a rolling window
func (sh *SyncHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	if hours <= 0 {
		hours = 24
	}

	stats, err := sh.ledger.Stats(time.Now().UTC().Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// TriggerManualSync runs a full inbound sync and waits for the result
func (sh *SyncHandler) TriggerManualSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Forced        bool   `json:"forced"`
		PerformedByID *int64 `json:"performedById"`
		Username      string `json:"username"`
	}
	// Empty body is fine, an anonymous manual sync
	_ = json.NewDecoder(r.Body).Decode(&req)

	var actor *possync.Actor
	if req.PerformedByID != nil || req.Username != "" {
		actor = &possync.Actor{ID: req.PerformedByID, Username: req.Username}
	}

	summary, err := sh.orchestrator.ManualSync(actor, req.Forced)
	if err != nil {
		if errors.Is(err, possync.ErrSyncInProgress) {
			respondError(w, http.StatusConflict, "a sync is already running")
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// ForceRetry replays one ledger record immediately
func (sh *SyncHandler) ForceRetry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid record id")
		return
	}

	rec, err := sh.scheduler.ForceRetry(id)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			respondError(w, http.StatusNotFound, "sync record not found")
		case errors.Is(err, possync.ErrSyncInProgress):
			respondError(w, http.StatusConflict, "a sync is already running")
		default:
			respondError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// ResetFailed moves terminally failed records back into the retry cycle
func (sh *SyncHandler) ResetFailed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityType string `json:"entityType"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	n, err := sh.scheduler.ResetFailedSyncs(req.EntityType)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"reset": n})
}

// GetSettings returns the operator-tunable sync configuration
func (sh *SyncHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":              sh.settings.SyncEnabled(),
		"autoPushOnSale":       sh.settings.AutoPushOnSale(),
		"intervalMinutes":      int(sh.settings.SyncInterval().Minutes()),
		"retryIntervalMinutes": int(sh.settings.RetryInterval().Minutes()),
		"batchSize":            sh.settings.BatchSize(),
		"maxRetries":           sh.settings.MaxRetries(),
		"timeoutSeconds":       int(sh.settings.SyncTimeout().Seconds()),
	})
}

// UpdateSettings applies partial updates to the sync configuration.
// Values take effect on the next timer round, no restart needed.
func (sh *SyncHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	keys := map[string]string{
		"enabled":              settings.KeySyncEnabled,
		"autoPushOnSale":       settings.KeyAutoPushOnSale,
		"intervalMinutes":      settings.KeySyncIntervalMin,
		"retryIntervalMinutes": settings.KeyRetryIntervalMin,
		"batchSize":            settings.KeyBatchSize,
		"maxRetries":           settings.KeyMaxRetries,
		"timeoutSeconds":       settings.KeyTimeoutSeconds,
	}

	for field, key := range keys {
		val, ok := req[field]
		if !ok {
			continue
		}
		if err := sh.settings.Set(key, settingValue(val)); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	sh.ledger.SetMaxRetries(sh.settings.MaxRetries())

	sh.GetSettings(w, r)
}

func settingValue(v interface{}) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.Itoa(int(t))
	case string:
		return t
	default:
		return ""
	}
}
