package sync

import (
	"time"
)

// Actor identifies who triggered an operation, for the audit trail
type Actor struct {
	ID       *int64 `json:"id"`
	Username string `json:"username"`
}

// Reference ties a stock change back to the POS document that caused it
type Reference struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "sale", "return", "adjustment"
}

// Stats are the per-batch item counters recorded on a ledger entry
type Stats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ItemFailure is one non-fatal per-item error inside a batch pass
type ItemFailure struct {
	EntityID string `json:"entityId"`
	Error    string `json:"error"`
}

// ReconcileResult summarizes one full reconciliation pass for a warehouse
type ReconcileResult struct {
	WarehouseID string        `json:"warehouseId"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Unchanged   int           `json:"unchanged"`
	Deactivated int           `json:"deactivated"`
	Failures    []ItemFailure `json:"failures,omitempty"`
}

// PushResult summarizes one outbound stock-change batch
type PushResult struct {
	WarehouseID string        `json:"warehouseId"`
	Pushed      int           `json:"pushed"`
	Failed      int           `json:"failed"`
	Remaining   int64         `json:"remaining"`
	Failures    []ItemFailure `json:"failures,omitempty"`
}

// SyncSummary is the aggregate outcome of one inbound catalog sync
type SyncSummary struct {
	RecordID    int64             `json:"recordId"`
	SyncType    string            `json:"syncType"`
	Warehouses  []ReconcileResult `json:"warehouses"`
	Created     int               `json:"created"`
	Updated     int               `json:"updated"`
	Deactivated int               `json:"deactivated"`
	Errors      []string          `json:"errors,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	Duration    time.Duration     `json:"duration"`
}

// SwitchResult is the outcome of a warehouse switch attempt. A backlog
// on the old warehouse without force yields RequiresConfirmation
// instead of an error, the caller decides whether to force.
type SwitchResult struct {
	Switched             bool             `json:"switched"`
	RequiresConfirmation bool             `json:"requiresConfirmation"`
	UnsyncedCount        int64            `json:"unsyncedCount"`
	WarehouseID          string           `json:"warehouseId"`
	WarehouseName        string           `json:"warehouseName"`
	Push                 *PushResult      `json:"push,omitempty"`
	Reconcile            *ReconcileResult `json:"reconcile,omitempty"`
}

// LedgerStats is the read-only reporting aggregate over sync records
type LedgerStats struct {
	Total     int64      `json:"total"`
	Success   int64      `json:"success"`
	Partial   int64      `json:"partial"`
	Failed    int64      `json:"failed"`
	Pending   int64      `json:"pending"`
	LastSync  *time.Time `json:"lastSync"`
	SinceTime time.Time  `json:"since"`
}
