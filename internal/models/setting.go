package models

import (
	"time"
)

// PosSetting is one persisted configuration row. The sync engine keeps
// its mutable runtime state here (enabled flags, interval, last sync,
// current warehouse) so it survives restarts.
type PosSetting struct {
	Key       string    `gorm:"column:key;type:varchar(100);primaryKey" json:"key"`
	Value     string    `gorm:"column:value;type:text" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (PosSetting) TableName() string {
	return "pos_settings"
}
