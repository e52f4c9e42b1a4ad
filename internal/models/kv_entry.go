package models

import (
	"time"

	"gorm.io/datatypes"
)

// KVEntry backs the Postgres key-value storage implementation. The auth core
// serializes whole tables (users, pending OTPs, refresh tokens) as JSON
// documents, one per key.
type KVEntry struct {
	Key       string         `gorm:"primaryKey;size:255" json:"key"`
	Value     datatypes.JSON `gorm:"type:jsonb" json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (KVEntry) TableName() string {
	return "kv_entries"
}
