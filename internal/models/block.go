package models

import (
	"time"

	"github.com/google/uuid"
)

// Block hides a user from the blocker immediately (App Store Guideline 1.2).
// User ids are credential-store ids, not foreign keys; the user table lives in
// the key-value layer.
type Block struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BlockerID string    `gorm:"size:36;not null;index" json:"blocker_id"`
	BlockedID string    `gorm:"size:36;not null;index" json:"blocked_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Block) TableName() string {
	return "blocks"
}
