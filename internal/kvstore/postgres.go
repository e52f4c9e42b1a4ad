package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/duetapp/duet-backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore keeps entries in the kv_entries table as jsonb documents.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry models.KVEntry
	err := s.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %q: %v", ErrStorage, key, err)
	}
	return string(entry.Value), true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value string) error {
	entry := models.KVEntry{Key: key, Value: datatypes.JSON(value)}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("%w: set %q: %v", ErrStorage, key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&models.KVEntry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("%w: delete %q: %v", ErrStorage, key, err)
	}
	return nil
}
