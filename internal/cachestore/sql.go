// Package cachestore holds the backing stores for the local record cache.
// Both stores apply last-write-wins by version on upsert: an entry is only
// replaced by one whose version is greater than or equal to it.
package cachestore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Wikid82/memoryorgan/internal/models"
)

// SQLStore keeps cache entries in the cache_entries table.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore migrates the cache table and returns the store.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&models.CacheEntry{}); err != nil {
		return nil, fmt.Errorf("cache: auto migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Upsert inserts or replaces the entry unless a newer version is cached.
func (s *SQLStore) Upsert(ctx context.Context, entry models.CacheEntry) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"wallet", "data", "version", "timestamp", "deleted", "updated", "cached_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "cache_entries.version <= excluded.version"},
		}},
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("cache upsert %s: %w", entry.ID, err)
	}
	return nil
}

// Fetch returns the cached entry for id; ok is false on a miss.
func (s *SQLStore) Fetch(ctx context.Context, id string) (*models.CacheEntry, bool, error) {
	var entry models.CacheEntry
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache fetch %s: %w", id, err)
	}
	return &entry, true, nil
}
