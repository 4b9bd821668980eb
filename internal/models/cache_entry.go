package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is the local, non-authoritative projection of the latest known
// version of a record.
type CacheEntry struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Wallet    string    `json:"wallet" gorm:"index"`
	Data      string    `json:"data" gorm:"type:text"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Deleted   bool      `json:"deleted" gorm:"default:false"`
	Updated   bool      `json:"updated" gorm:"default:false"`
	CachedAt  time.Time `json:"cached_at"`
}

// NewCacheEntry projects a record into its cached form.
func NewCacheEntry(r Record) CacheEntry {
	return CacheEntry{
		ID:        r.ID,
		Wallet:    r.Wallet,
		Data:      string(r.Data),
		Version:   r.Version,
		Timestamp: r.Timestamp,
		Deleted:   r.Deleted,
		Updated:   r.Updated,
		CachedAt:  time.Now().UTC(),
	}
}

// Record converts the cache row back into a Record.
func (e CacheEntry) Record() Record {
	var data json.RawMessage
	if e.Data != "" {
		data = json.RawMessage(e.Data)
	}
	return Record{
		ID:        e.ID,
		Wallet:    e.Wallet,
		Data:      data,
		Version:   e.Version,
		Timestamp: e.Timestamp,
		Deleted:   e.Deleted,
		Updated:   e.Updated,
	}
}
