package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Record is one version of an opaque, wallet-owned document. Every mutation
// produces a new Record with the same ID and a higher Version; nothing is
// ever rewritten in place.
type Record struct {
	ID        string          `json:"id"`
	Wallet    string          `json:"wallet"`
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Deleted   bool            `json:"deleted"`
	Updated   bool            `json:"updated,omitempty"`
}

// OwnedBy reports whether wallet created the record. Addresses compare
// case-insensitively.
func (r *Record) OwnedBy(wallet string) bool {
	return strings.EqualFold(strings.TrimSpace(r.Wallet), strings.TrimSpace(wallet))
}

// Clone returns a deep copy so callers can't mutate shared version history.
func (r Record) Clone() Record {
	if r.Data != nil {
		data := make(json.RawMessage, len(r.Data))
		copy(data, r.Data)
		r.Data = data
	}
	return r
}
