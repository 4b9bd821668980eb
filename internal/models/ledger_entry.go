package models

import "time"

// LedgerEntry is one append-only row of the replicated document log. Seq is
// local append order; Hash is the content address shared by all peers.
type LedgerEntry struct {
	Seq       uint      `json:"seq" gorm:"primaryKey;autoIncrement"`
	Hash      string    `json:"hash" gorm:"uniqueIndex;size:64"`
	Store     string    `json:"store" gorm:"index:idx_ledger_store_key"`
	Key       string    `json:"key" gorm:"column:doc_key;index:idx_ledger_store_key"`
	Version   int64     `json:"version"`
	Peer      string    `json:"peer"`
	Document  string    `json:"document" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// PeerCursor tracks how far this node has pulled a store from a peer.
type PeerCursor struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Peer      string    `json:"peer" gorm:"uniqueIndex:idx_peer_store"`
	Store     string    `json:"store" gorm:"uniqueIndex:idx_peer_store"`
	LastSeq   uint      `json:"last_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}
