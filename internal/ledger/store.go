// Package ledger is a small append-only document log with peer replication.
// It stands in for a content-addressed replicated document store: entries are
// never updated or removed, the "current" document for a key is decided by
// readers, and entries pulled from peers are announced to subscribers.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/models"
)

// Logical stores kept in the log.
const (
	StoreRecords = "records"
	StoreRoles   = "roles"
	StoreAudit   = "audit"
)

var (
	ErrKeyExists    = errors.New("ledger key already exists")
	ErrUnknownStore = errors.New("unknown ledger store")
	ErrBadHash      = errors.New("ledger entry hash mismatch")
)

// Stores lists every logical store in replication order.
var Stores = []string{StoreRoles, StoreRecords, StoreAudit}

// Event announces keys that changed because of replicated entries.
type Event struct {
	Store string
	Peer  string
	Keys  []string
}

// Handler receives replication events. Handlers run on the ingesting
// goroutine and must not block.
type Handler func(Event)

// Store is the gorm-backed log.
type Store struct {
	db   *gorm.DB
	peer string

	// sqlite allows one writer; this also makes PutNew's check-then-insert atomic.
	writeMu sync.Mutex

	subMu   sync.RWMutex
	subs    map[int]Handler
	nextSub int
}

// New migrates the log tables and returns a store that signs local entries
// with peerID.
func New(db *gorm.DB, peerID string) (*Store, error) {
	if peerID == "" {
		return nil, errors.New("ledger: peer id is required")
	}
	if err := db.AutoMigrate(&models.LedgerEntry{}, &models.PeerCursor{}); err != nil {
		return nil, fmt.Errorf("ledger: auto migrate: %w", err)
	}
	return &Store{db: db, peer: peerID, subs: make(map[int]Handler)}, nil
}

// PeerID is the identity stamped on locally written entries.
func (s *Store) PeerID() string { return s.peer }

func validStore(store string) error {
	switch store {
	case StoreRecords, StoreRoles, StoreAudit:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownStore, store)
}

func (s *Store) newEntry(store, key string, version int64, doc []byte) models.LedgerEntry {
	document := string(doc)
	return models.LedgerEntry{
		Hash:      ContentHash(store, key, s.peer, version, document),
		Store:     store,
		Key:       key,
		Version:   version,
		Peer:      s.peer,
		Document:  document,
		CreatedAt: time.Now().UTC(),
	}
}

// Put appends a document version for key.
func (s *Store) Put(ctx context.Context, store, key string, version int64, doc []byte) (*models.LedgerEntry, error) {
	if err := validStore(store); err != nil {
		return nil, err
	}
	entry := s.newEntry(store, key, version, doc)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("ledger put %s/%s: %w", store, key, err)
	}
	return &entry, nil
}

// PutNew appends the first document for key and fails with ErrKeyExists if
// the key already has entries.
func (s *Store) PutNew(ctx context.Context, store, key string, version int64, doc []byte) (*models.LedgerEntry, error) {
	if err := validStore(store); err != nil {
		return nil, err
	}
	entry := s.newEntry(store, key, version, doc)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.LedgerEntry{}).Where("store = ? AND doc_key = ?", store, key).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrKeyExists
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		if errors.Is(err, ErrKeyExists) {
			return nil, fmt.Errorf("%w: %s/%s", ErrKeyExists, store, key)
		}
		return nil, fmt.Errorf("ledger put %s/%s: %w", store, key, err)
	}
	return &entry, nil
}

// Get returns every entry for key ordered by version, then append order.
func (s *Store) Get(ctx context.Context, store, key string) ([]models.LedgerEntry, error) {
	if err := validStore(store); err != nil {
		return nil, err
	}
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("store = ? AND doc_key = ?", store, key).
		Order("version asc, seq asc").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("ledger get %s/%s: %w", store, key, err)
	}
	return entries, nil
}

// All returns every entry of a store in append order.
func (s *Store) All(ctx context.Context, store string) ([]models.LedgerEntry, error) {
	if err := validStore(store); err != nil {
		return nil, err
	}
	var entries []models.LedgerEntry
	if err := s.db.WithContext(ctx).Where("store = ?", store).Order("seq asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("ledger list %s: %w", store, err)
	}
	return entries, nil
}

// Since pages through a store for peers pulling from this node.
func (s *Store) Since(ctx context.Context, store string, afterSeq uint, limit int) ([]models.LedgerEntry, error) {
	if err := validStore(store); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("store = ? AND seq > ?", store, afterSeq).
		Order("seq asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("ledger since %s: %w", store, err)
	}
	return entries, nil
}

// Ingest stores entries received from source and notifies subscribers of the
// keys that gained entries. Entries already present are skipped; entries whose
// hash does not match their content are rejected.
func (s *Store) Ingest(ctx context.Context, source string, entries []models.LedgerEntry) (int, error) {
	changed := make(map[string]map[string]struct{})
	inserted := 0

	s.writeMu.Lock()
	for _, e := range entries {
		if err := validStore(e.Store); err != nil {
			s.writeMu.Unlock()
			return inserted, err
		}
		if !Verify(e) {
			s.writeMu.Unlock()
			return inserted, fmt.Errorf("%w: %s/%s from %s", ErrBadHash, e.Store, e.Key, source)
		}
		e.Seq = 0
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "hash"}}, DoNothing: true}).
			Create(&e)
		if res.Error != nil {
			s.writeMu.Unlock()
			return inserted, fmt.Errorf("ledger ingest %s/%s: %w", e.Store, e.Key, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		inserted++
		if changed[e.Store] == nil {
			changed[e.Store] = make(map[string]struct{})
		}
		changed[e.Store][e.Key] = struct{}{}
	}
	s.writeMu.Unlock()

	for _, store := range Stores {
		keys, ok := changed[store]
		if !ok {
			continue
		}
		ev := Event{Store: store, Peer: source, Keys: make([]string, 0, len(keys))}
		for k := range keys {
			ev.Keys = append(ev.Keys, k)
		}
		sort.Strings(ev.Keys)
		s.publish(ev)
	}
	return inserted, nil
}

// Subscribe registers h for replication events and returns a function that
// removes it.
func (s *Store) Subscribe(h Handler) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = h
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.RLock()
	handlers := make([]Handler, 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.subMu.RUnlock()

	logger.WithFields(map[string]interface{}{
		"store": ev.Store,
		"peer":  ev.Peer,
		"keys":  len(ev.Keys),
	}).Debug("ledger replicated entries")
	for _, h := range handlers {
		h(ev)
	}
}

// Cursor returns the last peer sequence pulled for store.
func (s *Store) Cursor(ctx context.Context, peer, store string) (uint, error) {
	var c models.PeerCursor
	err := s.db.WithContext(ctx).Where("peer = ? AND store = ?", peer, store).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger cursor %s/%s: %w", peer, store, err)
	}
	return c.LastSeq, nil
}

// SetCursor records the last peer sequence pulled for store.
func (s *Store) SetCursor(ctx context.Context, peer, store string, seq uint) error {
	c := models.PeerCursor{Peer: peer, Store: store, LastSeq: seq, UpdatedAt: time.Now().UTC()}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "peer"}, {Name: "store"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seq", "updated_at"}),
	}).Create(&c).Error
	if err != nil {
		return fmt.Errorf("ledger set cursor %s/%s: %w", peer, store, err)
	}
	return nil
}
