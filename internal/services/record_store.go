package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/models"
)

// Change is the before/after pair of an accepted mutation.
type Change struct {
	Previous *models.Record
	Current  models.Record
}

// version is one immutable record version as it appeared in the log.
type version struct {
	record models.Record
	seq    uint
}

// chain is the version history of a single record id. current indexes the
// winning version: highest version, ties broken by later append.
type chain struct {
	versions []version
	hashes   map[string]struct{}
	current  int
}

func (c *chain) add(v version, hash string) bool {
	if _, seen := c.hashes[hash]; seen {
		return false
	}
	c.hashes[hash] = struct{}{}
	c.versions = append(c.versions, v)
	idx := len(c.versions) - 1
	cur := c.versions[c.current]
	if idx == 0 || v.record.Version > cur.record.Version ||
		(v.record.Version == cur.record.Version && v.seq > cur.seq) {
		c.current = idx
	}
	return true
}

func (c *chain) head() models.Record {
	return c.versions[c.current].record.Clone()
}

// RecordStore owns the record lifecycle on top of the replicated log.
//
// Every version ever observed, written locally or pulled from a peer, is kept
// in memory per id. Writers to the same id on this node are serialized, so
// local updates never compute the same next version twice. Peers writing the
// same id concurrently can still both produce version N+1; both entries are
// kept and the later append wins.
type RecordStore struct {
	docs    DocumentStore
	timeout time.Duration
	now     func() time.Time
	newID   func() string
	writers *keyLocks

	mu     sync.RWMutex
	chains map[string]*chain
}

// NewRecordStore returns an empty store. Call Load to rebuild from the log.
func NewRecordStore(docs DocumentStore, timeout time.Duration) *RecordStore {
	return &RecordStore{
		docs:    docs,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return ulid.Make().String() },
		writers: newKeyLocks(64),
		chains:  make(map[string]*chain),
	}
}

// merge folds log entries into the version chains and reports which ids got a
// new current version.
func (s *RecordStore) merge(entries []models.LedgerEntry) map[string]bool {
	changed := make(map[string]bool)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		var r models.Record
		if err := json.Unmarshal([]byte(e.Document), &r); err != nil {
			logger.Log().WithError(err).WithField("record_id", e.Key).Warn("Skipping unreadable record entry")
			continue
		}
		if r.ID == "" {
			r.ID = e.Key
		}
		c, ok := s.chains[e.Key]
		if !ok {
			c = &chain{hashes: make(map[string]struct{})}
			s.chains[e.Key] = c
		}
		before := -1
		if len(c.versions) > 0 {
			before = c.current
		}
		if c.add(version{record: r, seq: e.Seq}, e.Hash) && c.current != before {
			changed[e.Key] = true
		}
	}
	return changed
}

func (s *RecordStore) lookup(id string) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[id]
	if !ok {
		return models.Record{}, false
	}
	return c.head(), true
}

// Load rebuilds every chain from the records log.
func (s *RecordStore) Load(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.docs.All(ctx, ledger.StoreRecords)
	if err != nil {
		return ioError(ctx, err, ErrReadError)
	}
	s.merge(entries)
	return nil
}

// Reload re-reads one id from the log and reports whether its current
// version changed.
func (s *RecordStore) Reload(ctx context.Context, id string) (models.Record, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.reload(ctx, id)
}

func (s *RecordStore) reload(ctx context.Context, id string) (models.Record, bool, error) {
	entries, err := s.docs.Get(ctx, ledger.StoreRecords, id)
	if err != nil {
		return models.Record{}, false, ioError(ctx, err, ErrReadError)
	}
	changed := s.merge(entries)
	r, ok := s.lookup(id)
	if !ok {
		return models.Record{}, false, ErrNotFound
	}
	return r, changed[id], nil
}

// Get returns the current version of id, consulting the log when this node
// has not seen the id yet.
func (s *RecordStore) Get(ctx context.Context, id string) (models.Record, error) {
	if r, ok := s.lookup(id); ok {
		return r, nil
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	r, _, err := s.reload(ctx, id)
	return r, err
}

// List returns the current version of every record, tombstones included,
// ordered by id. Order carries no meaning across peers.
func (s *RecordStore) List(ctx context.Context) ([]models.Record, error) {
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.Record, 0, len(s.chains))
	for _, c := range s.chains {
		out = append(out, c.head())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// History returns every known version of id in version order.
func (s *RecordStore) History(ctx context.Context, id string) ([]models.Record, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	c := s.chains[id]
	out := make([]models.Record, 0, len(c.versions))
	seqs := make([]uint, 0, len(c.versions))
	for _, v := range c.versions {
		out = append(out, v.record.Clone())
		seqs = append(seqs, v.seq)
	}
	s.mu.RUnlock()

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := out[idx[a]], out[idx[b]]
		if ra.Version != rb.Version {
			return ra.Version < rb.Version
		}
		return seqs[idx[a]] < seqs[idx[b]]
	})
	sorted := make([]models.Record, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted, nil
}

// Create writes version 1 of a new record owned by wallet.
func (s *RecordStore) Create(ctx context.Context, wallet string, data json.RawMessage) (models.Record, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	r := models.Record{
		ID:        s.newID(),
		Wallet:    wallet,
		Data:      data,
		Version:   1,
		Timestamp: s.now(),
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return models.Record{}, fmt.Errorf("encode record: %w", err)
	}
	entry, err := s.docs.PutNew(ctx, ledger.StoreRecords, r.ID, r.Version, doc)
	if err != nil {
		if errors.Is(err, ledger.ErrKeyExists) {
			return models.Record{}, fmt.Errorf("%w: record %s already exists", ErrWriteConflict, r.ID)
		}
		return models.Record{}, ioError(ctx, err, ErrWriteError)
	}
	s.merge([]models.LedgerEntry{*entry})
	return r.Clone(), nil
}

// Update appends a new version of id with data replaced.
func (s *RecordStore) Update(ctx context.Context, id, wallet string, data json.RawMessage) (Change, error) {
	return s.mutate(ctx, id, wallet, func(next *models.Record) {
		next.Data = data
		next.Updated = true
	})
}

// Delete appends a tombstone version of id. The record stays readable.
func (s *RecordStore) Delete(ctx context.Context, id, wallet string) (Change, error) {
	return s.mutate(ctx, id, wallet, func(next *models.Record) {
		next.Deleted = true
	})
}

func (s *RecordStore) mutate(ctx context.Context, id, wallet string, apply func(*models.Record)) (Change, error) {
	unlock := s.writers.lock(id)
	defer unlock()

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	// Always re-read the id so a version delivered by replication since the
	// last lookup is the one we build on.
	cur, _, err := s.reload(ctx, id)
	if err != nil {
		return Change{}, err
	}
	if !cur.OwnedBy(wallet) {
		return Change{}, ErrOwnershipMismatch
	}
	if cur.Deleted {
		return Change{}, ErrRecordDeleted
	}

	next := cur.Clone()
	apply(&next)
	next.Version = cur.Version + 1
	next.Timestamp = s.now()

	doc, err := json.Marshal(next)
	if err != nil {
		return Change{}, fmt.Errorf("encode record: %w", err)
	}
	entry, err := s.docs.Put(ctx, ledger.StoreRecords, id, next.Version, doc)
	if err != nil {
		return Change{}, ioError(ctx, err, ErrWriteError)
	}
	s.merge([]models.LedgerEntry{*entry})

	prev := cur
	return Change{Previous: &prev, Current: next.Clone()}, nil
}
