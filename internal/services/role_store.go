package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/models"
)

// RoleStore holds wallet role assignments. The ledger's roles store is the
// source of truth; the map is a read view rebuilt on load and rebound when
// replication delivers new assignments.
type RoleStore struct {
	docs    DocumentStore
	timeout time.Duration
	now     func() time.Time

	// writeMu serializes Set so versions are computed from the latest write.
	writeMu sync.Mutex

	mu    sync.RWMutex
	roles map[string]models.RoleAssignment
}

// NewRoleStore returns an empty store. Call Load before serving requests.
func NewRoleStore(docs DocumentStore, timeout time.Duration) *RoleStore {
	return &RoleStore{
		docs:    docs,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		roles:   make(map[string]models.RoleAssignment),
	}
}

// latestAssignment picks the winning assignment from entries ordered by
// version then append order: the last one wins.
func latestAssignment(entries []models.LedgerEntry) (models.RoleAssignment, bool) {
	var (
		winner models.RoleAssignment
		found  bool
	)
	for _, e := range entries {
		var a models.RoleAssignment
		if err := json.Unmarshal([]byte(e.Document), &a); err != nil {
			logger.Log().WithError(err).WithField("wallet", e.Key).Warn("Skipping unreadable role assignment")
			continue
		}
		if _, ok := models.ParseRole(string(a.Role)); !ok {
			continue
		}
		a.Wallet = e.Key
		winner, found = a, true
	}
	return winner, found
}

// Load rebuilds the view from the whole roles log.
func (s *RoleStore) Load(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.docs.All(ctx, ledger.StoreRoles)
	if err != nil {
		return ioError(ctx, err, ErrReadError)
	}

	byWallet := make(map[string][]models.LedgerEntry)
	for _, e := range entries {
		byWallet[e.Key] = append(byWallet[e.Key], e)
	}
	roles := make(map[string]models.RoleAssignment, len(byWallet))
	for wallet, list := range byWallet {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Version < list[j].Version })
		if a, ok := latestAssignment(list); ok {
			roles[wallet] = a
		}
	}

	s.mu.Lock()
	s.roles = roles
	s.mu.Unlock()
	return nil
}

// Seed assigns admin to wallet unless it already has an assignment.
func (s *RoleStore) Seed(ctx context.Context, wallet string) error {
	if _, ok := s.Assignment(wallet); ok {
		return nil
	}
	if _, err := s.Set(ctx, wallet, models.RoleAdmin, "system"); err != nil {
		return fmt.Errorf("seed admin %s: %w", wallet, err)
	}
	logger.Log().WithField("wallet", wallet).Info("Admin role assigned")
	return nil
}

// Role resolves the role of wallet, defaulting to viewer.
func (s *RoleStore) Role(wallet string) models.Role {
	if a, ok := s.Assignment(wallet); ok {
		return a.Role
	}
	return models.DefaultRole
}

// Assignment returns the explicit assignment for wallet, if any.
func (s *RoleStore) Assignment(wallet string) (models.RoleAssignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.roles[models.NormalizeWallet(wallet)]
	return a, ok
}

// Set writes a new assignment for wallet to the log and the view.
func (s *RoleStore) Set(ctx context.Context, wallet string, role models.Role, assignedBy string) (models.RoleAssignment, error) {
	if _, ok := models.ParseRole(string(role)); !ok {
		return models.RoleAssignment{}, ErrInvalidRole
	}
	key := models.NormalizeWallet(wallet)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	// Version continues from the latest assignment in the log so the new
	// entry sorts after everything this node has seen.
	var version int64 = 1
	if prev, ok := s.Assignment(key); ok {
		version = prev.Version + 1
	}
	a := models.RoleAssignment{
		Wallet:     key,
		Role:       role,
		Version:    version,
		AssignedBy: models.NormalizeWallet(assignedBy),
		UpdatedAt:  s.now(),
	}
	doc, err := json.Marshal(a)
	if err != nil {
		return models.RoleAssignment{}, fmt.Errorf("encode role assignment: %w", err)
	}
	if _, err := s.docs.Put(ctx, ledger.StoreRoles, key, version, doc); err != nil {
		return models.RoleAssignment{}, ioError(ctx, err, ErrWriteError)
	}

	s.mu.Lock()
	if cur, ok := s.roles[key]; !ok || cur.Version <= a.Version {
		s.roles[key] = a
	}
	s.mu.Unlock()
	return a, nil
}

// List returns every explicit assignment ordered by wallet.
func (s *RoleStore) List() []models.RoleAssignment {
	s.mu.RLock()
	out := make([]models.RoleAssignment, 0, len(s.roles))
	for _, a := range s.roles {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

// Rebind re-reads the given wallets from the log after replication.
func (s *RoleStore) Rebind(ctx context.Context, wallets []string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	for _, w := range wallets {
		key := models.NormalizeWallet(w)
		entries, err := s.docs.Get(ctx, ledger.StoreRoles, key)
		if err != nil {
			return ioError(ctx, err, ErrReadError)
		}
		a, ok := latestAssignment(entries)
		if !ok {
			continue
		}
		s.mu.Lock()
		cur, held := s.roles[key]
		if held && cur.Version > a.Version {
			s.mu.Unlock()
			continue
		}
		s.roles[key] = a
		s.mu.Unlock()
		logger.WithFields(map[string]interface{}{"wallet": key, "role": a.Role}).Debug("Role rebound from replication")
	}
	return nil
}
