package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/models"
)

func TestRoleStore_DefaultsToViewer(t *testing.T) {
	rs := NewRoleStore(setupTestLedger(t, "a"), testTimeout)
	require.NoError(t, rs.Load(context.Background()))

	assert.Equal(t, models.RoleViewer, rs.Role("0xabc"))
	_, ok := rs.Assignment("0xabc")
	assert.False(t, ok)
}

func TestRoleStore_SetAndReload(t *testing.T) {
	ctx := context.Background()
	docs := setupTestLedger(t, "a")
	rs := NewRoleStore(docs, testTimeout)
	require.NoError(t, rs.Load(ctx))

	a, err := rs.Set(ctx, "0xABC", models.RoleContributor, "0xAdmin")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", a.Wallet)
	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, "0xadmin", a.AssignedBy)

	a, err = rs.Set(ctx, "0xabc", models.RoleAdmin, "0xadmin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Version)
	assert.Equal(t, models.RoleAdmin, rs.Role("0xAbC"))

	// A fresh view built from the same log agrees.
	fresh := NewRoleStore(docs, testTimeout)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, models.RoleAdmin, fresh.Role("0xabc"))
	assert.Len(t, fresh.List(), 1)
}

func TestRoleStore_SetRejectsUnknownRole(t *testing.T) {
	rs := NewRoleStore(setupTestLedger(t, "a"), testTimeout)
	_, err := rs.Set(context.Background(), "0xabc", models.Role("superuser"), "0xadmin")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestRoleStore_SeedOnlyWhenUnassigned(t *testing.T) {
	ctx := context.Background()
	rs := NewRoleStore(setupTestLedger(t, "a"), testTimeout)
	require.NoError(t, rs.Load(ctx))

	require.NoError(t, rs.Seed(ctx, "0xAdmin"))
	assert.Equal(t, models.RoleAdmin, rs.Role("0xadmin"))

	_, err := rs.Set(ctx, "0xadmin", models.RoleViewer, "0xother")
	require.NoError(t, err)

	// Restarting with the same admin address keeps the explicit demotion.
	require.NoError(t, rs.Seed(ctx, "0xAdmin"))
	assert.Equal(t, models.RoleViewer, rs.Role("0xadmin"))
}

func TestRoleStore_LoadSkipsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	docs := setupTestLedger(t, "a")
	_, err := docs.Put(ctx, ledger.StoreRoles, "0xabc", 1, []byte(`{"role":"contributor"}`))
	require.NoError(t, err)
	_, err = docs.Put(ctx, ledger.StoreRoles, "0xabc", 2, []byte(`not json`))
	require.NoError(t, err)
	_, err = docs.Put(ctx, ledger.StoreRoles, "0xabc", 3, []byte(`{"role":"root"}`))
	require.NoError(t, err)

	rs := NewRoleStore(docs, testTimeout)
	require.NoError(t, rs.Load(ctx))
	a, ok := rs.Assignment("0xabc")
	require.True(t, ok)
	assert.Equal(t, models.RoleContributor, a.Role)
	assert.Equal(t, "0xabc", a.Wallet)
}

func TestRoleStore_RebindPicksUpReplicatedAssignment(t *testing.T) {
	ctx := context.Background()
	remote := setupTestLedger(t, "remote")
	local := setupTestLedger(t, "local")

	remoteRoles := NewRoleStore(remote, testTimeout)
	_, err := remoteRoles.Set(ctx, "0xabc", models.RoleContributor, "0xadmin")
	require.NoError(t, err)

	localRoles := NewRoleStore(local, testTimeout)
	require.NoError(t, localRoles.Load(ctx))
	assert.Equal(t, models.RoleViewer, localRoles.Role("0xabc"))

	entries, err := remote.All(ctx, ledger.StoreRoles)
	require.NoError(t, err)
	_, err = local.Ingest(ctx, "remote", entries)
	require.NoError(t, err)

	require.NoError(t, localRoles.Rebind(ctx, []string{"0xABC"}))
	assert.Equal(t, models.RoleContributor, localRoles.Role("0xabc"))
}

// interleavingDocs runs afterGet once a Get has read its entries and before
// they are returned.
type interleavingDocs struct {
	DocumentStore
	afterGet func()
}

func (d *interleavingDocs) Get(ctx context.Context, store, key string) ([]models.LedgerEntry, error) {
	entries, err := d.DocumentStore.Get(ctx, store, key)
	if d.afterGet != nil {
		hook := d.afterGet
		d.afterGet = nil
		hook()
	}
	return entries, err
}

func TestRoleStore_RebindKeepsNewerLocalAssignment(t *testing.T) {
	ctx := context.Background()
	docs := &interleavingDocs{DocumentStore: setupTestLedger(t, "a")}
	rs := NewRoleStore(docs, testTimeout)
	require.NoError(t, rs.Load(ctx))

	_, err := rs.Set(ctx, "0xabc", models.RoleContributor, "0xadmin")
	require.NoError(t, err)

	docs.afterGet = func() {
		_, err := rs.Set(ctx, "0xabc", models.RoleAdmin, "0xadmin")
		require.NoError(t, err)
	}
	require.NoError(t, rs.Rebind(ctx, []string{"0xabc"}))

	a, ok := rs.Assignment("0xabc")
	require.True(t, ok)
	assert.Equal(t, int64(2), a.Version)
	assert.Equal(t, models.RoleAdmin, a.Role)
}

func TestRoleStore_ListSortedByWallet(t *testing.T) {
	ctx := context.Background()
	rs := NewRoleStore(setupTestLedger(t, "a"), testTimeout)
	for _, w := range []string{"0xc", "0xa", "0xb"} {
		_, err := rs.Set(ctx, w, models.RoleContributor, "0xadmin")
		require.NoError(t, err)
	}
	list := rs.List()
	require.Len(t, list, 3)
	wallets := make([]string, len(list))
	for i, a := range list {
		wallets[i] = a.Wallet
	}
	assert.Equal(t, "0xa,0xb,0xc", strings.Join(wallets, ","))
}
