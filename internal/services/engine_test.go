package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/memoryorgan/internal/cachestore"
	"github.com/Wikid82/memoryorgan/internal/models"
	"github.com/Wikid82/memoryorgan/internal/signature"
)

func setupTestEngine(t *testing.T, admin string) *Engine {
	t.Helper()
	ctx := context.Background()
	docs := setupTestLedger(t, "node")
	cache, err := cachestore.NewSQLStore(setupTestDB(t, "cache"))
	require.NoError(t, err)

	e, err := NewEngine(ctx, docs, cache, signature.NewVerifier(), EngineOptions{
		AdminAddress:     admin,
		IOTimeout:        testTimeout,
		ReplicationQueue: 16,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func signed(t *testing.T, w testWallet, message string) SignedRequest {
	t.Helper()
	return SignedRequest{Wallet: w.Address, Message: message, Signature: w.sign(t, message)}
}

func TestEngine_SeedsAdmin(t *testing.T) {
	admin := newTestWallet(t)
	e := setupTestEngine(t, admin.Address)
	assert.Equal(t, models.RoleAdmin, e.GetRole(admin.Address))
	assert.Equal(t, models.RoleViewer, e.GetRole("0x0000000000000000000000000000000000000001"))
	assert.Len(t, e.ListRoles(), 1)
}

func TestEngine_RoleAndOwnershipScenario(t *testing.T) {
	ctx := context.Background()
	admin := newTestWallet(t)
	walletA := newTestWallet(t)
	e := setupTestEngine(t, admin.Address)

	// A starts as a viewer.
	_, err := e.CreateRecord(ctx, signed(t, walletA, "create"), json.RawMessage(`{"x":1}`))
	assert.ErrorIs(t, err, ErrAuthDenied)

	_, err = e.SetRole(ctx, signed(t, admin, "promote"), walletA.Address, "contributor")
	require.NoError(t, err)
	assert.Equal(t, models.RoleContributor, e.GetRole(walletA.Address))

	rec, err := e.CreateRecord(ctx, signed(t, walletA, "create"), json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)

	_, err = e.UpdateRecord(ctx, rec.ID, signed(t, admin, "update"), json.RawMessage(`{"x":2}`))
	assert.ErrorIs(t, err, ErrOwnershipMismatch)

	_, err = e.UpdateRecord(ctx, rec.ID, signed(t, walletA, "update"), json.RawMessage(`{"x":2}`))
	assert.ErrorIs(t, err, ErrAuthDenied)

	_, err = e.DeleteRecord(ctx, rec.ID, signed(t, walletA, "delete"))
	assert.ErrorIs(t, err, ErrAuthDenied)

	got, err := e.ReadRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestEngine_SetRoleScenario(t *testing.T) {
	ctx := context.Background()
	admin := newTestWallet(t)
	other := newTestWallet(t)
	e := setupTestEngine(t, admin.Address)

	_, err := e.SetRole(ctx, signed(t, other, "set"), other.Address, "admin")
	assert.ErrorIs(t, err, ErrAuthDenied)

	_, err = e.SetRole(ctx, signed(t, admin, "set"), other.Address, "superuser")
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.Equal(t, models.RoleViewer, e.GetRole(other.Address))

	_, err = e.SetRole(ctx, SignedRequest{Wallet: admin.Address, Message: "set", Signature: other.sign(t, "set")}, other.Address, "admin")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestEngine_LifecycleWithAuditAndCache(t *testing.T) {
	ctx := context.Background()
	admin := newTestWallet(t)
	e := setupTestEngine(t, admin.Address)

	rec, err := e.CreateRecord(ctx, signed(t, admin, "c"), json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	got, err := e.ReadRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	updated, err := e.UpdateRecord(ctx, rec.ID, signed(t, admin, "u"), json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	got, err = e.ReadRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.JSONEq(t, `{"n":2}`, string(got.Data))

	deleted, err := e.DeleteRecord(ctx, rec.ID, signed(t, admin, "d"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted.Version)
	got, err = e.ReadRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, int64(3), got.Version)

	_, err = e.UpdateRecord(ctx, rec.ID, signed(t, admin, "u"), json.RawMessage(`{"n":3}`))
	assert.ErrorIs(t, err, ErrRecordDeleted)

	trail, err := e.AuditTrail(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, models.OperationDelete, trail[0].Operation)
	assert.Equal(t, models.OperationUpdate, trail[1].Operation)
	assert.Equal(t, models.OperationCreate, trail[2].Operation)
	assert.Nil(t, trail[2].PreviousRecord)
	require.NotNil(t, trail[1].PreviousRecord)
	assert.Equal(t, int64(1), trail[1].PreviousRecord.Version)
	assert.Equal(t, int64(2), trail[1].NewRecord.Version)
	assert.Equal(t, int64(2), trail[0].PreviousRecord.Version)
	assert.True(t, trail[0].NewRecord.Deleted)

	history, err := e.RecordHistory(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	list, err := e.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Deleted)
}

func TestEngine_MissingRecord(t *testing.T) {
	ctx := context.Background()
	admin := newTestWallet(t)
	e := setupTestEngine(t, admin.Address)

	_, err := e.ReadRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.DeleteRecord(ctx, "missing", signed(t, admin, "d"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_RestartRebuildsState(t *testing.T) {
	ctx := context.Background()
	admin := newTestWallet(t)
	docs := setupTestLedger(t, "node")
	cache, err := cachestore.NewSQLStore(setupTestDB(t, "cache"))
	require.NoError(t, err)
	opts := EngineOptions{AdminAddress: admin.Address, IOTimeout: testTimeout}

	first, err := NewEngine(ctx, docs, cache, signature.NewVerifier(), opts)
	require.NoError(t, err)
	rec, err := first.CreateRecord(ctx, signed(t, admin, "c"), json.RawMessage(`{}`))
	require.NoError(t, err)
	first.Close()

	second, err := NewEngine(ctx, docs, cache, signature.NewVerifier(), opts)
	require.NoError(t, err)
	defer second.Close()

	assert.Len(t, second.ListRoles(), 1)
	history, err := second.RecordHistory(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
