package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/memoryorgan/internal/ledger"
)

// servePeer exposes docs the way the replication route does.
func servePeer(t *testing.T, docs *ledger.Store) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := strings.TrimPrefix(r.URL.Path, "/api/v1/replication/")
		after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := docs.Since(r.Context(), store, uint(after), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		page := ReplicationPage{Peer: docs.PeerID(), Store: store, Entries: entries}
		if n := len(entries); n > 0 {
			page.Next = entries[n-1].Seq
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPeerSyncService_PullsAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	remote := setupTestLedger(t, "remote")
	local := setupTestLedger(t, "local")
	srv := servePeer(t, remote)

	remoteRecords := NewRecordStore(remote, testTimeout)
	for i := 0; i < 5; i++ {
		_, err := remoteRecords.Create(ctx, "0xabc", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	svc := NewPeerSyncService(local, []string{srv.URL}, "", testTimeout)
	svc.pageSize = 2

	n, err := svc.SyncStore(ctx, srv.URL, ledger.StoreRecords)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	cursor, err := local.Cursor(ctx, srv.URL, ledger.StoreRecords)
	require.NoError(t, err)
	assert.Equal(t, uint(5), cursor)

	// Nothing new on the second pull.
	n, err = svc.SyncStore(ctx, srv.URL, ledger.StoreRecords)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	list, err := NewRecordStore(local, testTimeout).List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestPeerSyncService_SyncAllSurvivesBadPeer(t *testing.T) {
	ctx := context.Background()
	remote := setupTestLedger(t, "remote")
	local := setupTestLedger(t, "local")
	srv := servePeer(t, remote)

	_, err := NewRoleStore(remote, testTimeout).Set(ctx, "0xabc", "contributor", "0xadmin")
	require.NoError(t, err)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer broken.Close()

	svc := NewPeerSyncService(local, []string{broken.URL, srv.URL}, "", testTimeout)
	assert.Equal(t, 1, svc.SyncAll(ctx))

	entries, err := local.All(ctx, ledger.StoreRoles)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPeerSyncService_ScheduleOnlyWithPeers(t *testing.T) {
	local := setupTestLedger(t, "local")
	assert.Empty(t, NewPeerSyncService(local, nil, "@every 10s", testTimeout).Cron.Entries())
	assert.Len(t, NewPeerSyncService(local, []string{"http://peer"}, "@every 10s", testTimeout).Cron.Entries(), 1)
}
