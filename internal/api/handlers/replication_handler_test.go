package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/services"
)

func TestReplicationHandler_Pull(t *testing.T) {
	gin.SetMode(gin.TestMode)
	docs, err := ledger.New(OpenTestDB(t, "ledger"), "node-a")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := docs.Put(context.Background(), ledger.StoreRecords, "r", int64(i+1), []byte(`{}`))
		require.NoError(t, err)
	}

	r := gin.New()
	NewReplicationHandler(docs).RegisterRoutes(r.Group("/api/v1"))

	w := doJSON(t, r, http.MethodGet, "/api/v1/replication/records?after=1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page services.ReplicationPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, "node-a", page.Peer)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, uint(2), page.Next)

	w = doJSON(t, r, http.MethodGet, "/api/v1/replication/records?after=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Empty(t, page.Entries)
	assert.Equal(t, uint(3), page.Next)

	assert.Equal(t, http.StatusNotFound, doJSON(t, r, http.MethodGet, "/api/v1/replication/users", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, r, http.MethodGet, "/api/v1/replication/records?after=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, r, http.MethodGet, "/api/v1/replication/records?limit=0", nil).Code)
}
