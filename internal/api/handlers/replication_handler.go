package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/services"
)

// ReplicationHandler serves ledger pages to peers.
type ReplicationHandler struct {
	docs *ledger.Store
}

func NewReplicationHandler(docs *ledger.Store) *ReplicationHandler {
	return &ReplicationHandler{docs: docs}
}

func (h *ReplicationHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/replication/:store", h.Pull)
}

// Pull returns entries of a store appended after the ?after sequence.
func (h *ReplicationHandler) Pull(c *gin.Context) {
	store := c.Param("store")
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit <= 0 || limit > 5000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 5000"})
		return
	}

	entries, err := h.docs.Since(c.Request.Context(), store, uint(after), limit)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownStore) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		writeError(c, "replication_pull", err)
		return
	}
	page := services.ReplicationPage{Peer: h.docs.PeerID(), Store: store, Entries: entries, Next: uint(after)}
	if n := len(entries); n > 0 {
		page.Next = entries[n-1].Seq
	}
	c.JSON(http.StatusOK, page)
}
