package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/memoryorgan/internal/api/middleware"
	"github.com/Wikid82/memoryorgan/internal/services"
	"github.com/Wikid82/memoryorgan/internal/util"
)

// signedBody is the wallet proof every mutating request carries.
type signedBody struct {
	Wallet    string `json:"wallet" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

func (b signedBody) request() services.SignedRequest {
	return services.SignedRequest{Wallet: b.Wallet, Message: b.Message, Signature: b.Signature}
}

type recordWriteRequest struct {
	signedBody
	Data json.RawMessage `json:"data"`
}

// RecordHandler serves the record routes.
type RecordHandler struct {
	engine *services.Engine
}

func NewRecordHandler(engine *services.Engine) *RecordHandler {
	return &RecordHandler{engine: engine}
}

// RegisterRoutes registers record routes.
func (h *RecordHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/records", h.List)
	router.POST("/records", h.Create)
	router.GET("/records/:id", h.Get)
	router.PUT("/records/:id", h.Update)
	router.DELETE("/records/:id", h.Delete)
	router.GET("/records/:id/history", h.History)
	router.GET("/records/:id/audit", h.Audit)
}

func bindWrite(c *gin.Context) (recordWriteRequest, bool) {
	var req recordWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet, signature, message and data are required"})
		return req, false
	}
	if len(req.Data) == 0 || string(req.Data) == "null" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet, signature, message and data are required"})
		return req, false
	}
	return req, true
}

func (h *RecordHandler) Create(c *gin.Context) {
	req, ok := bindWrite(c)
	if !ok {
		return
	}
	record, err := h.engine.CreateRecord(c.Request.Context(), req.request(), req.Data)
	if err != nil {
		writeError(c, "create_record", err)
		return
	}
	middleware.GetRequestLogger(c).WithFields(map[string]interface{}{
		"record_id": record.ID,
		"wallet":    util.SanitizeField(req.Wallet),
	}).Info("Record created")
	c.JSON(http.StatusCreated, record)
}

func (h *RecordHandler) List(c *gin.Context) {
	records, err := h.engine.ListRecords(c.Request.Context())
	if err != nil {
		writeError(c, "list_records", err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *RecordHandler) Get(c *gin.Context) {
	record, err := h.engine.ReadRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "get_record", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *RecordHandler) Update(c *gin.Context) {
	req, ok := bindWrite(c)
	if !ok {
		return
	}
	record, err := h.engine.UpdateRecord(c.Request.Context(), c.Param("id"), req.request(), req.Data)
	if err != nil {
		writeError(c, "update_record", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Delete writes a tombstone. The signed proof travels in the request body.
func (h *RecordHandler) Delete(c *gin.Context) {
	var req signedBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet, signature and message are required"})
		return
	}
	record, err := h.engine.DeleteRecord(c.Request.Context(), c.Param("id"), req.request())
	if err != nil {
		writeError(c, "delete_record", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *RecordHandler) History(c *gin.Context) {
	history, err := h.engine.RecordHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "record_history", err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *RecordHandler) Audit(c *gin.Context) {
	trail, err := h.engine.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "record_audit", err)
		return
	}
	c.JSON(http.StatusOK, trail)
}
