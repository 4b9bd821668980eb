package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/memoryorgan/internal/api/middleware"
	"github.com/Wikid82/memoryorgan/internal/models"
	"github.com/Wikid82/memoryorgan/internal/services"
	"github.com/Wikid82/memoryorgan/internal/util"
)

type setRoleRequest struct {
	AdminWallet  string `json:"adminWallet" binding:"required"`
	Signature    string `json:"signature" binding:"required"`
	Message      string `json:"message" binding:"required"`
	TargetWallet string `json:"targetWallet" binding:"required"`
	NewRole      string `json:"newRole" binding:"required"`
}

// RoleHandler serves role lookups and assignments.
type RoleHandler struct {
	engine *services.Engine
}

func NewRoleHandler(engine *services.Engine) *RoleHandler {
	return &RoleHandler{engine: engine}
}

func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/roles", h.List)
	router.GET("/roles/:wallet", h.Get)
	router.POST("/roles", h.Set)
}

func (h *RoleHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.ListRoles())
}

func (h *RoleHandler) Get(c *gin.Context) {
	wallet := c.Param("wallet")
	c.JSON(http.StatusOK, gin.H{
		"wallet": models.NormalizeWallet(wallet),
		"role":   h.engine.GetRole(wallet),
	})
}

func (h *RoleHandler) Set(c *gin.Context) {
	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "adminWallet, signature, message, targetWallet and newRole are required"})
		return
	}
	signed := services.SignedRequest{Wallet: req.AdminWallet, Message: req.Message, Signature: req.Signature}
	assignment, err := h.engine.SetRole(c.Request.Context(), signed, req.TargetWallet, req.NewRole)
	if err != nil {
		writeError(c, "set_role", err)
		return
	}
	middleware.GetRequestLogger(c).WithFields(map[string]interface{}{
		"target": util.SanitizeField(req.TargetWallet),
		"role":   assignment.Role,
	}).Info("Role updated")
	c.JSON(http.StatusOK, assignment)
}
