package handlers

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/memoryorgan/internal/api/middleware"
	"github.com/Wikid82/memoryorgan/internal/models"
	"github.com/Wikid82/memoryorgan/internal/services"
	"github.com/Wikid82/memoryorgan/internal/util"
)

type BackupHandler struct {
	service *services.BackupService
	authz   middleware.RequestAuthorizer
}

// NewBackupHandler returns a handler whose create, delete and restore routes
// require an admin wallet signature checked by authz.
func NewBackupHandler(service *services.BackupService, authz middleware.RequestAuthorizer) *BackupHandler {
	return &BackupHandler{service: service, authz: authz}
}

func (h *BackupHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/backups", h.List)
	router.GET("/backups/:filename", h.Download)

	admin := router.Group("", middleware.RequireWalletRole(h.authz, models.OperationBackup))
	admin.POST("/backups", h.Create)
	admin.DELETE("/backups/:filename", h.Delete)
	admin.POST("/backups/:filename/restore", h.Restore)
}

func (h *BackupHandler) List(c *gin.Context) {
	backups, err := h.service.ListBackups()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list backups"})
		return
	}
	c.JSON(http.StatusOK, backups)
}

func (h *BackupHandler) Create(c *gin.Context) {
	filename, err := h.service.CreateBackup()
	if err != nil {
		middleware.GetRequestLogger(c).WithField("action", "create_backup").WithError(err).Error("Failed to create backup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create backup"})
		return
	}
	middleware.GetRequestLogger(c).WithFields(map[string]interface{}{
		"action":   "create_backup",
		"filename": filename,
		"wallet":   c.GetString("wallet"),
	}).Info("Backup created successfully")
	c.JSON(http.StatusCreated, gin.H{"filename": filename, "message": "Backup created successfully"})
}

func (h *BackupHandler) Delete(c *gin.Context) {
	filename := c.Param("filename")
	if err := h.service.DeleteBackup(filename); err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	middleware.GetRequestLogger(c).WithFields(map[string]interface{}{
		"action":   "delete_backup",
		"filename": util.SanitizeField(filename),
		"wallet":   c.GetString("wallet"),
	}).Info("Backup deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Backup deleted"})
}

func (h *BackupHandler) Download(c *gin.Context) {
	filename := c.Param("filename")
	path, err := h.service.GetBackupPath(filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.File(path)
}

// Restore ingests a snapshot into the ledger. Entries already present are
// skipped, so restoring twice is harmless.
func (h *BackupHandler) Restore(c *gin.Context) {
	filename := c.Param("filename")
	log := middleware.GetRequestLogger(c).WithField("action", "restore_backup").WithField("filename", util.SanitizeField(filename)).WithField("wallet", c.GetString("wallet"))
	restored, err := h.service.RestoreBackup(filename)
	if err != nil {
		log.WithError(err).Error("Failed to restore backup")
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to restore backup"})
		return
	}
	log.WithField("entries", restored).Info("Backup restored successfully")
	c.JSON(http.StatusOK, gin.H{"message": "Backup restored", "entries": restored})
}
