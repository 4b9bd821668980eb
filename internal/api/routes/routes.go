package routes

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wikid82/memoryorgan/internal/api/handlers"
	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/services"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Engine   *services.Engine
	Ledger   *ledger.Store
	Backups  *services.BackupService
	Registry *prometheus.Registry
}

// Register wires up API routes.
func Register(router *gin.Engine, deps Deps) error {
	if deps.Engine == nil || deps.Ledger == nil {
		return errors.New("routes: engine and ledger are required")
	}

	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	api.GET("/health", handlers.NewHealthHandler(deps.Ledger.PeerID()))

	handlers.NewRecordHandler(deps.Engine).RegisterRoutes(api)
	handlers.NewRoleHandler(deps.Engine).RegisterRoutes(api)
	handlers.NewReplicationHandler(deps.Ledger).RegisterRoutes(api)

	if deps.Backups != nil {
		handlers.NewBackupHandler(deps.Backups, deps.Engine.Authz).RegisterRoutes(api)
	}
	return nil
}
