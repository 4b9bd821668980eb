package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Wikid82/memoryorgan/internal/api/routes"
	"github.com/Wikid82/memoryorgan/internal/cachestore"
	"github.com/Wikid82/memoryorgan/internal/config"
	"github.com/Wikid82/memoryorgan/internal/database"
	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/metrics"
	"github.com/Wikid82/memoryorgan/internal/server"
	"github.com/Wikid82/memoryorgan/internal/services"
	"github.com/Wikid82/memoryorgan/internal/signature"
	"github.com/Wikid82/memoryorgan/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	logger.Init(cfg.Debug, logger.RotatingOutput(cfg.LogDir, "memoryorgan.log"))
	logger.WithFields(map[string]interface{}{
		"version": version.Full(),
		"peer_id": cfg.PeerID,
	}).Infof("starting %s", version.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		logger.Log().WithError(err).Fatal("connect database")
	}

	docs, err := ledger.New(db, cfg.PeerID)
	if err != nil {
		logger.Log().WithError(err).Fatal("open ledger")
	}

	var cache services.CacheBackend
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		rs, err := cachestore.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Log().WithError(err).Fatal("connect redis cache")
		}
		defer rs.Close()
		cache = rs
	default:
		sqlCache, err := cachestore.NewSQLStore(db)
		if err != nil {
			logger.Log().WithError(err).Fatal("open cache table")
		}
		cache = sqlCache
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	alerts := services.NewAlertService(cfg.AlertURL)
	engine, err := services.NewEngine(ctx, docs, cache, signature.NewVerifier(), services.EngineOptions{
		AdminAddress:     cfg.AdminAddress,
		IOTimeout:        cfg.IOTimeout,
		ReplicationQueue: cfg.ReplicationQueue,
		Alerts:           alerts,
	})
	if err != nil {
		logger.Log().WithError(err).Fatal("start engine")
	}

	backups := services.NewBackupService(docs, cfg.BackupDir, cfg.BackupSchedule)
	backups.Start()

	peers := services.NewPeerSyncService(docs, cfg.Peers, cfg.PeerSyncSchedule, cfg.IOTimeout)
	peers.Start()
	if len(cfg.Peers) > 0 {
		logger.Log().WithField("peers", cfg.Peers).Info("Peer sync enabled")
	}

	srv, err := server.New(routes.Deps{
		Engine:   engine,
		Ledger:   docs,
		Backups:  backups,
		Registry: registry,
	}, cfg)
	if err != nil {
		logger.Log().WithError(err).Fatal("build server")
	}

	logger.Log().WithField("port", cfg.HTTPPort).Info("HTTP server listening")
	if err := srv.Run(ctx); err != nil {
		logger.Log().WithError(err).Error("server error")
	}

	// Stop producers before the engine so no new work reaches the listener.
	peers.Stop()
	backups.Stop()
	engine.Close()
	logger.Log().Info("shutdown complete")
}
