package handlers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Wikid82/memoryorgan/internal/cachestore"
	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/services"
	"github.com/Wikid82/memoryorgan/internal/signature"
)

// OpenTestDB creates a SQLite in-memory DB unique per test and name. A single
// connection keeps shared-cache table locks from surfacing as errors.
func OpenTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsnName := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name() + "_" + name)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", dsnName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db
}

// OpenTestEngine builds an engine over in-memory stores with admin seeded.
func OpenTestEngine(t *testing.T, admin string) (*services.Engine, *ledger.Store) {
	t.Helper()
	docs, err := ledger.New(OpenTestDB(t, "ledger"), "test-node")
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	cache, err := cachestore.NewSQLStore(OpenTestDB(t, "cache"))
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	engine, err := services.NewEngine(context.Background(), docs, cache, signature.NewVerifier(), services.EngineOptions{
		AdminAddress:     admin,
		IOTimeout:        5 * time.Second,
		ReplicationQueue: 16,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, docs
}
