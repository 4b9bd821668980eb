package services

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/signature"
)

const testTimeout = 5 * time.Second

// setupTestDB opens a named in-memory sqlite database shared across
// connections for the current test.
func setupTestDB(t *testing.T, suffix string) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name() + "_" + suffix)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	// One connection serializes the listener worker and the test goroutine;
	// shared-cache sqlite reports table locks instead of waiting.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func setupTestLedger(t *testing.T, peer string) *ledger.Store {
	t.Helper()
	s, err := ledger.New(setupTestDB(t, peer), peer)
	require.NoError(t, err)
	return s
}

type testWallet struct {
	key     *ecdsa.PrivateKey
	Address string
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return testWallet{key: key, Address: signature.Address(key)}
}

func (w testWallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := signature.Sign(message, w.key)
	require.NoError(t, err)
	return sig
}
