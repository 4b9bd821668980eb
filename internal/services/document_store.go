package services

import (
	"context"
	"time"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/models"
)

// DocumentStore is the replicated, append-only document log the engine is
// built on. *ledger.Store implements it.
type DocumentStore interface {
	Put(ctx context.Context, store, key string, version int64, doc []byte) (*models.LedgerEntry, error)
	PutNew(ctx context.Context, store, key string, version int64, doc []byte) (*models.LedgerEntry, error)
	Get(ctx context.Context, store, key string) ([]models.LedgerEntry, error)
	All(ctx context.Context, store string) ([]models.LedgerEntry, error)
	Subscribe(h ledger.Handler) func()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
