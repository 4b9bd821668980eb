package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/metrics"
)

// ReplicationListener reacts to entries replicated from peers. The ledger
// callback only enqueues; a single worker reloads the affected records or
// roles and reconciles the cache.
type ReplicationListener struct {
	docs    DocumentStore
	records *RecordStore
	roles   *RoleStore
	cache   *CacheSynchronizer

	queue  chan ledger.Event
	resync atomic.Bool

	mu          sync.Mutex
	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewReplicationListener returns a stopped listener with a queue of size
// queueSize.
func NewReplicationListener(docs DocumentStore, records *RecordStore, roles *RoleStore, cache *CacheSynchronizer, queueSize int) *ReplicationListener {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &ReplicationListener{
		docs:    docs,
		records: records,
		roles:   roles,
		cache:   cache,
		queue:   make(chan ledger.Event, queueSize),
	}
}

// Start subscribes to the ledger and runs the worker until ctx is cancelled
// or Stop is called.
func (l *ReplicationListener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.unsubscribe = l.docs.Subscribe(l.enqueue)
	go l.run(ctx, l.done)
	logger.Log().Info("Replication listener started")
}

// Stop unsubscribes, lets the worker finish queued events and waits for it.
func (l *ReplicationListener) Stop() {
	l.mu.Lock()
	if l.done == nil {
		l.mu.Unlock()
		return
	}
	l.unsubscribe()
	l.cancel()
	done := l.done
	l.done = nil
	l.mu.Unlock()
	<-done
	logger.Log().Info("Replication listener stopped")
}

func (l *ReplicationListener) enqueue(ev ledger.Event) {
	select {
	case l.queue <- ev:
		metrics.IncReplicationEvent(ev.Store, "queued")
	default:
		l.resync.Store(true)
		metrics.IncReplicationEvent(ev.Store, "dropped")
		logger.WithFields(map[string]interface{}{"store": ev.Store, "peer": ev.Peer}).Warn("Replication queue full, full resync scheduled")
	}
}

func (l *ReplicationListener) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if l.resync.CompareAndSwap(true, false) {
			l.fullResync(ctx)
		}
		select {
		case ev := <-l.queue:
			l.handle(ctx, ev)
		case <-ctx.Done():
			l.drain()
			return
		}
	}
}

// drain applies whatever is already queued using a fresh short-lived context
// so Stop does not lose events that arrived before it.
func (l *ReplicationListener) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-l.queue:
			l.handle(ctx, ev)
		default:
			return
		}
	}
}

func (l *ReplicationListener) handle(ctx context.Context, ev ledger.Event) {
	switch ev.Store {
	case ledger.StoreRoles:
		if err := l.roles.Rebind(ctx, ev.Keys); err != nil {
			logger.Log().WithError(err).Warn("Role rebind failed, full resync scheduled")
			l.resync.Store(true)
			return
		}
	case ledger.StoreRecords:
		for _, id := range ev.Keys {
			if err := l.cache.Reconcile(ctx, id); err != nil {
				logger.Log().WithError(err).WithField("record_id", id).Warn("Record reconcile failed, full resync scheduled")
				l.resync.Store(true)
			}
		}
	default:
		// Audit entries need no local projection.
	}
	metrics.IncReplicationEvent(ev.Store, "applied")
}

func (l *ReplicationListener) fullResync(ctx context.Context) {
	logger.Log().Info("Running full replication resync")
	if err := l.roles.Load(ctx); err != nil {
		logger.Log().WithError(err).Error("Role resync failed")
		l.resync.Store(true)
		return
	}
	list, err := l.records.List(ctx)
	if err != nil {
		logger.Log().WithError(err).Error("Record resync failed")
		l.resync.Store(true)
		return
	}
	for _, r := range list {
		if err := l.cache.WriteThrough(ctx, r); err != nil {
			logger.Log().WithError(err).WithField("record_id", r.ID).Warn("Cache resync write failed")
		}
	}
}
