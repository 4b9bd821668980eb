package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryorgan_operations_total",
		Help: "Record and role operations by outcome",
	}, []string{"operation", "result"})
	authzDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryorgan_authz_decisions_total",
		Help: "Authorization decisions by operation and result",
	}, []string{"operation", "result"})
	auditAppendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memoryorgan_audit_append_failures_total",
		Help: "Audit entries that could not be appended after an accepted mutation",
	})
	cacheReadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryorgan_cache_reads_total",
		Help: "Record reads served by the local cache (hit) or the ledger (miss)",
	}, []string{"result"})
	replicationEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryorgan_replication_events_total",
		Help: "Replication events by store and outcome",
	}, []string{"store", "result"})
	peerEntriesIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryorgan_peer_entries_ingested_total",
		Help: "Ledger entries pulled from peers and stored locally",
	}, []string{"store"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		operationsTotal,
		authzDecisionsTotal,
		auditAppendFailuresTotal,
		cacheReadsTotal,
		replicationEventsTotal,
		peerEntriesIngestedTotal,
	)
}

// IncOperation counts a completed engine operation.
func IncOperation(operation, result string) { operationsTotal.WithLabelValues(operation, result).Inc() }

// IncAuthzDecision counts an allow or deny decision.
func IncAuthzDecision(operation, result string) {
	authzDecisionsTotal.WithLabelValues(operation, result).Inc()
}

// IncAuditFailure increments the audit append failure counter.
func IncAuditFailure() { auditAppendFailuresTotal.Inc() }

// AuditFailures is the audit append failure counter, exposed for tests and health output.
func AuditFailures() prometheus.Counter { return auditAppendFailuresTotal }

// IncCacheHit increments the cache hit counter.
func IncCacheHit() { cacheReadsTotal.WithLabelValues("hit").Inc() }

// IncCacheMiss increments the cache miss counter.
func IncCacheMiss() { cacheReadsTotal.WithLabelValues("miss").Inc() }

// IncReplicationEvent counts a replication event outcome (processed, dropped, failed).
func IncReplicationEvent(store, result string) {
	replicationEventsTotal.WithLabelValues(store, result).Inc()
}

// AddPeerEntries counts entries ingested from peers.
func AddPeerEntries(store string, n int) {
	peerEntriesIngestedTotal.WithLabelValues(store).Add(float64(n))
}
