package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndCount(t *testing.T) {
	registry := prometheus.NewRegistry()
	Register(registry)

	before := testutil.ToFloat64(AuditFailures())
	IncAuditFailure()
	assert.Equal(t, before+1, testutil.ToFloat64(AuditFailures()))

	IncOperation("create", "ok")
	IncAuthzDecision("create", "allow")
	IncCacheHit()
	IncCacheMiss()
	IncReplicationEvent("records", "processed")
	AddPeerEntries("records", 3)

	assert.Equal(t, float64(3), testutil.ToFloat64(peerEntriesIngestedTotal.WithLabelValues("records")))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["memoryorgan_operations_total"])
	assert.True(t, names["memoryorgan_audit_append_failures_total"])
	assert.True(t, names["memoryorgan_cache_reads_total"])
}
