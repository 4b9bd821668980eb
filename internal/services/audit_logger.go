package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Wikid82/memoryorgan/internal/ledger"
	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/metrics"
	"github.com/Wikid82/memoryorgan/internal/models"
)

// AuditLogger appends one immutable entry per accepted mutation. Append
// failures never fail the mutation; they are counted, logged, published on
// Errors and alerted.
type AuditLogger struct {
	docs    DocumentStore
	timeout time.Duration
	alerts  Alerter
	now     func() time.Time
	newID   func() string
	errs    chan error
}

// NewAuditLogger returns a logger writing to the audit store. alerts may be nil.
func NewAuditLogger(docs DocumentStore, timeout time.Duration, alerts Alerter) *AuditLogger {
	return &AuditLogger{
		docs:    docs,
		timeout: timeout,
		alerts:  alerts,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return ulid.Make().String() },
		errs:    make(chan error, 64),
	}
}

// Errors delivers append failures. Failures are dropped when nobody drains
// the channel.
func (a *AuditLogger) Errors() <-chan error { return a.errs }

// Record appends the audit entry for a mutation and returns it. The error is
// informational and wraps ErrAuditAppendFailed.
func (a *AuditLogger) Record(ctx context.Context, op models.Operation, wallet string, previous *models.Record, next models.Record) (models.AuditEntry, error) {
	entry := models.AuditEntry{
		LogID:     a.newID(),
		Operation: op,
		Wallet:    wallet,
		RecordID:  next.ID,
		NewRecord: next.Clone(),
		Timestamp: a.now(),
	}
	if previous != nil {
		prev := previous.Clone()
		entry.PreviousRecord = &prev
	}

	if err := a.append(ctx, entry); err != nil {
		err = fmt.Errorf("%w: %s %s: %w", ErrAuditAppendFailed, op, next.ID, err)
		a.fail(entry, err)
		return entry, err
	}
	return entry, nil
}

func (a *AuditLogger) append(ctx context.Context, entry models.AuditEntry) error {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	doc, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := a.docs.PutNew(ctx, ledger.StoreAudit, entry.LogID, 1, doc); err != nil {
		return ioError(ctx, err, ErrWriteError)
	}
	return nil
}

func (a *AuditLogger) fail(entry models.AuditEntry, err error) {
	metrics.IncAuditFailure()
	logger.WithFields(map[string]interface{}{
		"log_id":    entry.LogID,
		"operation": entry.Operation,
		"record_id": entry.RecordID,
	}).WithError(err).Error("Audit append failed")

	select {
	case a.errs <- err:
	default:
	}
	if a.alerts != nil {
		a.alerts.Alert("Audit append failed", err.Error())
	}
}

// List returns audit entries newest first. limit <= 0 returns everything.
func (a *AuditLogger) List(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return a.list(ctx, limit, func(models.AuditEntry) bool { return true })
}

// ListByRecord returns the audit trail of one record, newest first.
func (a *AuditLogger) ListByRecord(ctx context.Context, recordID string) ([]models.AuditEntry, error) {
	return a.list(ctx, 0, func(e models.AuditEntry) bool { return e.RecordID == recordID })
}

func (a *AuditLogger) list(ctx context.Context, limit int, keep func(models.AuditEntry) bool) ([]models.AuditEntry, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	entries, err := a.docs.All(ctx, ledger.StoreAudit)
	if err != nil {
		return nil, ioError(ctx, err, ErrReadError)
	}
	out := make([]models.AuditEntry, 0, len(entries))
	for _, e := range entries {
		var ae models.AuditEntry
		if err := json.Unmarshal([]byte(e.Document), &ae); err != nil {
			logger.Log().WithError(err).WithField("log_id", e.Key).Warn("Skipping unreadable audit entry")
			continue
		}
		if keep(ae) {
			out = append(out, ae)
		}
	}
	// ULIDs sort by creation time.
	sort.SliceStable(out, func(i, j int) bool { return out[i].LogID > out[j].LogID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
