package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/metrics"
	"github.com/Wikid82/memoryorgan/internal/models"
)

// EngineOptions configures NewEngine.
type EngineOptions struct {
	AdminAddress     string
	IOTimeout        time.Duration
	ReplicationQueue int
	Alerts           Alerter
}

// SignedRequest carries the wallet proof attached to every mutation.
type SignedRequest struct {
	Wallet    string
	Message   string
	Signature string
}

// Engine is the record service: it authorizes signed requests, applies them
// to the record log, keeps the cache in step and writes the audit trail.
type Engine struct {
	Roles    *RoleStore
	Authz    *Authorizer
	Records  *RecordStore
	Cache    *CacheSynchronizer
	Audit    *AuditLogger
	Listener *ReplicationListener
}

// NewEngine builds the components in dependency order, loads state from the
// log, seeds the admin and starts the replication listener.
func NewEngine(ctx context.Context, docs DocumentStore, cache CacheBackend, verifier SignerRecoverer, opts EngineOptions) (*Engine, error) {
	roles := NewRoleStore(docs, opts.IOTimeout)
	if err := roles.Load(ctx); err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	if opts.AdminAddress != "" {
		if err := roles.Seed(ctx, opts.AdminAddress); err != nil {
			return nil, err
		}
	}

	authz := NewAuthorizer(verifier, roles)

	records := NewRecordStore(docs, opts.IOTimeout)
	if err := records.Load(ctx); err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	cacheSync := NewCacheSynchronizer(cache, records, opts.IOTimeout)
	audit := NewAuditLogger(docs, opts.IOTimeout, opts.Alerts)

	listener := NewReplicationListener(docs, records, roles, cacheSync, opts.ReplicationQueue)
	listener.Start(ctx)

	return &Engine{
		Roles:    roles,
		Authz:    authz,
		Records:  records,
		Cache:    cacheSync,
		Audit:    audit,
		Listener: listener,
	}, nil
}

// Close stops the replication listener after it drains queued events.
func (e *Engine) Close() {
	e.Listener.Stop()
}

func observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.IncOperation(op, result)
}

// afterWrite pushes a committed record into the cache and the audit log.
// Neither failure undoes the write.
func (e *Engine) afterWrite(ctx context.Context, op models.Operation, wallet string, previous *models.Record, next models.Record) {
	if err := e.Cache.WriteThrough(ctx, next); err != nil {
		logger.Log().WithError(err).WithField("record_id", next.ID).Warn("Cache write-through failed")
	}
	_, _ = e.Audit.Record(ctx, op, wallet, previous, next)
}

// CreateRecord stores data as a new record owned by the signing wallet.
func (e *Engine) CreateRecord(ctx context.Context, req SignedRequest, data json.RawMessage) (r models.Record, err error) {
	defer func() { observe("create", err) }()

	if err = e.Authz.Authorize(ctx, AuthRequest{
		Operation: models.OperationCreate,
		Wallet:    req.Wallet,
		Message:   req.Message,
		Signature: req.Signature,
	}); err != nil {
		return models.Record{}, err
	}
	if r, err = e.Records.Create(ctx, req.Wallet, data); err != nil {
		return models.Record{}, err
	}
	e.afterWrite(ctx, models.OperationCreate, req.Wallet, nil, r)
	return r, nil
}

// ReadRecord returns the current version of id, tombstones included.
func (e *Engine) ReadRecord(ctx context.Context, id string) (r models.Record, err error) {
	defer func() { observe("read", err) }()
	return e.Cache.Read(ctx, id)
}

// ListRecords returns the current version of every record.
func (e *Engine) ListRecords(ctx context.Context) (list []models.Record, err error) {
	defer func() { observe("list", err) }()
	return e.Records.List(ctx)
}

// UpdateRecord replaces the data of id. Only the admin that owns the record
// may update it.
func (e *Engine) UpdateRecord(ctx context.Context, id string, req SignedRequest, data json.RawMessage) (r models.Record, err error) {
	defer func() { observe("update", err) }()
	return e.mutate(ctx, models.OperationUpdate, id, req, func() (Change, error) {
		return e.Records.Update(ctx, id, req.Wallet, data)
	})
}

// DeleteRecord writes a tombstone version of id.
func (e *Engine) DeleteRecord(ctx context.Context, id string, req SignedRequest) (r models.Record, err error) {
	defer func() { observe("delete", err) }()
	return e.mutate(ctx, models.OperationDelete, id, req, func() (Change, error) {
		return e.Records.Delete(ctx, id, req.Wallet)
	})
}

func (e *Engine) mutate(ctx context.Context, op models.Operation, id string, req SignedRequest, apply func() (Change, error)) (models.Record, error) {
	err := e.Authz.Authorize(ctx, AuthRequest{
		Operation: op,
		Wallet:    req.Wallet,
		Message:   req.Message,
		Signature: req.Signature,
		Target: func(ctx context.Context) (*models.Record, error) {
			r, err := e.Records.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			return &r, nil
		},
	})
	if err != nil {
		return models.Record{}, err
	}
	ch, err := apply()
	if err != nil {
		return models.Record{}, err
	}
	e.afterWrite(ctx, op, req.Wallet, ch.Previous, ch.Current)
	return ch.Current, nil
}

// GetRole resolves the role of wallet.
func (e *Engine) GetRole(wallet string) models.Role {
	return e.Roles.Role(wallet)
}

// ListRoles returns every explicit role assignment.
func (e *Engine) ListRoles() []models.RoleAssignment {
	return e.Roles.List()
}

// SetRole assigns newRole to target. The request must be signed by an admin.
func (e *Engine) SetRole(ctx context.Context, req SignedRequest, target, newRole string) (a models.RoleAssignment, err error) {
	defer func() { observe("set_role", err) }()

	if err = e.Authz.Authorize(ctx, AuthRequest{
		Operation: models.OperationSetRole,
		Wallet:    req.Wallet,
		Message:   req.Message,
		Signature: req.Signature,
		NewRole:   newRole,
	}); err != nil {
		return models.RoleAssignment{}, err
	}
	role, _ := models.ParseRole(newRole)
	if a, err = e.Roles.Set(ctx, target, role, req.Wallet); err != nil {
		return models.RoleAssignment{}, err
	}
	logger.WithFields(map[string]interface{}{
		"wallet":      a.Wallet,
		"role":        a.Role,
		"assigned_by": a.AssignedBy,
	}).Info("Role assigned")
	return a, nil
}

// RecordHistory returns every known version of id.
func (e *Engine) RecordHistory(ctx context.Context, id string) ([]models.Record, error) {
	return e.Records.History(ctx, id)
}

// AuditTrail returns the audit entries of id, newest first.
func (e *Engine) AuditTrail(ctx context.Context, id string) ([]models.AuditEntry, error) {
	return e.Audit.ListByRecord(ctx, id)
}

// AuditErrors exposes audit append failures for monitoring.
func (e *Engine) AuditErrors() <-chan error {
	return e.Audit.Errors()
}
