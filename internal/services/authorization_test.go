package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/memoryorgan/internal/models"
	"github.com/Wikid82/memoryorgan/internal/signature"
)

type staticRoles map[string]models.Role

func (s staticRoles) Role(wallet string) models.Role {
	if r, ok := s[models.NormalizeWallet(wallet)]; ok {
		return r
	}
	return models.DefaultRole
}

func TestAuthorizer_Authorize(t *testing.T) {
	admin := newTestWallet(t)
	contributor := newTestWallet(t)
	viewer := newTestWallet(t)
	roles := staticRoles{
		models.NormalizeWallet(admin.Address):       models.RoleAdmin,
		models.NormalizeWallet(contributor.Address): models.RoleContributor,
	}
	authz := NewAuthorizer(signature.NewVerifier(), roles)

	ownedBy := func(wallet string) func(context.Context) (*models.Record, error) {
		return func(context.Context) (*models.Record, error) {
			return &models.Record{ID: "r1", Wallet: wallet, Version: 1}, nil
		}
	}
	missing := func(context.Context) (*models.Record, error) { return nil, ErrNotFound }

	const msg = "memory-organ"
	tests := []struct {
		name    string
		req     AuthRequest
		wantErr error
	}{
		{
			name: "admin create",
			req:  AuthRequest{Operation: models.OperationCreate, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg)},
		},
		{
			name: "contributor create",
			req:  AuthRequest{Operation: models.OperationCreate, Wallet: contributor.Address, Message: msg, Signature: contributor.sign(t, msg)},
		},
		{
			name:    "viewer create",
			req:     AuthRequest{Operation: models.OperationCreate, Wallet: viewer.Address, Message: msg, Signature: viewer.sign(t, msg)},
			wantErr: ErrAuthDenied,
		},
		{
			name:    "signature from another wallet",
			req:     AuthRequest{Operation: models.OperationCreate, Wallet: admin.Address, Message: msg, Signature: viewer.sign(t, msg)},
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "signature over another message",
			req:     AuthRequest{Operation: models.OperationCreate, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, "other")},
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "malformed signature",
			req:     AuthRequest{Operation: models.OperationCreate, Wallet: admin.Address, Message: msg, Signature: "0x1234"},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "admin updates own record",
			req:  AuthRequest{Operation: models.OperationUpdate, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg), Target: ownedBy(admin.Address)},
		},
		{
			name:    "admin updates foreign record",
			req:     AuthRequest{Operation: models.OperationUpdate, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg), Target: ownedBy(contributor.Address)},
			wantErr: ErrOwnershipMismatch,
		},
		{
			name:    "contributor updates own record",
			req:     AuthRequest{Operation: models.OperationUpdate, Wallet: contributor.Address, Message: msg, Signature: contributor.sign(t, msg), Target: ownedBy(contributor.Address)},
			wantErr: ErrAuthDenied,
		},
		{
			name:    "admin deletes missing record",
			req:     AuthRequest{Operation: models.OperationDelete, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg), Target: missing},
			wantErr: ErrNotFound,
		},
		{
			name:    "update without target",
			req:     AuthRequest{Operation: models.OperationUpdate, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg)},
			wantErr: ErrAuthDenied,
		},
		{
			name:    "delete without target",
			req:     AuthRequest{Operation: models.OperationDelete, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg)},
			wantErr: ErrAuthDenied,
		},
		{
			name: "admin backup",
			req:  AuthRequest{Operation: models.OperationBackup, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg)},
		},
		{
			name:    "contributor backup",
			req:     AuthRequest{Operation: models.OperationBackup, Wallet: contributor.Address, Message: msg, Signature: contributor.sign(t, msg)},
			wantErr: ErrAuthDenied,
		},
		{
			name: "admin sets role",
			req:  AuthRequest{Operation: models.OperationSetRole, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg), NewRole: "contributor"},
		},
		{
			name:    "admin sets unknown role",
			req:     AuthRequest{Operation: models.OperationSetRole, Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg), NewRole: "superuser"},
			wantErr: ErrInvalidRole,
		},
		{
			name:    "contributor sets role",
			req:     AuthRequest{Operation: models.OperationSetRole, Wallet: contributor.Address, Message: msg, Signature: contributor.sign(t, msg), NewRole: "admin"},
			wantErr: ErrAuthDenied,
		},
		{
			name:    "unknown operation",
			req:     AuthRequest{Operation: models.Operation("archive"), Wallet: admin.Address, Message: msg, Signature: admin.sign(t, msg)},
			wantErr: ErrAuthDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authz.Authorize(context.Background(), tt.req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAuthorizer_RoleCheckedBeforeTargetLoad(t *testing.T) {
	contributor := newTestWallet(t)
	authz := NewAuthorizer(signature.NewVerifier(), staticRoles{
		models.NormalizeWallet(contributor.Address): models.RoleContributor,
	})

	called := false
	err := authz.Authorize(context.Background(), AuthRequest{
		Operation: models.OperationDelete,
		Wallet:    contributor.Address,
		Message:   "m",
		Signature: contributor.sign(t, "m"),
		Target: func(context.Context) (*models.Record, error) {
			called = true
			return nil, errors.New("should not load")
		},
	})
	assert.ErrorIs(t, err, ErrAuthDenied)
	assert.False(t, called)
}

func TestAuthorizer_WalletCaseInsensitive(t *testing.T) {
	admin := newTestWallet(t)
	authz := NewAuthorizer(signature.NewVerifier(), staticRoles{
		models.NormalizeWallet(admin.Address): models.RoleAdmin,
	})
	lower := models.NormalizeWallet(admin.Address)
	require.NoError(t, authz.VerifySignature("m", admin.sign(t, "m"), lower))
}
