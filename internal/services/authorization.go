package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Wikid82/memoryorgan/internal/logger"
	"github.com/Wikid82/memoryorgan/internal/metrics"
	"github.com/Wikid82/memoryorgan/internal/models"
	"github.com/Wikid82/memoryorgan/internal/util"
)

// SignerRecoverer recovers the address that signed a message.
type SignerRecoverer interface {
	RecoverSigner(message, signature string) (string, error)
}

// RoleResolver resolves a wallet's role.
type RoleResolver interface {
	Role(wallet string) models.Role
}

// requiredRoles is the write policy table.
var requiredRoles = map[models.Operation][]models.Role{
	models.OperationCreate:  {models.RoleAdmin, models.RoleContributor},
	models.OperationUpdate:  {models.RoleAdmin},
	models.OperationDelete:  {models.RoleAdmin},
	models.OperationSetRole: {models.RoleAdmin},
	models.OperationBackup:  {models.RoleAdmin},
}

// AuthRequest describes an operation to authorize.
type AuthRequest struct {
	Operation models.Operation
	Wallet    string
	Message   string
	Signature string

	// Target loads the record an update or delete applies to. It is only
	// called once the role check has passed.
	Target func(ctx context.Context) (*models.Record, error)
	// NewRole is the role a set-role request assigns.
	NewRole string
}

// Authorizer decides whether a signed request may proceed. It has no side
// effects beyond metrics.
type Authorizer struct {
	verifier SignerRecoverer
	roles    RoleResolver
}

// NewAuthorizer returns an Authorizer.
func NewAuthorizer(verifier SignerRecoverer, roles RoleResolver) *Authorizer {
	return &Authorizer{verifier: verifier, roles: roles}
}

// Authorize returns nil when req is allowed. Checks run in order: signature,
// role, then ownership (update/delete) or role validity (set role).
func (a *Authorizer) Authorize(ctx context.Context, req AuthRequest) error {
	err := a.authorize(ctx, req)
	result := "allow"
	if err != nil {
		result = "deny"
		logger.WithFields(map[string]interface{}{
			"operation": req.Operation,
			"wallet":    util.SanitizeField(req.Wallet),
		}).WithError(err).Debug("Authorization denied")
	}
	metrics.IncAuthzDecision(string(req.Operation), result)
	return err
}

func (a *Authorizer) authorize(ctx context.Context, req AuthRequest) error {
	if err := a.VerifySignature(req.Message, req.Signature, req.Wallet); err != nil {
		return err
	}

	allowed, ok := requiredRoles[req.Operation]
	if !ok {
		return fmt.Errorf("%w: unknown operation %q", ErrAuthDenied, req.Operation)
	}
	role := a.roles.Role(req.Wallet)
	if !hasRole(role, allowed) {
		return fmt.Errorf("%w: %s requires %s, wallet has %s", ErrAuthDenied, req.Operation, joinRoles(allowed), role)
	}

	switch req.Operation {
	case models.OperationUpdate, models.OperationDelete:
		if req.Target == nil {
			return fmt.Errorf("%w: %s needs a target record", ErrAuthDenied, req.Operation)
		}
		target, err := req.Target(ctx)
		if err != nil {
			return err
		}
		if !target.OwnedBy(req.Wallet) {
			return ErrOwnershipMismatch
		}
	case models.OperationSetRole:
		if _, ok := models.ParseRole(req.NewRole); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidRole, util.SanitizeField(req.NewRole))
		}
	}
	return nil
}

// VerifySignature checks that signature over message recovers wallet.
func (a *Authorizer) VerifySignature(message, signature, wallet string) error {
	signer, err := a.verifier.RecoverSigner(message, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !strings.EqualFold(signer, strings.TrimSpace(wallet)) {
		return ErrInvalidSignature
	}
	return nil
}

func hasRole(role models.Role, allowed []models.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func joinRoles(roles []models.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, " or ")
}
