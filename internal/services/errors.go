package services

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrAuthDenied        = errors.New("unauthorized: role does not permit operation")
	ErrNotFound          = errors.New("record not found")
	ErrOwnershipMismatch = errors.New("unauthorized: wallet mismatch")
	ErrInvalidRole       = errors.New("invalid role")
	ErrRecordDeleted     = errors.New("record is deleted")
	ErrWriteConflict     = errors.New("write conflict")
	ErrWriteError        = errors.New("error writing record")
	ErrReadError         = errors.New("error reading ledger")
	ErrTimeout           = errors.New("operation timed out")
	ErrAuditAppendFailed = errors.New("audit append failed")
)

// ioError classifies a ledger or cache failure. Deadline overruns become
// ErrTimeout; anything else is wrapped with kind.
func ioError(ctx context.Context, err, kind error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}
