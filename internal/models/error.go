package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrPolicyViolation    = errors.New("password does not meet policy")
	ErrLastAdmin          = errors.New("cannot deactivate the last active admin")

	// Ledger errors
	ErrAuditWriteFailure  = errors.New("audit write failed")
	ErrIntegrityViolation = errors.New("audit chain integrity violation")
	ErrInvalidAuditEvent  = errors.New("invalid audit event")
)

// AccountLockedError reports an active lockout window.
type AccountLockedError struct {
	MinutesRemaining int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account is locked, try again in %d minutes", e.MinutesRemaining)
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// PolicyViolationError lists every password rule a secret failed.
type PolicyViolationError struct {
	Violations []string
}

func (e *PolicyViolationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrPolicyViolation.Error()
	}
	return "password " + strings.Join(e.Violations, "; ")
}

func (e *PolicyViolationError) Is(target error) bool {
	return target == ErrPolicyViolation
}

// IntegrityViolationError identifies the first ledger position whose link or
// digest does not match.
type IntegrityViolationError struct {
	Position int64
	Reason   string
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("audit chain broken at position %d: %s", e.Position, e.Reason)
}

func (e *IntegrityViolationError) Is(target error) bool {
	return target == ErrIntegrityViolation
}
