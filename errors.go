package trustkit

import (
	"errors"
	"fmt"
)

// Sentinel errors for TrustKit operations.
var (
	// ErrNotFound is returned when a role, grant, invite or user record is absent.
	ErrNotFound = errors.New("trustkit: not found")

	// ErrConflict is returned when an operation would break a uniqueness or protection rule.
	ErrConflict = errors.New("trustkit: conflict")

	// ErrSystemRoleProtected is returned when deleting or renaming a system role.
	ErrSystemRoleProtected = fmt.Errorf("%w: system role protected", ErrConflict)

	// ErrInviteNotFound is returned when an invite code is absent or inactive.
	ErrInviteNotFound = fmt.Errorf("%w: invite", ErrNotFound)

	// ErrInviteExpired is returned when an invite is past its expiry.
	ErrInviteExpired = fmt.Errorf("%w: invite expired", ErrNotFound)

	// ErrInviteExhausted is returned when an invite has no remaining uses.
	ErrInviteExhausted = errors.New("trustkit: invite exhausted")

	// ErrInviteEmailMismatch is returned when an email-bound invite is redeemed by someone else.
	ErrInviteEmailMismatch = errors.New("trustkit: invite email mismatch")

	// ErrPermissionDenied is returned when the caller lacks a resource/action permission.
	ErrPermissionDenied = errors.New("trustkit: permission denied")

	// ErrBlocked is returned when content or an account is blocked by the gate.
	// Its message is intentionally generic.
	ErrBlocked = errors.New("content not permitted")

	// ErrInvalidInput is returned when a request is malformed.
	ErrInvalidInput = errors.New("trustkit: invalid input")

	// ErrInvalidPermission is returned when a permission key is outside the vocabulary.
	ErrInvalidPermission = errors.New("trustkit: invalid permission")

	// ErrNoActorID is returned when actor ID is not found in context for audit.
	ErrNoActorID = errors.New("trustkit: no actor ID in context")

	// ErrDatabaseError is returned when a database operation fails.
	ErrDatabaseError = errors.New("trustkit: database error")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err     error  // Underlying sentinel error
	Message string // Additional context
	RoleID  string // Role involved (if applicable)
	UserID  string // User involved (if applicable)
	ActorID string // Actor who triggered the error (if applicable)
	Code    string // Invite code involved (if applicable)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithRole adds role information to the error.
func (e *Error) WithRole(roleID string) *Error {
	e.RoleID = roleID
	return e
}

// WithUser adds user information to the error.
func (e *Error) WithUser(userID string) *Error {
	e.UserID = userID
	return e
}

// WithActor adds actor information to the error.
func (e *Error) WithActor(actorID string) *Error {
	e.ActorID = actorID
	return e
}

// WithCode adds invite code information to the error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// IsNotFound checks if an error is a not-found error (roles, invites, records).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a conflict, including system role protection.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsPermissionDenied checks if an error is an authorization error.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsBlocked checks if an error came from the content gate.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}
