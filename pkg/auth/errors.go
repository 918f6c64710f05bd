package auth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Errors for authentication operations.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrNotAllowListed     = errors.New("email is not authorized for admin access")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrMissingCredentials = errors.New("email and password are required")
	ErrWeakPassword       = errors.New("password does not meet minimum length requirement")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidName        = errors.New("name is required")
	ErrMissingSecret      = errors.New("token secret not configured")
	ErrInsufficientRole   = errors.New("insufficient role")
)

// CredentialsError is a failed password check. It matches
// ErrInvalidCredentials. AttemptsRemaining is -1 when the account is unknown
// so no hint is rendered.
type CredentialsError struct {
	AttemptsRemaining int
	Locked            bool
}

func (e *CredentialsError) Error() string {
	switch {
	case e.AttemptsRemaining < 0:
		return "Invalid email or password"
	case e.Locked:
		return "Invalid email or password. 0 attempts remaining, account is now locked"
	case e.AttemptsRemaining == 1:
		return "Invalid email or password. 1 attempt remaining"
	default:
		return fmt.Sprintf("Invalid email or password. %d attempts remaining", e.AttemptsRemaining)
	}
}

func (e *CredentialsError) Is(target error) bool { return target == ErrInvalidCredentials }

// LockedError rejects a login against a locked account. It matches
// ErrAccountLocked.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

// Minutes returns the remaining lock time in whole minutes, rounded up.
func (e *LockedError) Minutes() int {
	m := int(math.Ceil(e.Remaining.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

func (e *LockedError) Error() string {
	if e.Minutes() == 1 {
		return "Account is locked. Try again in 1 minute"
	}
	return fmt.Sprintf("Account is locked. Try again in %d minutes", e.Minutes())
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RoleError is returned by Authorize when the caller's role is outside the
// accepted set. It matches ErrInsufficientRole.
type RoleError struct {
	Required RoleSet
	Actual   Role
}

func (e *RoleError) Error() string {
	actual := string(e.Actual)
	if actual == "" {
		actual = "none"
	}
	return fmt.Sprintf("Access denied. Required role: %s. Your role: %s", e.Required, actual)
}

func (e *RoleError) Is(target error) bool { return target == ErrInsufficientRole }
