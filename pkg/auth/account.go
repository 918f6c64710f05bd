package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"
)

// Provider records how an account was first created.
type Provider string

const (
	ProviderPassword Provider = "password"
	ProviderGoogle   Provider = "google"
)

// Account is an admin account.
//
// PasswordHash is never serialized; stores persist it through their own
// record types. Lockout fields are only changed through the AccountStore's
// atomic lockout operations.
type Account struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Role          Role       `json:"role"`
	IsActive      bool       `json:"isActive"`
	Provider      Provider   `json:"authProvider"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	LoginAttempts int        `json:"loginAttempts"`
	IsLocked      bool       `json:"isLocked"`
	LockedUntil   *time.Time `json:"lockedUntil,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// LockActive reports whether the account is locked at now.
func (a *Account) LockActive(now time.Time) bool {
	return a.IsLocked && a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// LockExpired reports whether the account carries a lock that has run out.
func (a *Account) LockExpired(now time.Time) bool {
	return a.IsLocked && !a.LockActive(now)
}

// Summary is the account shape returned alongside tokens.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Summary returns the public identity of the account.
func (a *Account) Summary() Summary {
	return Summary{ID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role}
}

// Clone returns a deep copy of a.
func (a *Account) Clone() *Account {
	c := *a
	if a.LastLogin != nil {
		t := *a.LastLogin
		c.LastLogin = &t
	}
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// AccountStore persists admin accounts.
//
// Get methods return ErrAccountNotFound for missing accounts and
// CreateAccount returns ErrAccountExists for a duplicate email. Emails are
// stored and looked up lower-cased.
//
// The lockout methods are single atomic operations on the stored record and
// return the account as it is after the change.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct *Account) error
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)

	// UpdateAccount persists name, role, isActive, password and updatedAt.
	// Lockout fields are left as stored.
	UpdateAccount(ctx context.Context, acct *Account) error

	// RecordFailedLogin increments loginAttempts and, when the new count
	// reaches maxAttempts, sets isLocked and lockedUntil = now + lockFor.
	RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockFor time.Duration, now time.Time) (*Account, error)

	// ClearExpiredLock resets the lock and counter only if the account is
	// locked with lockedUntil at or before now.
	ClearExpiredLock(ctx context.Context, id string, now time.Time) (*Account, error)

	// ResetLockout unconditionally clears the lock and counter.
	ResetLockout(ctx context.Context, id string, now time.Time) (*Account, error)

	// RecordSuccessfulLogin clears the lock and counter and sets lastLogin.
	RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) (*Account, error)
}
