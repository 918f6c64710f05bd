package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/orneryd/storefront/pkg/auth"
)

const accountColumns = `id, name, email, password, role, is_active, auth_provider,
	last_login, login_attempts, is_locked, locked_until, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		a           auth.Account
		role        string
		provider    string
		lastLogin   sql.NullTime
		lockedUntil sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &role, &a.IsActive, &provider,
		&lastLogin, &a.LoginAttempts, &a.IsLocked, &lockedUntil, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Role = auth.Role(role)
	a.Provider = auth.Provider(provider)
	a.LastLogin = timePtr(lastLogin)
	a.LockedUntil = timePtr(lockedUntil)
	return &a, nil
}

// CreateAccount implements auth.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, acct *auth.Account) error {
	_, err := s.db.ExecContext(ctx, `
		insert into accounts (`+accountColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		acct.ID, acct.Name, auth.NormalizeEmail(acct.Email), acct.PasswordHash, string(acct.Role),
		acct.IsActive, string(acct.Provider), nullTime(acct.LastLogin), acct.LoginAttempts,
		acct.IsLocked, nullTime(acct.LockedUntil), acct.CreatedAt, acct.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return auth.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

// GetAccountByID implements auth.AccountStore.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id = $1`, id))
}

// GetAccountByEmail implements auth.AccountStore.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where lower(email) = $1`, auth.NormalizeEmail(email)))
}

// ListAccounts returns all accounts ordered by email.
func (s *Store) ListAccounts(ctx context.Context) ([]*auth.Account, error) {
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from accounts order by email`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []*auth.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAccount writes profile fields only. Lockout columns belong to the
// conditional updates below.
func (s *Store) UpdateAccount(ctx context.Context, acct *auth.Account) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set name = $2, role = $3, is_active = $4, password = $5, updated_at = $6
		where id = $1`,
		acct.ID, acct.Name, string(acct.Role), acct.IsActive, acct.PasswordHash, acct.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}

// RecordFailedLogin implements auth.AccountStore. SET expressions see the
// pre-update row, so login_attempts + 1 is the new count in every clause.
func (s *Store) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, lockFor time.Duration, now time.Time) (*auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		update accounts set
			login_attempts = login_attempts + 1,
			is_locked    = case when login_attempts + 1 >= $2 then true else is_locked end,
			locked_until = case when login_attempts + 1 >= $2 then $3::timestamptz else locked_until end,
			updated_at   = $4
		where id = $1
		returning `+accountColumns,
		id, maxAttempts, now.Add(lockFor), now,
	))
}

// ClearExpiredLock implements auth.AccountStore. When the lock is still
// active, or already cleared by a concurrent caller, the current row is
// returned unchanged.
func (s *Store) ClearExpiredLock(ctx context.Context, id string, now time.Time) (*auth.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		update accounts set
			is_locked = false, locked_until = null, login_attempts = 0, updated_at = $2
		where id = $1 and is_locked and (locked_until is null or locked_until <= $2)
		returning `+accountColumns,
		id, now,
	))
	if errors.Is(err, auth.ErrAccountNotFound) {
		return s.GetAccountByID(ctx, id)
	}
	return acct, err
}

// ResetLockout implements auth.AccountStore.
func (s *Store) ResetLockout(ctx context.Context, id string, now time.Time) (*auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		update accounts set
			is_locked = false, locked_until = null, login_attempts = 0, updated_at = $2
		where id = $1
		returning `+accountColumns,
		id, now,
	))
}

// RecordSuccessfulLogin implements auth.AccountStore.
func (s *Store) RecordSuccessfulLogin(ctx context.Context, id string, now time.Time) (*auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		update accounts set
			is_locked = false, locked_until = null, login_attempts = 0,
			last_login = $2, updated_at = $2
		where id = $1
		returning `+accountColumns,
		id, now,
	))
}

var _ auth.AccountStore = (*Store)(nil)
