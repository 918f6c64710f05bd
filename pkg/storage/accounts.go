package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/storefront/pkg/auth"
)

// accountRecord is the stored form of auth.Account. auth.Account hides the
// password digest from JSON, so it is carried here explicitly.
type accountRecord struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	Password      string        `json:"password"`
	Role          auth.Role     `json:"role"`
	IsActive      bool          `json:"isActive"`
	Provider      auth.Provider `json:"authProvider"`
	LastLogin     *time.Time    `json:"lastLogin,omitempty"`
	LoginAttempts int           `json:"loginAttempts"`
	IsLocked      bool          `json:"isLocked"`
	LockedUntil   *time.Time    `json:"lockedUntil,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func toAccountRecord(a *auth.Account) *accountRecord {
	return &accountRecord{
		ID:            a.ID,
		Name:          a.Name,
		Email:         a.Email,
		Password:      a.PasswordHash,
		Role:          a.Role,
		IsActive:      a.IsActive,
		Provider:      a.Provider,
		LastLogin:     a.LastLogin,
		LoginAttempts: a.LoginAttempts,
		IsLocked:      a.IsLocked,
		LockedUntil:   a.LockedUntil,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func (r *accountRecord) account() *auth.Account {
	return &auth.Account{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		PasswordHash:  r.Password,
		Role:          r.Role,
		IsActive:      r.IsActive,
		Provider:      r.Provider,
		LastLogin:     r.LastLogin,
		LoginAttempts: r.LoginAttempts,
		IsLocked:      r.IsLocked,
		LockedUntil:   r.LockedUntil,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func accountKey(id string) []byte         { return key(prefixAccount, id) }
func accountEmailKey(email string) []byte { return key(prefixAccountEmail, auth.NormalizeEmail(email)) }

func getAccount(txn *badger.Txn, id string) (*accountRecord, error) {
	var rec accountRecord
	if err := getJSON(txn, accountKey(id), &rec); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, auth.ErrAccountNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// CreateAccount stores a new account. The email index entry is written in
// the same transaction, so two concurrent creates for one email cannot both
// succeed.
func (b *BadgerEngine) CreateAccount(_ context.Context, acct *auth.Account) error {
	if acct == nil || acct.ID == "" {
		return ErrInvalidID
	}
	rec := toAccountRecord(acct)
	rec.Email = auth.NormalizeEmail(rec.Email)

	return b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(accountEmailKey(rec.Email)); err == nil {
			return auth.ErrAccountExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(accountKey(rec.ID)); err == nil {
			return auth.ErrAccountExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, accountKey(rec.ID), rec); err != nil {
			return err
		}
		return txn.Set(accountEmailKey(rec.Email), []byte(rec.ID))
	})
}

// GetAccountByID implements auth.AccountStore.
func (b *BadgerEngine) GetAccountByID(_ context.Context, id string) (*auth.Account, error) {
	var out *auth.Account
	err := b.view(func(txn *badger.Txn) error {
		rec, err := getAccount(txn, id)
		if err != nil {
			return err
		}
		out = rec.account()
		return nil
	})
	return out, err
}

// GetAccountByEmail implements auth.AccountStore.
func (b *BadgerEngine) GetAccountByEmail(_ context.Context, email string) (*auth.Account, error) {
	var out *auth.Account
	err := b.view(func(txn *badger.Txn) error {
		id, err := getString(txn, accountEmailKey(email))
		if errors.Is(err, errNotFound) {
			return auth.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		rec, err := getAccount(txn, id)
		if err != nil {
			return err
		}
		out = rec.account()
		return nil
	})
	return out, err
}

// ListAccounts returns all accounts ordered by email.
func (b *BadgerEngine) ListAccounts(_ context.Context) ([]*auth.Account, error) {
	var out []*auth.Account
	err := b.view(func(txn *badger.Txn) error {
		return scanJSON(txn, []byte{prefixAccount}, func(rec *accountRecord) error {
			out = append(out, rec.account())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// UpdateAccount writes the profile fields of acct. Lockout state is
// re-read inside the transaction and kept, so a concurrent failed login is
// never overwritten by a stale copy.
func (b *BadgerEngine) UpdateAccount(_ context.Context, acct *auth.Account) error {
	return b.update(func(txn *badger.Txn) error {
		rec, err := getAccount(txn, acct.ID)
		if err != nil {
			return err
		}
		rec.Name = acct.Name
		rec.Role = acct.Role
		rec.IsActive = acct.IsActive
		rec.Password = acct.PasswordHash
		rec.UpdatedAt = acct.UpdatedAt
		return setJSON(txn, accountKey(rec.ID), rec)
	})
}

// mutateAccount applies fn to the stored record inside one transaction and
// returns the result. Badger aborts the commit if another transaction wrote
// the record after it was read; update then retries with fresh state.
func (b *BadgerEngine) mutateAccount(id string, fn func(rec *accountRecord)) (*auth.Account, error) {
	var out *auth.Account
	err := b.update(func(txn *badger.Txn) error {
		rec, err := getAccount(txn, id)
		if err != nil {
			return err
		}
		fn(rec)
		if err := setJSON(txn, accountKey(id), rec); err != nil {
			return err
		}
		out = rec.account()
		return nil
	})
	return out, err
}

// RecordFailedLogin implements auth.AccountStore.
func (b *BadgerEngine) RecordFailedLogin(_ context.Context, id string, maxAttempts int, lockFor time.Duration, now time.Time) (*auth.Account, error) {
	return b.mutateAccount(id, func(rec *accountRecord) {
		rec.LoginAttempts++
		if rec.LoginAttempts >= maxAttempts {
			until := now.Add(lockFor)
			rec.IsLocked = true
			rec.LockedUntil = &until
		}
		rec.UpdatedAt = now
	})
}

// ClearExpiredLock implements auth.AccountStore.
func (b *BadgerEngine) ClearExpiredLock(_ context.Context, id string, now time.Time) (*auth.Account, error) {
	return b.mutateAccount(id, func(rec *accountRecord) {
		if !rec.IsLocked || (rec.LockedUntil != nil && now.Before(*rec.LockedUntil)) {
			return
		}
		rec.IsLocked = false
		rec.LockedUntil = nil
		rec.LoginAttempts = 0
		rec.UpdatedAt = now
	})
}

// ResetLockout implements auth.AccountStore.
func (b *BadgerEngine) ResetLockout(_ context.Context, id string, now time.Time) (*auth.Account, error) {
	return b.mutateAccount(id, func(rec *accountRecord) {
		rec.IsLocked = false
		rec.LockedUntil = nil
		rec.LoginAttempts = 0
		rec.UpdatedAt = now
	})
}

// RecordSuccessfulLogin implements auth.AccountStore.
func (b *BadgerEngine) RecordSuccessfulLogin(_ context.Context, id string, now time.Time) (*auth.Account, error) {
	return b.mutateAccount(id, func(rec *accountRecord) {
		last := now
		rec.IsLocked = false
		rec.LockedUntil = nil
		rec.LoginAttempts = 0
		rec.LastLogin = &last
		rec.UpdatedAt = now
	})
}

var _ auth.AccountStore = (*BadgerEngine)(nil)
