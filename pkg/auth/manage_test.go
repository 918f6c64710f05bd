package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/storefront/pkg/audit"
)

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.auth.CreateAccount(ctx, NewAccount{
		Name:     "  Jane  ",
		Email:    " Jane@Example.COM ",
		Password: "correct-horse",
	}, RequestMeta{Actor: "root@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Jane", acct.Name)
	assert.Equal(t, "jane@example.com", acct.Email)
	assert.Equal(t, RoleViewer, acct.Role)
	assert.True(t, acct.IsActive)
	assert.True(t, IsHashed(acct.PasswordHash))
	assert.Equal(t, "role viewer by root@example.com", f.audit.last().Reason)

	_, err = f.auth.CreateAccount(ctx, NewAccount{Name: "Dup", Email: "jane@example.com", Password: "correct-horse"}, RequestMeta{})
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestCreateAccountValidation(t *testing.T) {
	f := newFixture(t)
	long := make([]byte, 73)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name string
		in   NewAccount
		want error
	}{
		{"missing name", NewAccount{Email: "a@b.co", Password: "correct-horse"}, ErrInvalidName},
		{"bad email", NewAccount{Name: "A", Email: "nope", Password: "correct-horse"}, ErrInvalidEmail},
		{"short password", NewAccount{Name: "A", Email: "a@b.co", Password: "short"}, ErrWeakPassword},
		{"long password", NewAccount{Name: "A", Email: "a@b.co", Password: string(long)}, ErrWeakPassword},
		{"bad role", NewAccount{Name: "A", Email: "a@b.co", Password: "correct-horse", Role: "root"}, ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.CreateAccount(context.Background(), tt.in, RequestMeta{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUpdateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.createAccount(t, "ed@example.com", "correct-horse", RoleEditor)
	digest := acct.PasswordHash

	f.clock.Advance(time.Minute)
	name := "Ed Itor"
	admin := RoleAdmin
	updated, err := f.auth.UpdateAccount(ctx, acct.ID, AccountUpdate{Name: &name, Role: &admin}, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Ed Itor", updated.Name)
	assert.Equal(t, RoleAdmin, updated.Role)
	assert.Equal(t, digest, updated.PasswordHash)
	assert.Equal(t, f.clock.Now(), updated.UpdatedAt)
	assert.Equal(t, audit.ActionAccountUpdated, f.audit.last().Action)
	assert.Contains(t, f.audit.last().Reason, "role editor->admin")

	// unchanged password is not re-hashed and nothing is written
	same := "correct-horse"
	before := len(f.audit.actions())
	_, err = f.auth.UpdateAccount(ctx, acct.ID, AccountUpdate{Password: &same}, RequestMeta{})
	require.NoError(t, err)
	stored, _ := f.store.GetAccountByID(ctx, acct.ID)
	assert.Equal(t, digest, stored.PasswordHash)
	assert.Len(t, f.audit.actions(), before)

	bad := Role("owner")
	_, err = f.auth.UpdateAccount(ctx, acct.ID, AccountUpdate{Role: &bad}, RequestMeta{})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = f.auth.UpdateAccount(ctx, "missing", AccountUpdate{Name: &name}, RequestMeta{})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestUpdateAccountKeepsLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.createAccount(t, "ed@example.com", "correct-horse", RoleEditor)
	for i := 0; i < 2; i++ {
		_, _ = f.auth.Login(ctx, "ed@example.com", "wrong", meta)
	}

	name := "Renamed"
	_, err := f.auth.UpdateAccount(ctx, acct.ID, AccountUpdate{Name: &name}, RequestMeta{})
	require.NoError(t, err)

	stored, _ := f.store.GetAccountByID(ctx, acct.ID)
	assert.Equal(t, 2, stored.LoginAttempts)
}

func TestUnlockAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.createAccount(t, "ed@example.com", "correct-horse", RoleEditor)
	for i := 0; i < 5; i++ {
		_, _ = f.auth.Login(ctx, "ed@example.com", "wrong", meta)
	}

	_, err := f.auth.Login(ctx, "ed@example.com", "correct-horse", meta)
	require.ErrorIs(t, err, ErrAccountLocked)

	unlocked, err := f.auth.UnlockAccount(ctx, acct.ID, RequestMeta{Actor: "root@example.com"})
	require.NoError(t, err)
	assert.False(t, unlocked.IsLocked)
	assert.Equal(t, audit.ActionAccountUnlocked, f.audit.last().Action)

	_, err = f.auth.Login(ctx, "ed@example.com", "correct-horse", meta)
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.createAccount(t, "ed@example.com", "correct-horse", RoleEditor)

	err := f.auth.ChangePassword(ctx, acct.ID, "wrong", "battery-staple", meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = f.auth.ChangePassword(ctx, acct.ID, "correct-horse", "short", meta)
	assert.ErrorIs(t, err, ErrWeakPassword)

	require.NoError(t, f.auth.ChangePassword(ctx, acct.ID, "correct-horse", "battery-staple", meta))
	assert.Equal(t, audit.ActionPasswordChanged, f.audit.last().Action)

	_, err = f.auth.Login(ctx, "ed@example.com", "battery-staple", meta)
	assert.NoError(t, err)
}

func TestListAccounts(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "b@example.com", "correct-horse", RoleEditor)
	f.createAccount(t, "a@example.com", "correct-horse", RoleViewer)

	accounts, err := f.auth.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "a@example.com", accounts[0].Email)

	got, err := f.auth.GetAccount(context.Background(), accounts[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", got.Email)
}

func TestAccountJSONHidesPassword(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "a@example.com", "correct-horse", RoleViewer)
	assert.NotContains(t, mustJSON(t, acct), acct.PasswordHash)
	assert.NotContains(t, mustJSON(t, acct), "password\"")
}
