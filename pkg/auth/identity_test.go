package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/storefront/pkg/audit"
)

func TestLoginWithIdentityNotAllowListed(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.LoginWithIdentity(context.Background(), Identity{
		Provider: ProviderGoogle,
		Email:    "stranger@example.com",
		Name:     "Stranger",
	}, meta)
	assert.ErrorIs(t, err, ErrNotAllowListed)

	accounts, _ := f.store.ListAccounts(context.Background())
	assert.Empty(t, accounts)
	assert.Equal(t, audit.ActionOAuthLoginFailed, f.audit.last().Action)
	assert.Equal(t, audit.StatusBlocked, f.audit.last().Status)
	assert.Empty(t, f.limiter.keys)
}

func TestLoginWithIdentityProvisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.auth.LoginWithIdentity(ctx, Identity{Email: "Owner@Example.com", Name: "Shop Owner"}, meta)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, RoleAdmin, res.Account.Role)
	assert.True(t, res.Account.IsActive)
	assert.Equal(t, ProviderGoogle, res.Account.Provider)
	assert.Equal(t, "Shop Owner", res.Account.Name)

	// a second sign-in reuses the account
	_, err = f.auth.LoginWithIdentity(ctx, Identity{Email: "owner@example.com"}, meta)
	require.NoError(t, err)

	accounts, _ := f.store.ListAccounts(ctx)
	require.Len(t, accounts, 1)

	// the placeholder password never authenticates
	_, err = f.auth.Login(ctx, "owner@example.com", "", meta)
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.False(t, CheckPassword("owner@example.com", accounts[0].PasswordHash))

	assert.Contains(t, f.audit.actions(), audit.ActionAccountCreated)
	assert.Equal(t, audit.ActionOAuthLogin, f.audit.last().Action)
	assert.Equal(t, []string{meta.IPAddress, meta.IPAddress}, f.limiter.keys)
}

func TestLoginWithIdentityDomainAllowList(t *testing.T) {
	f := newFixture(t)
	res, err := f.auth.LoginWithIdentity(context.Background(), Identity{Email: "ops@trusted.example"}, meta)
	require.NoError(t, err)
	assert.Equal(t, "ops", res.Account.Name)

	_, err = f.auth.LoginWithIdentity(context.Background(), Identity{Email: "ops@untrusted.example"}, meta)
	assert.ErrorIs(t, err, ErrNotAllowListed)
}

func TestLoginWithIdentityExistingAccount(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "editor@example.com", "correct-horse", RoleEditor)
	ctx := context.Background()

	// existing accounts do not need to be allow-listed and keep their role
	res, err := f.auth.LoginWithIdentity(ctx, Identity{Email: "editor@example.com"}, meta)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, res.Account.ID)
	assert.Equal(t, RoleEditor, res.Account.Role)
}

func TestLoginWithIdentityInactive(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner@example.com", "correct-horse", RoleAdmin)
	inactive := false
	_, err := f.auth.UpdateAccount(context.Background(), acct.ID, AccountUpdate{IsActive: &inactive}, meta)
	require.NoError(t, err)

	_, err = f.auth.LoginWithIdentity(context.Background(), Identity{Email: "owner@example.com"}, meta)
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestLoginWithIdentityResetsLockout(t *testing.T) {
	f := newFixture(t)
	acct := f.createAccount(t, "owner@example.com", "correct-horse", RoleAdmin)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = f.auth.Login(ctx, "owner@example.com", "wrong", meta)
	}

	_, err := f.auth.LoginWithIdentity(ctx, Identity{Email: "owner@example.com"}, meta)
	require.NoError(t, err)
	stored, _ := f.store.GetAccountByID(ctx, acct.ID)
	assert.Zero(t, stored.LoginAttempts)
	assert.NotNil(t, stored.LastLogin)
}

func TestLoginWithIdentityInvalidEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.LoginWithIdentity(context.Background(), Identity{Email: "not-an-email"}, meta)
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

func TestRecordIdentityFailure(t *testing.T) {
	f := newFixture(t)
	f.auth.RecordIdentityFailure(context.Background(), "", " Intruder@Example.com ", meta, "invalid identity token")

	e := f.audit.last()
	assert.Equal(t, audit.ActionOAuthLoginFailed, e.Action)
	assert.Equal(t, audit.StatusFailed, e.Status)
	assert.Equal(t, "intruder@example.com", e.Email)
	assert.Equal(t, meta.IPAddress, e.IPAddress)
	assert.Equal(t, meta.UserAgent, e.UserAgent)
	assert.Equal(t, "invalid identity token", e.Reason)
	assert.Empty(t, f.limiter.keys)
}
