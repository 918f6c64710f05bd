package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/metrics"
)

// Identity is a verified external identity.
type Identity struct {
	Provider Provider
	Subject  string
	Email    string
	Name     string
}

type allowList struct {
	emails  map[string]struct{}
	domains map[string]struct{}
}

func newAllowList(entries []string) allowList {
	l := allowList{emails: map[string]struct{}{}, domains: map[string]struct{}{}}
	for _, e := range entries {
		e = NormalizeEmail(e)
		switch {
		case e == "":
		case strings.HasPrefix(e, "@"):
			l.domains[strings.TrimPrefix(e, "@")] = struct{}{}
		default:
			l.emails[e] = struct{}{}
		}
	}
	return l
}

func (l allowList) allows(email string) bool {
	if _, ok := l.emails[email]; ok {
		return true
	}
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		_, ok := l.domains[email[at+1:]]
		return ok
	}
	return false
}

// IsAllowListed reports whether email may be auto-provisioned by an identity
// login.
func (a *Authenticator) IsAllowListed(email string) bool {
	return a.allow.allows(NormalizeEmail(email))
}

// LoginWithIdentity signs in a verified external identity.
//
// An unknown email is rejected with ErrNotAllowListed unless it is on the
// allow-list, in which case an active admin account with an unusable local
// password is created. An inactive account is rejected with
// ErrAccountInactive. Otherwise the login completes exactly like a password
// login.
func (a *Authenticator) LoginWithIdentity(ctx context.Context, id Identity, meta RequestMeta) (*LoginResult, error) {
	email := NormalizeEmail(id.Email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	provider := id.Provider
	if provider == "" {
		provider = ProviderGoogle
	}

	acct, err := a.store.GetAccountByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		if !a.IsAllowListed(email) {
			metrics.LoginOutcomes.WithLabelValues(string(provider), "forbidden").Inc()
			a.record(ctx, audit.ActionOAuthLoginFailed, audit.StatusBlocked, email, meta, "email not allow-listed")
			return nil, ErrNotAllowListed
		}
		acct, err = a.provision(ctx, id, email, provider, meta)
		if err != nil {
			metrics.LoginOutcomes.WithLabelValues(string(provider), "error").Inc()
			return nil, err
		}
	case err != nil:
		metrics.LoginOutcomes.WithLabelValues(string(provider), "error").Inc()
		return nil, fmt.Errorf("loading account: %w", err)
	}

	if !acct.IsActive {
		metrics.LoginOutcomes.WithLabelValues(string(provider), "inactive").Inc()
		a.record(ctx, audit.ActionOAuthLoginFailed, audit.StatusBlocked, email, meta, "account deactivated")
		return nil, ErrAccountInactive
	}

	return a.completeLogin(ctx, acct, meta, audit.ActionOAuthLogin, string(provider))
}

// RecordIdentityFailure audits an identity token that failed verification.
// email is the address the token claimed, if it could be read, and may be
// empty.
func (a *Authenticator) RecordIdentityFailure(ctx context.Context, provider Provider, email string, meta RequestMeta, reason string) {
	if provider == "" {
		provider = ProviderGoogle
	}
	metrics.LoginOutcomes.WithLabelValues(string(provider), "invalid_token").Inc()
	a.record(ctx, audit.ActionOAuthLoginFailed, audit.StatusFailed, NormalizeEmail(email), meta, reason)
}

func (a *Authenticator) provision(ctx context.Context, id Identity, email string, provider Provider, meta RequestMeta) (*Account, error) {
	digest, err := unusablePassword(a.config.BcryptCost)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(id.Name)
	if name == "" {
		name = email[:strings.IndexByte(email, '@')]
	}
	now := a.now().UTC()
	acct := &Account{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: digest,
		Role:         RoleAdmin,
		IsActive:     true,
		Provider:     provider,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateAccount(ctx, acct); err != nil {
		if !errors.Is(err, ErrAccountExists) {
			return nil, fmt.Errorf("creating account: %w", err)
		}
		// A concurrent first sign-in created it.
		return a.store.GetAccountByEmail(ctx, email)
	}
	a.log.Info("account provisioned from identity provider",
		slog.String("account_id", acct.ID),
		slog.String("provider", string(provider)),
	)
	a.record(ctx, audit.ActionAccountCreated, audit.StatusSuccess, email, meta, "provisioned by "+string(provider)+" sign-in")
	return acct, nil
}
