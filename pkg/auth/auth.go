// Package auth provides admin authentication and authorization for the
// storefront backend.
//
// Architecture:
//   - HS256 JWTs: a 24h access token and a 7d refresh token, each signed with
//     its own secret
//   - Three closed roles ordered admin > editor > viewer
//   - bcrypt password digests (cost 10), hashed by explicit service calls
//   - Progressive lockout: 5 failed passwords lock the account for 15 minutes,
//     expired locks are cleared lazily by the next attempt
//   - Google identity federation with an email allow-list
//   - Audit records for every outcome, written best-effort
//
// Example Usage:
//
//	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
//		AccessSecret:  []byte(cfg.Auth.AccessSecret),
//		RefreshSecret: []byte(cfg.Auth.RefreshSecret),
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	authenticator, err := auth.NewAuthenticator(store, tokens, auth.DefaultAuthConfig(), logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	authenticator.SetAuditRecorder(auditLogger)
//	authenticator.SetRateLimitResetter(loginLimiter)
//
//	result, err := authenticator.Login(ctx, "admin@example.com", "s3cret-pass",
//		auth.RequestMeta{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0"})
//	var locked *auth.LockedError
//	switch {
//	case errors.As(err, &locked):
//		fmt.Printf("locked, retry in %d minutes\n", locked.Minutes())
//	case errors.Is(err, auth.ErrInvalidCredentials):
//		fmt.Println(err)
//	case err == nil:
//		fmt.Println(result.AccessToken)
//	}
//
// Lockout state machine per account:
//
//	Unlocked(n)  --wrong password, n+1 < 5-->  Unlocked(n+1)
//	Unlocked(4)  --wrong password-->           Locked(now+15m)
//	Locked(t)    --attempt before t-->         Locked(t), 423
//	Locked(t)    --attempt after t-->          Unlocked(0), then checked fresh
//	Unlocked(n)  --correct password-->         Unlocked(0), lastLogin=now
//
// The counter update and lock are a single atomic store operation, so
// concurrent failures cannot lose increments.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orneryd/storefront/pkg/audit"
	"github.com/orneryd/storefront/pkg/metrics"
)

// AuthConfig holds authentication policy.
type AuthConfig struct {
	// Password policy
	MinPasswordLength int
	BcryptCost        int

	// Lockout settings
	MaxFailedLogins int
	LockoutDuration time.Duration

	// AllowedEmails may sign in through an identity provider without an
	// existing account. Entries starting with "@" allow a whole domain.
	AllowedEmails []string
}

// DefaultAuthConfig returns the default policy: 8 character passwords,
// bcrypt cost 10, lock for 15 minutes after 5 failures.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		MinPasswordLength: 8,
		BcryptCost:        DefaultBcryptCost,
		MaxFailedLogins:   5,
		LockoutDuration:   15 * time.Minute,
	}
}

// AuditRecorder receives audit entries. Implementations must not block on
// failure; audit.Logger is the production implementation.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// RateLimitResetter clears per-address rate limit state after a successful
// login.
type RateLimitResetter interface {
	Reset(ctx context.Context, key string) error
}

// RequestMeta describes the client behind an operation.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	// Actor is the email of the admin performing a management operation.
	Actor string
}

// LoginResult is returned by a successful password or identity login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Account      *Account
}

// Authenticator runs the login, refresh and account management flows.
// It holds no per-account state of its own and is safe for concurrent use.
type Authenticator struct {
	store   AccountStore
	tokens  *TokenIssuer
	config  AuthConfig
	log     *slog.Logger
	audit   AuditRecorder
	limiter RateLimitResetter
	allow   allowList
	now     func() time.Time
}

// NewAuthenticator creates an Authenticator. Zero config fields fall back to
// DefaultAuthConfig values.
func NewAuthenticator(store AccountStore, tokens *TokenIssuer, config AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	if store == nil {
		return nil, errors.New("account store is required")
	}
	if tokens == nil {
		return nil, ErrMissingSecret
	}
	def := DefaultAuthConfig()
	if config.MinPasswordLength <= 0 {
		config.MinPasswordLength = def.MinPasswordLength
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = def.BcryptCost
	}
	if config.MaxFailedLogins <= 0 {
		config.MaxFailedLogins = def.MaxFailedLogins
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = def.LockoutDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:  store,
		tokens: tokens,
		config: config,
		log:    logger.With(slog.String("component", "auth")),
		allow:  newAllowList(config.AllowedEmails),
		now:    time.Now,
	}, nil
}

// SetAuditRecorder sets the destination for audit entries.
func (a *Authenticator) SetAuditRecorder(r AuditRecorder) { a.audit = r }

// SetRateLimitResetter sets the limiter cleared on successful logins.
func (a *Authenticator) SetRateLimitResetter(r RateLimitResetter) { a.limiter = r }

// Tokens returns the token issuer.
func (a *Authenticator) Tokens() *TokenIssuer { return a.tokens }

// Config returns the active policy.
func (a *Authenticator) Config() AuthConfig { return a.config }

func (a *Authenticator) record(ctx context.Context, action audit.Action, status audit.Status, email string, meta RequestMeta, reason string) {
	if a.audit == nil {
		return
	}
	a.audit.Record(ctx, audit.Entry{
		Action:    action,
		Email:     email,
		Status:    status,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Reason:    reason,
	})
}

// Login authenticates an email and password.
//
// Errors:
//   - ErrMissingCredentials: empty email or password, audited as login_attempt
//   - *CredentialsError (ErrInvalidCredentials): unknown email or wrong password
//   - ErrAccountInactive: the account is deactivated
//   - *LockedError (ErrAccountLocked): the account is locked
//
// Lockout state changes made by a failed attempt are committed even though
// the call fails.
func (a *Authenticator) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		a.record(ctx, audit.ActionLoginAttempt, audit.StatusFailed, email, meta, "missing email or password")
		return nil, ErrMissingCredentials
	}

	acct, err := a.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		metrics.LoginOutcomes.WithLabelValues("password", "invalid_credentials").Inc()
		a.record(ctx, audit.ActionLoginFailed, audit.StatusFailed, email, meta, "unknown email")
		return nil, &CredentialsError{AttemptsRemaining: -1}
	}
	if err != nil {
		metrics.LoginOutcomes.WithLabelValues("password", "error").Inc()
		return nil, fmt.Errorf("loading account: %w", err)
	}

	if !acct.IsActive {
		metrics.LoginOutcomes.WithLabelValues("password", "inactive").Inc()
		a.record(ctx, audit.ActionLoginBlocked, audit.StatusBlocked, email, meta, "account deactivated")
		return nil, ErrAccountInactive
	}

	now := a.now()
	if acct.LockActive(now) {
		metrics.LoginOutcomes.WithLabelValues("password", "locked").Inc()
		a.record(ctx, audit.ActionLoginBlocked, audit.StatusBlocked, email, meta, "account locked")
		return nil, &LockedError{Until: *acct.LockedUntil, Remaining: acct.LockedUntil.Sub(now)}
	}
	if acct.LockExpired(now) {
		acct, err = a.store.ClearExpiredLock(ctx, acct.ID, now)
		if err != nil {
			return nil, fmt.Errorf("clearing expired lock: %w", err)
		}
		a.log.Info("expired lock cleared", slog.String("account_id", acct.ID))
	}

	if !CheckPassword(password, acct.PasswordHash) {
		return nil, a.failPassword(ctx, acct, meta, now)
	}

	return a.completeLogin(ctx, acct, meta, audit.ActionLoginSuccess, "password")
}

func (a *Authenticator) failPassword(ctx context.Context, acct *Account, meta RequestMeta, now time.Time) error {
	updated, err := a.store.RecordFailedLogin(ctx, acct.ID, a.config.MaxFailedLogins, a.config.LockoutDuration, now)
	if err != nil {
		return fmt.Errorf("recording failed login: %w", err)
	}

	metrics.LoginOutcomes.WithLabelValues("password", "invalid_credentials").Inc()
	remaining := a.config.MaxFailedLogins - updated.LoginAttempts
	if remaining < 0 {
		remaining = 0
	}
	if updated.IsLocked {
		metrics.AccountLockouts.Inc()
		a.log.Warn("account locked after failed logins",
			slog.String("account_id", updated.ID),
			slog.Int("attempts", updated.LoginAttempts),
			slog.String("ip", meta.IPAddress),
		)
		a.record(ctx, audit.ActionLoginFailed, audit.StatusFailed, updated.Email, meta,
			fmt.Sprintf("invalid password (attempt %d/%d), account locked", updated.LoginAttempts, a.config.MaxFailedLogins))
		return &CredentialsError{AttemptsRemaining: 0, Locked: true}
	}

	a.record(ctx, audit.ActionLoginFailed, audit.StatusFailed, updated.Email, meta,
		fmt.Sprintf("invalid password (attempt %d/%d)", updated.LoginAttempts, a.config.MaxFailedLogins))
	return &CredentialsError{AttemptsRemaining: remaining}
}

// completeLogin is the shared tail of password and identity logins.
func (a *Authenticator) completeLogin(ctx context.Context, acct *Account, meta RequestMeta, action audit.Action, method string) (*LoginResult, error) {
	updated, err := a.store.RecordSuccessfulLogin(ctx, acct.ID, a.now())
	if err != nil {
		metrics.LoginOutcomes.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("recording login: %w", err)
	}

	if a.limiter != nil && meta.IPAddress != "" {
		if err := a.limiter.Reset(ctx, meta.IPAddress); err != nil {
			a.log.Warn("rate limit reset failed", slog.String("ip", meta.IPAddress), slog.String("error", err.Error()))
		}
	}

	access, err := a.tokens.IssueAccess(updated.ID, updated.Email, updated.Role)
	if err != nil {
		metrics.LoginOutcomes.WithLabelValues(method, "error").Inc()
		return nil, err
	}
	refresh, err := a.tokens.IssueRefresh(updated.ID, updated.Email, updated.Role)
	if err != nil {
		metrics.LoginOutcomes.WithLabelValues(method, "error").Inc()
		return nil, err
	}

	metrics.LoginOutcomes.WithLabelValues(method, "success").Inc()
	a.record(ctx, action, audit.StatusSuccess, updated.Email, meta, "")
	return &LoginResult{AccessToken: access, RefreshToken: refresh, Account: updated}, nil
}

// Refresh exchanges a refresh token for a new access token. The account must
// still exist and be active. The refresh token itself is not rotated.
//
// Errors: ErrInvalidToken, ErrAccountNotFound, ErrAccountInactive.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (string, *Account, error) {
	claims := a.tokens.VerifyRefresh(refreshToken)
	if claims == nil {
		metrics.TokenRefreshes.WithLabelValues("invalid_token").Inc()
		email := ""
		if c := Decode(refreshToken); c != nil {
			email = c.Email
		}
		a.record(ctx, audit.ActionTokenRefreshFailed, audit.StatusFailed, email, meta, "invalid or expired refresh token")
		return "", nil, ErrInvalidToken
	}

	acct, err := a.store.GetAccountByID(ctx, claims.AccountID)
	if errors.Is(err, ErrAccountNotFound) {
		metrics.TokenRefreshes.WithLabelValues("account_missing").Inc()
		a.record(ctx, audit.ActionTokenRefreshFailed, audit.StatusBlocked, claims.Email, meta, "account no longer exists")
		return "", nil, ErrAccountNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("loading account: %w", err)
	}
	if !acct.IsActive {
		metrics.TokenRefreshes.WithLabelValues("inactive").Inc()
		a.record(ctx, audit.ActionTokenRefreshFailed, audit.StatusBlocked, acct.Email, meta, "account deactivated")
		return "", nil, ErrAccountInactive
	}

	access, err := a.tokens.IssueAccess(acct.ID, acct.Email, acct.Role)
	if err != nil {
		return "", nil, err
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	a.record(ctx, audit.ActionTokenRefresh, audit.StatusSuccess, acct.Email, meta, "")
	return access, acct, nil
}

// Logout records the logout. Tokens are stateless, so there is nothing to
// revoke server-side; accessToken is only inspected for the audit email.
func (a *Authenticator) Logout(ctx context.Context, accessToken string, meta RequestMeta) {
	email := ""
	if claims := a.tokens.VerifyAccess(accessToken); claims != nil {
		email = claims.Email
	} else if claims := Decode(accessToken); claims != nil {
		email = claims.Email
	}
	a.record(ctx, audit.ActionLogout, audit.StatusSuccess, email, meta, "")
}

// Me returns the account behind verified claims.
func (a *Authenticator) Me(ctx context.Context, accountID string) (*Account, error) {
	return a.store.GetAccountByID(ctx, accountID)
}
