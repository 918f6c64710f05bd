package auth

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind separates access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the payload of both token kinds.
type Claims struct {
	AccountID string    `json:"accountId"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Kind      TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns iat, or the zero time when absent.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// ExpiresAtTime returns exp, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenIssuer signs and verifies HS256 access and refresh tokens, each kind
// with its own secret and lifetime.
type TokenIssuer struct {
	config TokenConfig
	log    *slog.Logger
	now    func() time.Time
}

// NewTokenIssuer validates config and returns an issuer. Both secrets are
// required and must differ.
func NewTokenIssuer(config TokenConfig, logger *slog.Logger) (*TokenIssuer, error) {
	if len(config.AccessSecret) == 0 || len(config.RefreshSecret) == 0 {
		return nil, ErrMissingSecret
	}
	if bytes.Equal(config.AccessSecret, config.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = DefaultAccessTTL
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = DefaultRefreshTTL
	}
	if config.Issuer == "" {
		config.Issuer = "storefront"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenIssuer{
		config: config,
		log:    logger.With(slog.String("component", "tokens")),
		now:    time.Now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (t *TokenIssuer) AccessTTL() time.Duration { return t.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.config.RefreshTTL }

// IssueAccess signs an access token for the account.
func (t *TokenIssuer) IssueAccess(accountID, email string, role Role) (string, error) {
	return t.issue(TokenAccess, accountID, email, role)
}

// IssueRefresh signs a refresh token for the account.
func (t *TokenIssuer) IssueRefresh(accountID, email string, role Role) (string, error) {
	return t.issue(TokenRefresh, accountID, email, role)
}

func (t *TokenIssuer) issue(kind TokenKind, accountID, email string, role Role) (string, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", errors.New("account id is required")
	}
	secret, ttl := t.keyFor(kind)
	now := t.now().UTC().Truncate(time.Second)
	claims := Claims{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.config.Issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", kind, err)
	}
	return signed, nil
}

// VerifyAccess returns the claims of a valid access token, or nil.
func (t *TokenIssuer) VerifyAccess(token string) *Claims {
	return t.verify(TokenAccess, token)
}

// VerifyRefresh returns the claims of a valid refresh token, or nil.
func (t *TokenIssuer) VerifyRefresh(token string) *Claims {
	return t.verify(TokenRefresh, token)
}

func (t *TokenIssuer) verify(kind TokenKind, token string) *Claims {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	secret, _ := t.keyFor(kind)
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			t.log.Debug("token expired", slog.String("kind", string(kind)))
		} else {
			t.log.Debug("token rejected", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		}
		return nil
	}
	if !parsed.Valid || claims.Kind != kind || claims.AccountID == "" {
		t.log.Debug("token rejected", slog.String("kind", string(kind)), slog.String("error", "claims mismatch"))
		return nil
	}
	return claims
}

// Decode parses claims without checking the signature or expiry. The result
// must never drive an authorization decision.
func Decode(token string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil
	}
	return claims
}

func (t *TokenIssuer) keyFor(kind TokenKind) ([]byte, time.Duration) {
	if kind == TokenRefresh {
		return t.config.RefreshSecret, t.config.RefreshTTL
	}
	return t.config.AccessSecret, t.config.AccessTTL
}

// ExtractBearer returns the token from an "Authorization: Bearer <token>"
// header value, or "" when the header is missing or malformed.
func ExtractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
