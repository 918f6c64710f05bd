// Package oauth verifies identity tokens issued by external providers.
//
// Google is the only provider. The browser obtains an ID token through
// Google Identity Services and posts it to /auth/google; VerifyIdentity
// checks the RS256 signature against Google's published JWKS, the issuer,
// the audience (our OAuth client ID) and that Google verified the email.
// The resulting auth.Identity is handed to Authenticator.LoginWithIdentity.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/orneryd/storefront/pkg/auth"
)

// GoogleJWKSURL is where Google publishes its ID token signing keys.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// GoogleIssuers are the accepted values of the iss claim.
var GoogleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// ErrInvalidIdentity is returned for any token that does not verify.
var ErrInvalidIdentity = errors.New("invalid identity token")

// ErrNotConfigured is returned by NewGoogle when no client ID is set.
var ErrNotConfigured = errors.New("oauth: google client id not configured")

// Config configures Google verification.
type Config struct {
	// ClientIDs are the accepted audiences. Usually one web client ID.
	ClientIDs       []string
	JWKSURL         string
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration
	Leeway          time.Duration
}

// DefaultConfig returns settings for Google's production endpoints.
func DefaultConfig() Config {
	return Config{
		JWKSURL:         GoogleJWKSURL,
		RefreshInterval: time.Hour,
		HTTPTimeout:     10 * time.Second,
		Leeway:          30 * time.Second,
	}
}

// Google verifies Google ID tokens.
type Google struct {
	jwks   keyfunc.Keyfunc
	config Config
	log    *slog.Logger
	now    func() time.Time
}

// NewGoogle creates a verifier whose keys are fetched from config.JWKSURL
// and refreshed in the background until ctx is cancelled. Startup does not
// fail when Google is unreachable; verification fails until the first
// refresh succeeds.
func NewGoogle(ctx context.Context, config Config, logger *slog.Logger) (*Google, error) {
	if len(config.ClientIDs) == 0 {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.JWKSURL == "" {
		config.JWKSURL = GoogleJWKSURL
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = time.Hour
	}
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 10 * time.Second
	}

	storage, err := jwkset.NewStorageFromHTTP(config.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: config.HTTPTimeout},
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           config.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("refreshing google jwks",
				slog.String("url", config.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating jwks storage: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("creating keyfunc: %w", err)
	}
	return NewGoogleWithKeyfunc(kf, config, logger), nil
}

// NewGoogleWithKeyfunc creates a verifier over an existing key source.
func NewGoogleWithKeyfunc(kf keyfunc.Keyfunc, config Config, logger *slog.Logger) *Google {
	if logger == nil {
		logger = slog.Default()
	}
	return &Google{
		jwks:   kf,
		config: config,
		log:    logger.With(slog.String("component", "oauth_google")),
		now:    time.Now,
	}
}

// googleClaims are the ID token claims we read.
type googleClaims struct {
	jwt.RegisteredClaims
	Email         string  `json:"email"`
	EmailVerified boolish `json:"email_verified"`
	Name          string  `json:"name"`
	HostedDomain  string  `json:"hd,omitempty"`
}

// boolish accepts both true and "true"; older Google tokens used strings.
type boolish bool

func (b *boolish) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = boolish(t)
	case string:
		*b = boolish(strings.EqualFold(t, "true"))
	default:
		*b = false
	}
	return nil
}

// VerifyIdentity checks idToken and returns the identity it asserts.
// Every failure is reported as ErrInvalidIdentity; the cause is logged.
func (g *Google) VerifyIdentity(ctx context.Context, idToken string) (*auth.Identity, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidIdentity)
	}

	claims := &googleClaims{}
	token, err := jwt.ParseWithClaims(idToken, claims, g.jwks.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(g.config.Leeway),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil || !token.Valid {
		g.log.Debug("google id token rejected", slog.Any("error", err))
		return nil, fmt.Errorf("%w: signature or expiry", ErrInvalidIdentity)
	}

	if !slices.Contains(GoogleIssuers, claims.Issuer) {
		g.log.Debug("google id token issuer mismatch", slog.String("iss", claims.Issuer))
		return nil, fmt.Errorf("%w: issuer", ErrInvalidIdentity)
	}
	if !g.audienceAllowed(claims.Audience) {
		g.log.Debug("google id token audience mismatch", slog.Any("aud", []string(claims.Audience)))
		return nil, fmt.Errorf("%w: audience", ErrInvalidIdentity)
	}
	if claims.Email == "" || !bool(claims.EmailVerified) {
		return nil, fmt.Errorf("%w: email not verified", ErrInvalidIdentity)
	}

	return &auth.Identity{
		Provider: auth.ProviderGoogle,
		Subject:  claims.Subject,
		Email:    auth.NormalizeEmail(claims.Email),
		Name:     strings.TrimSpace(claims.Name),
	}, nil
}

// UnverifiedEmail returns the email claim of idToken without checking the
// signature, or "" when the token cannot be parsed. The result identifies
// who a rejected token claimed to be and must not be trusted otherwise.
func UnverifiedEmail(idToken string) string {
	claims := &googleClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(idToken), claims); err != nil {
		return ""
	}
	return auth.NormalizeEmail(claims.Email)
}

func (g *Google) audienceAllowed(aud jwt.ClaimStrings) bool {
	for _, a := range aud {
		if slices.Contains(g.config.ClientIDs, a) {
			return true
		}
	}
	return false
}
