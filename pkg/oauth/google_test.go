package oauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/storefront/pkg/auth"
)

const (
	testKeyID    = "google-test-key"
	testClientID = "1234.apps.googleusercontent.com"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestGoogle(t *testing.T, key *rsa.PrivateKey) *Google {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.ClientIDs = []string{testClientID}
	return NewGoogleWithKeyfunc(kf, cfg, nil)
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testClientID,
		"sub":            "10769150350006150715113082367",
		"email":          "Owner@Example.com",
		"email_verified": true,
		"name":           "Shop Owner",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
}

func TestVerifyIdentity(t *testing.T) {
	key := generateTestKey(t)
	g := newTestGoogle(t, key)

	id, err := g.VerifyIdentity(context.Background(), signToken(t, key, testKeyID, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, auth.ProviderGoogle, id.Provider)
	assert.Equal(t, "owner@example.com", id.Email)
	assert.Equal(t, "Shop Owner", id.Name)
	assert.Equal(t, "10769150350006150715113082367", id.Subject)
}

func TestVerifyIdentityBareIssuerAndStringVerified(t *testing.T) {
	key := generateTestKey(t)
	g := newTestGoogle(t, key)

	claims := validClaims()
	claims["iss"] = "accounts.google.com"
	claims["email_verified"] = "true"
	_, err := g.VerifyIdentity(context.Background(), signToken(t, key, testKeyID, claims))
	assert.NoError(t, err)
}

func TestVerifyIdentityRejects(t *testing.T) {
	key := generateTestKey(t)
	other := generateTestKey(t)
	g := newTestGoogle(t, key)

	tests := []struct {
		name  string
		token func() string
	}{
		{"empty", func() string { return "" }},
		{"garbage", func() string { return "not.a.jwt" }},
		{"wrong key", func() string { return signToken(t, other, testKeyID, validClaims()) }},
		{"unknown kid", func() string { return signToken(t, key, "rotated", validClaims()) }},
		{"expired", func() string {
			c := validClaims()
			c["exp"] = time.Now().Add(-time.Hour).Unix()
			return signToken(t, key, testKeyID, c)
		}},
		{"missing exp", func() string {
			c := validClaims()
			delete(c, "exp")
			return signToken(t, key, testKeyID, c)
		}},
		{"wrong issuer", func() string {
			c := validClaims()
			c["iss"] = "https://evil.example"
			return signToken(t, key, testKeyID, c)
		}},
		{"wrong audience", func() string {
			c := validClaims()
			c["aud"] = "someone-else.apps.googleusercontent.com"
			return signToken(t, key, testKeyID, c)
		}},
		{"unverified email", func() string {
			c := validClaims()
			c["email_verified"] = false
			return signToken(t, key, testKeyID, c)
		}},
		{"no email", func() string {
			c := validClaims()
			delete(c, "email")
			return signToken(t, key, testKeyID, c)
		}},
		{"hs256", func() string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
			tok.Header["kid"] = testKeyID
			s, err := tok.SignedString([]byte("shared-secret"))
			require.NoError(t, err)
			return s
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.VerifyIdentity(context.Background(), tt.token())
			assert.ErrorIs(t, err, ErrInvalidIdentity)
		})
	}
}

func TestVerifyIdentityMultipleAudiences(t *testing.T) {
	key := generateTestKey(t)
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	require.NoError(t, err)
	g := NewGoogleWithKeyfunc(kf, Config{ClientIDs: []string{"web", "ios"}}, nil)

	c := validClaims()
	c["aud"] = []string{"ios"}
	_, err = g.VerifyIdentity(context.Background(), signToken(t, key, testKeyID, c))
	assert.NoError(t, err)
}

func TestNewGoogleRequiresClientID(t *testing.T) {
	_, err := NewGoogle(context.Background(), DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUnverifiedEmail(t *testing.T) {
	other := generateTestKey(t)
	assert.Equal(t, "owner@example.com", UnverifiedEmail(signToken(t, other, "rotated", validClaims())))

	c := validClaims()
	delete(c, "email")
	assert.Empty(t, UnverifiedEmail(signToken(t, other, testKeyID, c)))
	assert.Empty(t, UnverifiedEmail("not.a.jwt"))
	assert.Empty(t, UnverifiedEmail(""))
}
