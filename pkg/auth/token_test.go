package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenIssuer(t *testing.T) {
	tests := []struct {
		name    string
		config  TokenConfig
		wantErr bool
	}{
		{"both secrets", TokenConfig{AccessSecret: []byte("a-secret"), RefreshSecret: []byte("r-secret")}, false},
		{"missing access", TokenConfig{RefreshSecret: []byte("r-secret")}, true},
		{"missing refresh", TokenConfig{AccessSecret: []byte("a-secret")}, true},
		{"identical secrets", TokenConfig{AccessSecret: []byte("same"), RefreshSecret: []byte("same")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer, err := NewTokenIssuer(tt.config, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 24*time.Hour, issuer.AccessTTL())
			assert.Equal(t, 7*24*time.Hour, issuer.RefreshTTL())
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	issuer := newTestTokenIssuer(t, clock)

	for _, role := range []Role{RoleAdmin, RoleEditor, RoleViewer} {
		access, err := issuer.IssueAccess("acct-1", "a@example.com", role)
		require.NoError(t, err)
		claims := issuer.VerifyAccess(access)
		require.NotNil(t, claims)
		assert.Equal(t, "acct-1", claims.AccountID)
		assert.Equal(t, "a@example.com", claims.Email)
		assert.Equal(t, role, claims.Role)
		assert.Equal(t, TokenAccess, claims.Kind)
		assert.Equal(t, clock.Now(), claims.IssuedAtTime())
		assert.Equal(t, clock.Now().Add(24*time.Hour), claims.ExpiresAtTime())

		refresh, err := issuer.IssueRefresh("acct-1", "a@example.com", role)
		require.NoError(t, err)
		rc := issuer.VerifyRefresh(refresh)
		require.NotNil(t, rc)
		assert.Equal(t, clock.Now().Add(7*24*time.Hour), rc.ExpiresAtTime())
	}
}

func TestTokenKindsDoNotCross(t *testing.T) {
	issuer := newTestTokenIssuer(t, nil)
	access, err := issuer.IssueAccess("acct-1", "a@example.com", RoleAdmin)
	require.NoError(t, err)
	refresh, err := issuer.IssueRefresh("acct-1", "a@example.com", RoleAdmin)
	require.NoError(t, err)

	assert.Nil(t, issuer.VerifyRefresh(access))
	assert.Nil(t, issuer.VerifyAccess(refresh))
}

func TestTokenExpiry(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := newTestTokenIssuer(t, clock)

	access, err := issuer.IssueAccess("acct-1", "a@example.com", RoleViewer)
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	assert.NotNil(t, issuer.VerifyAccess(access))

	clock.Advance(time.Hour + time.Second)
	assert.NotPanics(t, func() {
		assert.Nil(t, issuer.VerifyAccess(access))
	})
}

func TestVerifyRejectsTampering(t *testing.T) {
	issuer := newTestTokenIssuer(t, nil)
	access, err := issuer.IssueAccess("acct-1", "a@example.com", RoleViewer)
	require.NoError(t, err)

	parts := strings.Split(access, ".")
	require.Len(t, parts, 3)

	// re-sign the same claims with another key
	claims := Decode(access)
	require.NotNil(t, claims)
	claims.Role = RoleAdmin
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("attacker"))
	require.NoError(t, err)

	// none algorithm
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"empty":     "",
		"garbage":   "not.a.token",
		"forged":    forged,
		"none alg":  none,
		"truncated": parts[0] + "." + parts[1],
	} {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, issuer.VerifyAccess(tok))
		})
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	other, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  []byte("access-secret-at-least-32-bytes!!"),
		RefreshSecret: []byte("refresh-secret-at-least-32-bytes!"),
		Issuer:        "someone-else",
	}, nil)
	require.NoError(t, err)
	tok, err := other.IssueAccess("acct-1", "a@example.com", RoleAdmin)
	require.NoError(t, err)

	assert.Nil(t, newTestTokenIssuer(t, nil).VerifyAccess(tok))
}

func TestDecode(t *testing.T) {
	clock := &testClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	issuer := newTestTokenIssuer(t, clock)
	tok, err := issuer.IssueAccess("acct-9", "old@example.com", RoleEditor)
	require.NoError(t, err)

	// long expired, but still decodable for inspection
	claims := Decode(tok)
	require.NotNil(t, claims)
	assert.Equal(t, "acct-9", claims.AccountID)
	assert.Equal(t, RoleEditor, claims.Role)

	assert.Nil(t, Decode("garbage"))
}

func TestIssueRequiresAccountID(t *testing.T) {
	issuer := newTestTokenIssuer(t, nil)
	_, err := issuer.IssueAccess(" ", "a@example.com", RoleAdmin)
	assert.Error(t, err)
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc", "abc"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
		{"abc.def.ghi", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractBearer(tt.header))
		})
	}
}
