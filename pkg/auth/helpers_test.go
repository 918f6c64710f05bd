package auth

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orneryd/storefront/pkg/audit"
)

// memStore is an in-memory AccountStore used by the package tests.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func newMemStore() *memStore {
	return &memStore{accounts: map[string]*Account{}}
}

func (m *memStore) CreateAccount(_ context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == acct.Email {
			return ErrAccountExists
		}
	}
	m.accounts[acct.ID] = acct.Clone()
	return nil
}

func (m *memStore) GetAccountByID(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (m *memStore) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			return a.Clone(), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *memStore) ListAccounts(_ context.Context) ([]*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *memStore) UpdateAccount(_ context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[acct.ID]
	if !ok {
		return ErrAccountNotFound
	}
	cur.Name = acct.Name
	cur.Role = acct.Role
	cur.IsActive = acct.IsActive
	cur.PasswordHash = acct.PasswordHash
	cur.UpdatedAt = acct.UpdatedAt
	return nil
}

func (m *memStore) mutate(id string, fn func(a *Account)) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	fn(a)
	return a.Clone(), nil
}

func (m *memStore) RecordFailedLogin(_ context.Context, id string, maxAttempts int, lockFor time.Duration, now time.Time) (*Account, error) {
	return m.mutate(id, func(a *Account) {
		a.LoginAttempts++
		if a.LoginAttempts >= maxAttempts {
			until := now.Add(lockFor)
			a.IsLocked = true
			a.LockedUntil = &until
		}
		a.UpdatedAt = now
	})
}

func (m *memStore) ClearExpiredLock(_ context.Context, id string, now time.Time) (*Account, error) {
	return m.mutate(id, func(a *Account) {
		if a.LockExpired(now) {
			a.IsLocked = false
			a.LockedUntil = nil
			a.LoginAttempts = 0
			a.UpdatedAt = now
		}
	})
}

func (m *memStore) ResetLockout(_ context.Context, id string, now time.Time) (*Account, error) {
	return m.mutate(id, func(a *Account) {
		a.IsLocked = false
		a.LockedUntil = nil
		a.LoginAttempts = 0
		a.UpdatedAt = now
	})
}

func (m *memStore) RecordSuccessfulLogin(_ context.Context, id string, now time.Time) (*Account, error) {
	return m.mutate(id, func(a *Account) {
		a.IsLocked = false
		a.LockedUntil = nil
		a.LoginAttempts = 0
		t := now
		a.LastLogin = &t
		a.UpdatedAt = now
	})
}

type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) last() audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return audit.Entry{}
	}
	return r.entries[len(r.entries)-1]
}

func (r *recorder) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Action, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type resetter struct {
	keys []string
}

func (r *resetter) Reset(_ context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	auth    *Authenticator
	store   *memStore
	audit   *recorder
	limiter *resetter
	clock   *testClock
}

func newTestTokenIssuer(t *testing.T, clock *testClock) *TokenIssuer {
	t.Helper()
	tokens, err := NewTokenIssuer(TokenConfig{
		AccessSecret:  []byte("access-secret-at-least-32-bytes!!"),
		RefreshSecret: []byte("refresh-secret-at-least-32-bytes!"),
	}, nil)
	require.NoError(t, err)
	if clock != nil {
		tokens.now = clock.Now
	}
	return tokens
}

func newFixture(t *testing.T, mutate ...func(*AuthConfig)) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	config := DefaultAuthConfig()
	config.BcryptCost = bcrypt.MinCost
	config.AllowedEmails = []string{"owner@example.com", "@trusted.example"}
	for _, fn := range mutate {
		fn(&config)
	}

	store := newMemStore()
	a, err := NewAuthenticator(store, newTestTokenIssuer(t, clock), config, nil)
	require.NoError(t, err)
	a.now = clock.Now

	rec := &recorder{}
	lim := &resetter{}
	a.SetAuditRecorder(rec)
	a.SetRateLimitResetter(lim)
	return &fixture{auth: a, store: store, audit: rec, limiter: lim, clock: clock}
}

func (f *fixture) createAccount(t *testing.T, email, password string, role Role) *Account {
	t.Helper()
	acct, err := f.auth.CreateAccount(context.Background(), NewAccount{
		Name:     "Test Admin",
		Email:    email,
		Password: password,
		Role:     role,
	}, RequestMeta{})
	require.NoError(t, err)
	return acct
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
