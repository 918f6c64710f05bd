package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordSalted(t *testing.T) {
	first, err := HashPassword("correct-horse", bcrypt.MinCost)
	require.NoError(t, err)
	second, err := HashPassword("correct-horse", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, CheckPassword("correct-horse", first))
	assert.True(t, CheckPassword("correct-horse", second))
	assert.False(t, CheckPassword("wrong-horse", first))
	assert.False(t, CheckPassword("correct-horse", ""))
}

func TestHashPasswordDefaultCost(t *testing.T) {
	digest, err := HashPassword("correct-horse", 0)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	assert.Equal(t, 10, cost)
}

func TestIsHashed(t *testing.T) {
	digest, err := HashPassword("correct-horse", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, IsHashed(digest))
	assert.False(t, IsHashed("correct-horse"))
	assert.False(t, IsHashed(""))
}

func TestSetPasswordSkipsUnchanged(t *testing.T) {
	acct := &Account{}

	changed, err := acct.SetPassword("correct-horse", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, changed)
	digest := acct.PasswordHash
	assert.True(t, IsHashed(digest))

	// no-op saves keep the stored digest
	changed, err = acct.SetPassword("", bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, changed)
	changed, err = acct.SetPassword("correct-horse", bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, digest, acct.PasswordHash)

	changed, err = acct.SetPassword("battery-staple", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEqual(t, digest, acct.PasswordHash)
}

func TestUnusablePassword(t *testing.T) {
	a, err := unusablePassword(bcrypt.MinCost)
	require.NoError(t, err)
	b, err := unusablePassword(bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, IsHashed(a))
	assert.NotEqual(t, a, b)
	assert.False(t, CheckPassword("", a))
}
