package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the bcrypt work factor used for new digests.
const DefaultBcryptCost = 10

// HashPassword returns a salted bcrypt digest of plain.
func HashPassword(plain string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(digest), nil
}

// CheckPassword reports whether plain matches digest.
func CheckPassword(plain, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}

// IsHashed reports whether s is a bcrypt digest.
func IsHashed(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// SetPassword stores a digest of plain on the account. An empty plain leaves
// the stored digest alone, as does a plain that already matches it, so saving
// an unchanged account never re-hashes.
func (a *Account) SetPassword(plain string, cost int) (changed bool, err error) {
	if plain == "" {
		return false, nil
	}
	if a.PasswordHash != "" && CheckPassword(plain, a.PasswordHash) {
		return false, nil
	}
	digest, err := HashPassword(plain, cost)
	if err != nil {
		return false, err
	}
	a.PasswordHash = digest
	return true, nil
}

// unusablePassword returns a digest of 32 random bytes. Nobody knows the
// preimage, so the password path can never authenticate the account.
func unusablePassword(cost int) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating placeholder password: %w", err)
	}
	return HashPassword(base64.RawStdEncoding.EncodeToString(buf), cost)
}
