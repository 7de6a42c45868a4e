// Package password hashes user credentials with bcrypt and verifies both
// hashed and legacy plaintext records.
package password

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MaxLength is the longest password, in bytes, bcrypt accepts.
const MaxLength = 72

// ErrTooLong is returned by Hash for passwords over MaxLength bytes.
var ErrTooLong = errors.New("password exceeds 72 bytes")

// Hash returns the bcrypt hash of plain. A cost outside bcrypt's range
// falls back to bcrypt.DefaultCost.
func Hash(plain string, cost int) (string, error) {
	if len(plain) > MaxLength {
		return "", ErrTooLong
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// IsHash reports whether stored looks like a bcrypt hash.
func IsHash(stored string) bool {
	if len(stored) != 60 {
		return false
	}
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}

// Verify compares plain against stored. needsRehash is true when stored
// was a legacy plaintext password that matched.
func Verify(stored, plain string) (ok bool, needsRehash bool) {
	if stored == "" || len(plain) > MaxLength {
		return false, false
	}
	if IsHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil, false
	}
	match := subtle.ConstantTimeCompare([]byte(stored), []byte(plain)) == 1
	return match, match
}
