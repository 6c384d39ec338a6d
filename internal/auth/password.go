// Package auth provides the credential and session primitives: password hashing,
// access-key generation, signed session tokens, session validity windows, the
// login throttle, and the Accounts service that combines them.
// See internal/middleware/auth.go for the request-time use of these primitives.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/agentdesk/agentdesk/internal/apperr"
)

// BcryptCost is the cost factor for password and setup-token hashing
const BcryptCost = 12

// HashPassword returns the bcrypt hash of plaintext
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w: %v", apperr.ErrSecurity, err)
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext against a bcrypt hash in constant time.
// A mismatch is (false, nil); a malformed hash is an error.
func VerifyPassword(plaintext, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	}
	return false, fmt.Errorf("verify password: %w: %v", apperr.ErrSecurity, err)
}
