package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// UserCredentials maps usernames to bcrypt password hashes.
type UserCredentials map[string]string

// dummyHash is compared against when the username is unknown so that a
// missing user costs the same bcrypt work as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("\x00invalid"), bcrypt.DefaultCost)

// HashPassword returns the bcrypt hash of password at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	return string(h), nil
}

// IsBcryptHash reports whether s parses as a bcrypt hash.
func IsBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// Verify reports whether password matches the stored hash for username.
func (u UserCredentials) Verify(username, password string) bool {
	hash, ok := u[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
