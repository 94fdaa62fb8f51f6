package accounts

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials reports a password that does not match the stored
// hash. Callers must not distinguish it from an unknown account in
// anything user-facing.
var ErrBadCredentials = errors.New("bad credentials")

// HashPassword derives the stored hash for a new or changed password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a login attempt against the account's hash.
func VerifyPassword(account *ResearcherAccount, password string) error {
	if account.PasswordHash == "" {
		return ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}
