package auth

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 10

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the signup password policy: minimum length plus
// upper, lower, digit and special characters.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return errors.New("password must be at least 10 characters")
	}
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return errors.New("password must mix upper and lower case letters, digits and special characters")
	}
	return nil
}
