package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes a password with bcrypt at the default cost.
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

// HashCode hashes a one-time code. OTP codes share the password hashing
// scheme so the comparison is constant-time and the plaintext never persists.
func HashCode(code string) (string, error) {
	return HashPassword(code)
}

// CheckCode validates a one-time code against its stored hash.
func CheckCode(code, stored string) bool {
	return CheckPassword(code, stored)
}
