package auth

import (
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// passwordPattern accepts 8 to 64 letters, digits or @$!%*?&.
var passwordPattern = regexp.MustCompile(`^[A-Za-z\d@$!%*?&]{8,64}$`)

// ValidPassword reports whether plain satisfies the password policy.
func ValidPassword(plain string) bool {
	return passwordPattern.MatchString(plain)
}

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
