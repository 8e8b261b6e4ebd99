package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/BradenHooton/clinitrust/internal/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost  = 12
	MinPasswordLen     = 12
	MaxPasswordBytes   = 72 // bcrypt ignores everything after byte 72
	TempPasswordLength = 16
)

// Violation messages. ValidatePasswordPolicy reports them in this order;
// ViolationReused is raised by a password change.
const (
	ViolationMinLength = "must be at least 12 characters"
	ViolationMaxLength = "must be at most 72 bytes"
	ViolationLowercase = "must contain at least one lowercase letter"
	ViolationUppercase = "must contain at least one uppercase letter"
	ViolationDigit     = "must contain at least one digit"
	ViolationSpecial   = "must contain at least one special character"
	ViolationCommon    = "is too common, please choose a more unique password"
	ViolationReused    = "must differ from the current password"
)

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":         true,
	"password123":      true,
	"password123!":     true,
	"password1234!":    true,
	"passw0rd":         true,
	"p@ssw0rd1234":     true,
	"p@ssword1234":     true,
	"welcome123!":      true,
	"welcome@2024":     true,
	"qwerty123456":     true,
	"qwerty123!@#":     true,
	"letmein12345!":    true,
	"administrator1!":  true,
	"changeme123!":     true,
	"trustno1trustno1": true,
	"iloveyou1234!":    true,
}

// ValidatePasswordPolicy returns every rule the secret violates. An empty
// result means the secret is acceptable.
func ValidatePasswordPolicy(password string) []string {
	violations := make([]string, 0)

	if len([]rune(password)) < MinPasswordLen {
		violations = append(violations, ViolationMinLength)
	}
	if len(password) > MaxPasswordBytes {
		violations = append(violations, ViolationMaxLength)
	}

	hasLower := false
	hasUpper := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	if !hasLower {
		violations = append(violations, ViolationLowercase)
	}
	if !hasUpper {
		violations = append(violations, ViolationUppercase)
	}
	if !hasDigit {
		violations = append(violations, ViolationDigit)
	}
	if !hasSpecial {
		violations = append(violations, ViolationSpecial)
	}

	// Check against common passwords (case-insensitive)
	if commonPasswords[strings.ToLower(password)] {
		violations = append(violations, ViolationCommon)
	}

	return violations
}

// ValidatePassword wraps ValidatePasswordPolicy into a *models.PolicyViolationError.
func ValidatePassword(password string) error {
	if violations := ValidatePasswordPolicy(password); len(violations) > 0 {
		return &models.PolicyViolationError{Violations: violations}
	}
	return nil
}

func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// ComparePassword is constant-time with respect to the secret.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

const (
	lowerChars   = "abcdefghijkmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars   = "23456789"
	specialChars = "!@#$%^&*-_=+?"
)

// GenerateTemporaryPassword returns a random TempPasswordLength character
// password that satisfies the policy.
func GenerateTemporaryPassword() (string, error) {
	all := lowerChars + upperChars + digitChars + specialChars
	buf := make([]byte, 0, TempPasswordLength)

	// one of each class first, then fill
	for _, set := range []string{lowerChars, upperChars, digitChars, specialChars} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < TempPasswordLength {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	// Fisher-Yates so the class positions are not predictable
	for i := len(buf) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to generate temporary password: %w", err)
		}
		j := int(n.Int64())
		buf[i], buf[j] = buf[j], buf[i]
	}

	return string(buf), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate temporary password: %w", err)
	}
	return set[n.Int64()], nil
}
