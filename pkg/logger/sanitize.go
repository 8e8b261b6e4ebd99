package logger

import (
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := maskTail(parts[0])
	domain := parts[1]

	// keep the TLD only
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// SanitizedIdentifier masks a login identifier, which may be a username or
// an email address.
func SanitizedIdentifier(identifier string) string {
	if strings.Contains(identifier, "@") {
		return SanitizedEmail(identifier)
	}
	return maskTail(identifier)
}

func maskTail(s string) string {
	if len(s) <= 1 {
		return s
	}
	return s[:1] + strings.Repeat("*", len(s)-1)
}

var sensitiveParams = []string{"password", "token", "secret", "email", "identifier", "auth"}

// SanitizeQueryString reports whether the query string should be redacted
// entirely because it names a sensitive parameter.
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
