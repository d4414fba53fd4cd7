package core

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	upperPattern = regexp.MustCompile(`[A-Z]`)
	lowerPattern = regexp.MustCompile(`[a-z]`)
	digitPattern = regexp.MustCompile(`\d`)
)

// Sanitize trims input, drops control characters other than newline and tab,
// and escapes markup so stored text can never render as HTML.
func Sanitize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return html.EscapeString(strings.TrimSpace(b.String()))
}

func validateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return invalid("Invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	switch {
	case len(password) < 8:
		return invalid("Password must be at least 8 characters long")
	case !upperPattern.MatchString(password):
		return invalid("Password must contain at least one uppercase letter")
	case !lowerPattern.MatchString(password):
		return invalid("Password must contain at least one lowercase letter")
	case !digitPattern.MatchString(password):
		return invalid("Password must contain at least one number")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(Sanitize(email))
}
