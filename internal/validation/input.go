// Package validation holds the input rules shared by registration, chat submission
// and agent administration.
package validation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agentdesk/agentdesk/internal/apperr"
)

const (
	// MaxEmailLength is the RFC 5321 path limit.
	MaxEmailLength = 254

	// MinPasswordLength is the shortest password accepted at registration.
	MinPasswordLength = 8

	// DefaultMaxMessageLength caps a chat message, in runes.
	DefaultMaxMessageLength = 1000
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidateEmail checks the address shape and length. Case is preserved.
func ValidateEmail(email string) error {
	if len(email) > MaxEmailLength {
		return apperr.Invalid("email", "must be at most 254 characters")
	}
	if !emailPattern.MatchString(email) {
		return apperr.Invalid("email", "invalid format")
	}
	return nil
}

// ValidatePassword enforces the registration strength rule: at least eight
// characters with a lowercase letter, an uppercase letter and a digit.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperr.Invalid("password", "must be at least 8 characters")
	}

	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !lower {
		return apperr.Invalid("password", "must contain a lowercase letter")
	}
	if !upper {
		return apperr.Invalid("password", "must contain an uppercase letter")
	}
	if !digit {
		return apperr.Invalid("password", "must contain a digit")
	}
	return nil
}

// SanitizeMessage trims surrounding whitespace, drops '<' and '>' and truncates
// the result to maxRunes runes. A non-positive maxRunes uses DefaultMaxMessageLength.
func SanitizeMessage(text string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxMessageLength
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == '<' || r == '>' {
			return -1
		}
		return r
	}, strings.TrimSpace(text))

	if utf8.RuneCountInString(cleaned) <= maxRunes {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:maxRunes])
}

// ValidateWebhookURL requires an absolute http or https URL with a host.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return apperr.Invalid("webhook_url", "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.Invalid("webhook_url", "scheme must be http or https")
	}
	return nil
}
