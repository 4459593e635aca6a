// Package recipient builds the stable keys used to address people who may
// not have an account yet.
package recipient

import (
	"strings"
	"unicode"
)

// Phone strips every non-digit character.
// "+1 (818) 481-0612", "818-481-0612" and "8184810612" all map to "8184810612":
// a leading country code 1 on an 11 digit number is dropped so that numbers
// typed with and without it resolve to the same key.
func Phone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

// Email lowercases and trims an address.
func Email(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Key normalizes either form: anything containing "@" is treated as an email.
func Key(raw string) string {
	if strings.Contains(raw, "@") {
		return Email(raw)
	}
	return Phone(raw)
}

// IsPhoneKey reports whether key is a non-empty digits-only key.
func IsPhoneKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
