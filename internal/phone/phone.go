// Package phone canonicalizes Brazilian phone numbers into the digits-only
// form the SMS gateway expects: 55 + 2-digit area code + 9-digit local
// number, 13 digits total.
package phone

import (
	"errors"
	"strings"
)

const (
	// CountryCode is the Brazilian international dialing prefix.
	CountryCode = "55"

	minLocalDigits = 10
	maxLocalDigits = 11
)

// ErrInvalidPhone means the input cannot be a dialable Brazilian number.
// Retrying a send cannot fix malformed input, so this is terminal.
var ErrInvalidPhone = errors.New("invalid phone number")

// Normalize strips formatting, removes one leading country code and
// returns the canonical dialable number. A 10-digit local number is an
// old-format mobile missing the ninth digit; the leading 9 is inserted
// after the area code.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	s := b.String()

	// Strip the prefix only when the remainder would otherwise be too
	// long: local numbers in area codes 51..55 also start with "55".
	if strings.HasPrefix(s, CountryCode) && len(s) > maxLocalDigits {
		s = s[len(CountryCode):]
	}

	if len(s) < minLocalDigits || len(s) > maxLocalDigits {
		return "", ErrInvalidPhone
	}

	if len(s) == minLocalDigits {
		s = s[:2] + "9" + s[2:]
	}

	return CountryCode + s, nil
}
