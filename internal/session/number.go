package session

import (
	"errors"
	"strings"
)

// ErrInvalidNumber is returned when a number has no digits.
var ErrInvalidNumber = errors.New("session: invalid number")

// SanitizeNumber reduces raw to its ASCII digits, so "+94 77-123 4567" becomes "94771234567".
func SanitizeNumber(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return "", ErrInvalidNumber
	}
	return b.String(), nil
}
