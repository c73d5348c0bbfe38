package finance

import (
	"strings"
	"unicode"
)

// NormalizePhone converts a Kenyan mobile number to the canonical
// international form 2547XXXXXXXX or 2541XXXXXXXX. It accepts local
// (07.., 01..), bare (7.., 1..) and international (+254.., 254..) input
// with spaces or dashes.
func NormalizePhone(raw string) (string, error) {
	var digits strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		case r == '+' && digits.Len() == 0:
		default:
			return "", NewValidationError("phone", "invalid character %q", r)
		}
	}

	n := digits.String()
	switch {
	case strings.HasPrefix(n, "254") && len(n) == 12:
	case strings.HasPrefix(n, "0") && len(n) == 10:
		n = "254" + n[1:]
	case len(n) == 9:
		n = "254" + n
	default:
		return "", NewValidationError("phone", "unrecognized phone number %q", raw)
	}

	if n[3] != '7' && n[3] != '1' {
		return "", NewValidationError("phone", "not a mobile number: %q", raw)
	}
	return n, nil
}
