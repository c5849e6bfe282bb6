// Package phone turns operator-entered phone numbers into the digits-only
// international form the gateway expects (Brazilian numbering plan).
package phone

import "strings"

// CountryCode is prepended to national numbers.
const CountryCode = "55"

// Normalize strips every non-digit, prepends the country code to national
// numbers (10+ digits without it) and pads 12-digit numbers with the mobile
// '9' after the area code. It never fails: malformed input yields a
// best-effort (possibly short or empty) result.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 3)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if !strings.HasPrefix(digits, CountryCode) && len(digits) >= 10 {
		digits = CountryCode + digits
	}
	if len(digits) == 12 && digits[4] != '9' {
		digits = digits[:4] + "9" + digits[4:]
	}
	return digits
}

// IsPlaceholder reports whether raw carries no phone at all: blank, or the
// "nan" marker spreadsheet exports leave in empty cells.
func IsPlaceholder(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || s == "nan"
}
