// Package phone canonicalizes mobile numbers into the gateway's international
// format: country code first, no leading '+', digits only.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// DefaultCountryCode is prepended to numbers entered without one.
const DefaultCountryCode = "254"

var ErrInvalidFormat = errors.New("phone: invalid phone number format")

// A national mobile number is nine digits starting with 7 or 1.
var mobilePattern = regexp.MustCompile(`^254[17][0-9]{8}$`)

var separators = strings.NewReplacer("-", "", ".", "", "(", "", ")", "")

// Normalize turns "0712345678", "+254 712 345 678" or "712345678" into
// "254712345678". Anything that does not end up as a valid mobile number
// fails with ErrInvalidFormat.
func Normalize(raw string) (string, error) {
	cleaned := strings.Join(strings.Fields(raw), "")
	cleaned = separators.Replace(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case cleaned == "":
		return "", ErrInvalidFormat
	case strings.HasPrefix(cleaned, DefaultCountryCode):
	case strings.HasPrefix(cleaned, "0"):
		cleaned = DefaultCountryCode + cleaned[1:]
	default:
		cleaned = DefaultCountryCode + cleaned
	}

	if !mobilePattern.MatchString(cleaned) {
		return "", ErrInvalidFormat
	}
	return cleaned, nil
}

// Mask hides the middle digits of a normalized number for logs.
func Mask(normalized string) string {
	if len(normalized) < 10 {
		return strings.Repeat("*", len(normalized))
	}
	return normalized[:6] + strings.Repeat("*", len(normalized)-9) + normalized[len(normalized)-3:]
}
