// internal/export/currency.go
package export

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/order-archivers/harvest/pkg/models"
)

// currencySymbols maps the symbols and tokens shops print next to amounts
// to ISO 4217 codes. Longer tokens are matched first.
var currencySymbols = []struct {
	token string
	code  string
}{
	{"US $", "USD"},
	{"USD", "USD"},
	{"EUR", "EUR"},
	{"JPY", "JPY"},
	{"GBP", "GBP"},
	{"NOK", "NOK"},
	{"SEK", "SEK"},
	{"DKK", "DKK"},
	{"$", "USD"},
	{"€", "EUR"},
	{"￥", "JPY"},
	{"¥", "JPY"},
	{"£", "GBP"},
	{"kr", "NOK"},
}

var canonicalValueRE = regexp.MustCompile(`^\d+\.\d{2}$`)

// ParseValueCurrency lifts a scraped price string ("kr 1 099.-", "US $1.23",
// "1.234,56 €") into a fixed two-decimal value plus ISO currency code. It is
// idempotent: feeding a canonical value back in returns it unchanged.
func ParseValueCurrency(raw string) (models.ValueCurrency, error) {
	s := strings.TrimSpace(raw)
	// Shops love exotic spaces as thousand separators.
	s = strings.NewReplacer(" ", " ", " ", " ", " ", " ").Replace(s)
	if s == "" {
		return models.ValueCurrency{}, fmt.Errorf("empty amount")
	}
	if canonicalValueRE.MatchString(s) {
		return models.ValueCurrency{Value: s}, nil
	}

	code := ""
	for _, sym := range currencySymbols {
		if idx := indexToken(s, sym.token); idx >= 0 {
			code = sym.code
			s = s[:idx] + s[idx+len(sym.token):]
			break
		}
	}

	value, err := canonicalAmount(s)
	if err != nil {
		return models.ValueCurrency{}, fmt.Errorf("parsing amount %q: %w", raw, err)
	}
	return models.ValueCurrency{Value: value, Currency: code}, nil
}

// Canonical reports whether vc is already in normalized form, so the
// normalizer can pass it through untouched.
func Canonical(vc models.ValueCurrency) bool {
	return canonicalValueRE.MatchString(vc.Value)
}

// indexToken finds token in s, requiring word boundaries for alphabetic
// tokens so "kr" does not match inside "kroner stocking".
func indexToken(s, token string) int {
	lower := strings.ToLower(s)
	needle := strings.ToLower(token)
	from := 0
	for {
		idx := strings.Index(lower[from:], needle)
		if idx < 0 {
			return -1
		}
		idx += from
		if !isAlpha(needle[0]) {
			return idx
		}
		beforeOK := idx == 0 || !isAlpha(lower[idx-1])
		after := idx + len(needle)
		afterOK := after >= len(lower) || !isAlpha(lower[after])
		if beforeOK && afterOK {
			return idx
		}
		from = idx + 1
	}
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// canonicalAmount turns the numeric remainder of a price string into a
// two-decimal fixed-point value, rounding half up.
func canonicalAmount(s string) (string, error) {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSpace(s)
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return "", fmt.Errorf("no digits")
	}

	// A trailing ".-" or ",-" means "and no øre".
	if strings.HasSuffix(s, ".-") || strings.HasSuffix(s, ",-") {
		s = s[:len(s)-2]
		s = strings.NewReplacer(".", "", ",", "").Replace(s)
		return signed(negative, s, "00")
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	sep := lastDot
	if lastComma > sep {
		sep = lastComma
	}

	intPart, frac := s, ""
	if sep >= 0 {
		head, tail := s[:sep], s[sep+1:]
		// A 3-digit group after the only separator kind is a thousands
		// group ("1.099" is one thousand ninety-nine); anything else marks
		// the decimal point. A zero or empty integer part can only be a
		// decimal ("0.995" is not nine hundred ninety-five).
		if len(tail) != 3 || !onlySeparator(s, s[sep]) || head == "" || head == "0" {
			intPart, frac = head, tail
		}
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || !isDigits(frac) && frac != "" {
		return "", fmt.Errorf("unrecognized number %q", s)
	}
	cents, carry := roundFrac(frac)
	if carry {
		intPart = incrementInt(intPart)
	}
	return signed(negative, intPart, cents)
}

// onlySeparator reports whether sep is the only separator kind in s, which
// keeps "1.099" as thousands but reads "1,099.123" decimals correctly.
func onlySeparator(s string, sep byte) bool {
	other := byte(',')
	if sep == ',' {
		other = '.'
	}
	return strings.IndexByte(s, other) < 0
}

// roundFrac pads or rounds frac to exactly two digits, half up. The bool
// reports a carry into the integer part (".995" rounds to "00" carry).
func roundFrac(frac string) (string, bool) {
	switch {
	case len(frac) == 0:
		return "00", false
	case len(frac) == 1:
		return frac + "0", false
	case len(frac) == 2:
		return frac, false
	}
	cents := frac[:2]
	if frac[2] < '5' {
		return cents, false
	}
	n := (int(cents[0]-'0')*10 + int(cents[1]-'0')) + 1
	if n == 100 {
		return "00", true
	}
	return fmt.Sprintf("%02d", n), false
}

// incrementInt adds one to a decimal digit string, growing it on overflow.
func incrementInt(s string) string {
	digits := []byte(s)
	for i := len(digits) - 1; i >= 0; i-- {
		if digits[i] < '9' {
			digits[i]++
			return string(digits)
		}
		digits[i] = '0'
	}
	return "1" + string(digits)
}

func signed(negative bool, intPart, frac string) (string, error) {
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if negative {
		return "-" + intPart + "." + frac, nil
	}
	return intPart + "." + frac, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
