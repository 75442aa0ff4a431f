package admin

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ishowlab-boop/CircleMakerProBot/ledger"
)

var firstInt = regexp.MustCompile(`\d+`)

// ParseFirstInt returns the first run of digits in s.
func ParseFirstInt(s string) (int64, bool) {
	m := firstInt.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseSignedAmount reads a credit adjustment: the first integer in s,
// negated when s starts with "-". "+50", "50 credits" and "-20" are valid.
func ParseSignedAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	n, ok := ParseFirstInt(s)
	if !ok || n == 0 {
		return 0, ledger.ErrInvalidAmount
	}
	if strings.HasPrefix(s, "-") {
		n = -n
	}
	return n, nil
}

// ParseDays reads a positive day count.
func ParseDays(s string) (int, error) {
	n, ok := ParseFirstInt(s)
	if !ok || n <= 0 || n > ledger.MaxValidityDays {
		return 0, ledger.ErrInvalidDays
	}
	return int(n), nil
}
