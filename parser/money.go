package parser

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

// MinorUnitScale is the factor between API amounts and currency units.
const MinorUnitScale = 100000

// FormatAmount converts API minor units to a currency string with two decimals.
func FormatAmount(minor int64) string {
	return strconv.FormatFloat(float64(minor)/MinorUnitScale, 'f', 2, 64)
}

// ParseAmount converts a displayed amount back into API minor units. Any
// leading currency symbol or code and thousands separators are ignored.
func ParseAmount(display string) (int64, error) {
	display = strings.TrimLeftFunc(display, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '-' && r != '.'
	})
	display = strings.ReplaceAll(strings.TrimSpace(display), ",", "")
	value, err := strconv.ParseFloat(display, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse amount %q", display)
	}
	return int64(math.Round(value * MinorUnitScale)), nil
}
