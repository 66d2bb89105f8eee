// Package money converts between UZS amounts as text, decimals and the
// int64 minor units (tiyin) the ledger stores.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorPerMajor is the number of tiyin in one sum.
const MinorPerMajor = 100

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrOverflow        = errors.New("amount out of range")
)

// ParseMinor parses "1234", "1234.5" or "1234.50" into minor units.
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	sign := int64(1)
	switch trimmed[0] {
	case '-':
		sign = -1
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}
	wholePart, fracPart, _ := strings.Cut(trimmed, ".")
	if wholePart == "" {
		wholePart = "0"
	}
	if !isDigits(wholePart) || (fracPart != "" && !isDigits(fracPart)) {
		return 0, ErrInvalidAmount
	}
	if len(fracPart) > 2 {
		return 0, ErrTooManyDecimals
	}
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil || whole > math.MaxInt64/MinorPerMajor {
		return 0, ErrOverflow
	}
	frac := int64(0)
	for i := 0; i < 2; i++ {
		frac *= 10
		if i < len(fracPart) {
			frac += int64(fracPart[i] - '0')
		}
	}
	return sign * (whole*MinorPerMajor + frac), nil
}

func FormatMinor(value int64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	formatted := fmt.Sprintf("%d.%02d", value/MinorPerMajor, value%MinorPerMajor)
	if negative {
		return "-" + formatted
	}
	return formatted
}

// FromDecimal converts a major-unit decimal exactly; fractions of a tiyin are rejected.
func FromDecimal(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrTooManyDecimals
	}
	if minor.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, ErrOverflow
	}
	return minor.IntPart(), nil
}

func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ParseDecimal accepts any decimal notation the gateways send ("10000", "10000.0", "10000.00").
func ParseDecimal(input string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return FromDecimal(amount)
}

// FromTiyin converts a Payme amount. Minor units are tiyin, so this only
// validates the value.
func FromTiyin(tiyin int64) (int64, error) {
	if tiyin < 0 {
		return 0, ErrInvalidAmount
	}
	return tiyin, nil
}

func ToTiyin(minor int64) int64 {
	return minor
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
