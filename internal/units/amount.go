package units

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/stakechat/internal/errors"
	"github.com/shopspring/decimal"
)

// Decimals is the precision of TAO and subnet alpha: 1 rao = 1e-9.
const Decimals = 9

// MaxSupply bounds any single amount a command may carry.
var MaxSupply = decimal.NewFromInt(21_000_000)

var decimalPattern = regexp.MustCompile(`^[+-]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)$`)

// IsDecimal reports whether v is written in plain decimal form (no exponent).
func IsDecimal(v string) bool {
	return decimalPattern.MatchString(strings.TrimSpace(v))
}

// ParseAmount parses a positive decimal amount bounded by MaxSupply with at
// most Decimals fractional digits.
func ParseAmount(v string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(v)
	if !IsDecimal(clean) {
		return decimal.Zero, clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("amount %q is not a number", v))
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeInvalidAmount, fmt.Sprintf("amount %q is not a number", v), err)
	}
	if !d.IsPositive() {
		return decimal.Zero, clierr.New(clierr.CodeInvalidAmount, "amount must be greater than zero")
	}
	if !d.Equal(d.Truncate(Decimals)) {
		return decimal.Zero, clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("amount precision exceeds %d decimals", Decimals))
	}
	if d.GreaterThan(MaxSupply) {
		return decimal.Zero, clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("amount exceeds %s", MaxSupply.String()))
	}
	return d, nil
}

// ToRao converts a decimal amount into an integer rao string.
func ToRao(d decimal.Decimal) (string, error) {
	if d.IsNegative() {
		return "", clierr.New(clierr.CodeInvalidAmount, "amount must be non-negative")
	}
	return decimalToBaseUnits(d.String(), Decimals)
}

// FromRao converts an integer rao string into a decimal amount.
func FromRao(baseUnits string) (decimal.Decimal, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid rao amount %q", baseUnits)
	}
	return decimal.NewFromBigInt(n, -Decimals), nil
}

// Round rounds an amount to rao precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Decimals)
}

func decimalToBaseUnits(value string, decimals int) (string, error) {
	parts := strings.SplitN(value, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > decimals {
		return "", clierr.New(clierr.CodeInvalidAmount, fmt.Sprintf("amount precision exceeds %d decimals", decimals))
	}

	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", clierr.New(clierr.CodeInvalidAmount, "invalid decimal amount")
	}
	return combined, nil
}
