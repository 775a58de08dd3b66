// Package money converts between ledger amounts and gateway amounts.
//
// The ledger stores major-unit decimals (500.00 INR). Payment providers work
// in integer minor units (50000 paise). Conversion is exact: an amount with
// more precision than the currency's minor unit is rejected, never rounded.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrSubMinorPrecision   = errors.New("amount has more decimal places than the currency allows")
	ErrAmountTooLarge      = errors.New("amount exceeds the maximum supported value")
)

// exponents maps ISO 4217 codes to the number of minor-unit digits.
var exponents = map[string]int32{
	"INR": 2,
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"SGD": 2,
	"JPY": 0,
	"KRW": 0,
}

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// NormalizeCurrency upper-cases and validates a currency code.
func NormalizeCurrency(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := exponents[code]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	return code, nil
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) (int32, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return 0, err
	}
	return exponents[code], nil
}

// Validate checks that amount is positive and representable in currency.
func Validate(amount decimal.Decimal, currency string) error {
	_, err := ToMinor(amount, currency)
	return err
}

// ToMinor converts a major-unit amount to integer minor units.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return 0, err
	}
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	shifted := amount.Shift(exp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s %s", ErrSubMinorPrecision, amount.String(), currency)
	}
	if shifted.GreaterThan(maxMinor) {
		return 0, ErrAmountTooLarge
	}
	return shifted.IntPart(), nil
}

// FromMinor converts integer minor units back to a major-unit amount.
func FromMinor(minor int64, currency string) (decimal.Decimal, error) {
	exp, err := Exponent(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(minor, -exp), nil
}

// Format renders amount with exactly the currency's minor-unit digits.
func Format(amount decimal.Decimal, currency string) string {
	exp, err := Exponent(currency)
	if err != nil {
		exp = 2
	}
	return amount.StringFixed(exp)
}
