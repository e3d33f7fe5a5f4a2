package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimal places between wei and ether.
const EtherDecimals = 18

// ParseAmount parses a user supplied ether amount and rejects non-positive values
// and values with more precision than the chain can represent.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, raw)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that d is positive and representable in wei.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	if !d.Equal(d.Truncate(EtherDecimals)) {
		return fmt.Errorf("%w: amount has more than %d decimal places", ErrInvalidAmount, EtherDecimals)
	}
	return nil
}

// FromWei converts a wei amount into ether.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals)
}

// ToWei converts an ether amount into wei, truncating anything below one wei.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(EtherDecimals).Truncate(0).BigInt()
}
