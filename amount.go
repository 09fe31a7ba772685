package spltransfer

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of the native asset (lamports per SOL = 1e9)
const NativeDecimals = 9

// DefaultDecimals is reported for an asset the owner holds no account for
const DefaultDecimals = 9

var maxRaw = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ScaleAmount converts a human amount into raw units at the given precision.
// Fractions below one raw unit are truncated, never rounded up.
//
// Returns ErrInvalidAmount for non-positive or overflowing amounts and
// ErrZeroAmount when the amount truncates to zero.
func ScaleAmount(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if err := ValidateAmount(amount); err != nil {
		return 0, err
	}

	raw := amount.Shift(int32(decimals)).Floor()
	if raw.IsZero() {
		return 0, NewLedgerError(ErrCodeZeroAmount, ErrZeroAmount.Message, map[string]interface{}{
			"amount":   amount.String(),
			"decimals": decimals,
		})
	}
	if raw.GreaterThan(maxRaw) {
		return 0, NewLedgerError(ErrCodeInvalidAmount, "amount overflows 64-bit raw units", map[string]interface{}{
			"amount":   amount.String(),
			"decimals": decimals,
		})
	}
	return raw.BigInt().Uint64(), nil
}

// ValidateAmount rejects zero and negative amounts without touching the network
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewLedgerError(ErrCodeInvalidAmount, ErrInvalidAmount.Message, map[string]interface{}{
			"amount": amount.String(),
		})
	}
	return nil
}

// FormatAmount renders raw units at the given precision
func FormatAmount(raw uint64, decimals uint8) string {
	return decimal.NewFromBigInt(newBigUint(raw), -int32(decimals)).String()
}

func newBigUint(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
