package jupiter

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// toRaw converts a UI amount to integer base units, rounding down.
func toRaw(amount float64, decimals int) (string, error) {
	raw := decimal.NewFromFloat(amount).Shift(int32(decimals)).Floor()
	if !raw.IsPositive() {
		return "", fmt.Errorf("Сумма %v слишком мала для %d знаков", amount, decimals)
	}
	return raw.String(), nil
}

func fromRaw(raw string, decimals int) (float64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("Некорректная сумма %q: %w", raw, err)
	}
	return d.Shift(-int32(decimals)).InexactFloat64(), nil
}

func parsePct(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// unitPrice returns quote units per token.
func unitPrice(quoteAmount, tokenAmount float64) float64 {
	if tokenAmount == 0 {
		return 0
	}
	return decimal.NewFromFloat(quoteAmount).Div(decimal.NewFromFloat(tokenAmount)).InexactFloat64()
}
