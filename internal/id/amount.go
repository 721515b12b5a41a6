package id

import (
	"fmt"
	"math/big"
	"strings"

	clierr "github.com/ggonzalez94/swapexec/internal/errors"
	"github.com/shopspring/decimal"
)

// NormalizeAmount accepts either an integer base-unit amount or a decimal
// amount and returns both forms.
func NormalizeAmount(baseUnits, human string, decimals int) (string, string, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	human = strings.TrimSpace(human)
	if baseUnits != "" && human != "" {
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-base, not both")
	}
	if baseUnits == "" && human == "" {
		return "", "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return "", "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		n, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok {
			return "", "", clierr.New(clierr.CodeUsage, "--amount-base must be an integer string")
		}
		if n.Sign() < 0 {
			return "", "", clierr.New(clierr.CodeUsage, "--amount-base must be non-negative")
		}
		return n.String(), FormatBaseUnits(n.String(), decimals), nil
	}

	d, err := decimal.NewFromString(human)
	if err != nil {
		return "", "", clierr.New(clierr.CodeUsage, "--amount must be in decimal form like 1.23")
	}
	if d.IsNegative() {
		return "", "", clierr.New(clierr.CodeUsage, "--amount must be non-negative")
	}
	if -d.Exponent() > int32(decimals) && !d.Equal(d.Truncate(int32(decimals))) {
		return "", "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	base := d.Shift(int32(decimals)).Truncate(0)
	return base.String(), d.String(), nil
}

// FormatBaseUnits renders an integer base-unit string shifted by decimals.
// Unparseable input is returned unchanged.
func FormatBaseUnits(baseUnits string, decimals int) string {
	d, err := decimal.NewFromString(strings.TrimSpace(baseUnits))
	if err != nil {
		return baseUnits
	}
	return d.Shift(-int32(decimals)).String()
}

// FormatWei renders a wei amount as a decimal ether string.
func FormatWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}

// ParseSlippage validates a slippage percentage in (0, 50].
func ParseSlippage(v string) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return "", clierr.New(clierr.CodeUsage, "--slippage must be a percentage like 0.5")
	}
	if !d.IsPositive() || d.GreaterThan(decimal.NewFromInt(50)) {
		return "", clierr.New(clierr.CodeUsage, "--slippage must be greater than 0 and at most 50")
	}
	return d.String(), nil
}
