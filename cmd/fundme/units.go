package fundme

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// parseEther converts a decimal ether amount such as "0.025" into wei.
func parseEther(raw string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ether amount %q", raw)
	}

	if d.IsNegative() {
		return nil, errors.Errorf("negative ether amount %q", raw)
	}

	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, errors.Errorf("ether amount %q has more than %d decimals", raw, etherDecimals)
	}

	return wei.BigInt(), nil
}

// formatUnits renders an integer with the given number of decimals, e.g. wei as ether.
func formatUnits(v *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(v, -decimals).String()
}
