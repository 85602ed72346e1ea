package common

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	EtherDecimals = 18 // ETH has 18 decimals (wei)
	GweiDecimals  = 9  // wei per gwei exponent
)

// WeiToEther converts wei to ETH string without float precision loss
func WeiToEther(wei *big.Int) string {
	return formatWithDecimals(wei, EtherDecimals)
}

// EtherToWei converts ETH string to wei without float precision loss
func EtherToWei(eth string) (*big.Int, error) {
	return parseWithDecimals(eth, EtherDecimals)
}

// WeiToGwei converts wei to gwei string without float precision loss
func WeiToGwei(wei *big.Int) string {
	return formatWithDecimals(wei, GweiDecimals)
}

// formatWithDecimals converts integer to decimal string by inserting decimal point
// Example: formatWithDecimals(24981836, 9) = "0.024981836"
func formatWithDecimals(value *big.Int, decimals int) string {
	if value == nil {
		value = new(big.Int)
	}
	sign := ""
	if value.Sign() < 0 {
		sign = "-"
	}
	s := new(big.Int).Abs(value).String()

	// Pad with leading zeros if needed
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}

	// Insert decimal point
	pos := len(s) - decimals
	return sign + s[:pos] + "." + s[pos:]
}

// parseWithDecimals converts decimal string to integer by removing decimal point
// Example: parseWithDecimals("0.024981836", 9) = 24981836
func parseWithDecimals(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty string")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", s)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid decimal format")
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}

	// Pad or truncate fractional part to exact decimals
	if len(frac) < decimals {
		frac += strings.Repeat("0", decimals-len(frac))
	} else if len(frac) > decimals {
		frac = frac[:decimals]
	}

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}
