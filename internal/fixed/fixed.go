// Package fixed provides decimal-string parsing and formatting for asset
// amounts. Amounts travel the API as strings and are compared as big.Int
// in 18-decimal smallest units, matching the escrow token precision.
package fixed

import (
	"math/big"
	"strings"
)

const Decimals = 18

// Parse converts a decimal string (e.g. "1.5") to its smallest-unit
// big.Int representation. Returns (nil, false) on invalid input.
// Negative amounts and multiple decimal points are rejected; fractional
// parts are padded or truncated to 18 places.
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	result, ok := new(big.Int).SetString(whole+frac, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int back to a decimal string with
// trailing zeros trimmed ("1.5", not "1.500000000000000000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	split := len(s) - Decimals
	whole, frac := s[:split], s[split:]
	frac = strings.TrimRight(frac, "0")

	result := whole
	if frac != "" {
		result += "." + frac
	}
	if neg {
		result = "-" + result
	}
	return result
}

// Mul multiplies two decimal strings and returns the product as a
// decimal string, or false on invalid input. Used for totalFiat =
// amount * price.
func Mul(a, b string) (string, bool) {
	x, ok1 := Parse(a)
	y, ok2 := Parse(b)
	if !ok1 || !ok2 {
		return "", false
	}
	product := new(big.Int).Mul(x, y)
	// Both operands carry 18 decimals; scale one factor back out.
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
	product.Quo(product, scale)
	return Format(product), true
}

// InRange reports min <= v <= max for decimal strings.
func InRange(v, min, max string) bool {
	x, ok1 := Parse(v)
	lo, ok2 := Parse(min)
	hi, ok3 := Parse(max)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	return x.Cmp(lo) >= 0 && x.Cmp(hi) <= 0
}
