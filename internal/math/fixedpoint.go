package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// SharePriceConfig scales the assets-per-share conversion rate.
	SharePriceConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}

	// BpsConfig scales percentages: 1 unit = 0.01% (basis point).
	BpsConfig = DecimalConfig{DecimalPrecision: 4, Scale: 10_000}
)

// FullBps is 100% expressed in basis points.
const FullBps int64 = 10_000

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundHalfDown                     // Banker's with exact halves resolved downward
	RoundDown
	RoundUp
)

// DivideInt128 performs numerator / denominator with rounding.
// Inputs are expected non-negative for the half-based modes.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)
	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven, RoundHalfDown:
		// Compare 2*remainder against the denominator so odd denominators
		// keep their exact half.
		doubled := getInt128()
		doubled.Lsh(remainder, 1)
		cmp := doubled.Cmp(denom)
		putInt128(doubled)

		if cmp > 0 {
			result++
		} else if cmp == 0 {
			if roundingMode == RoundHalfEven {
				if result%2 != 0 {
					result++
				}
			}
			// RoundHalfDown: the exact half stays down, never in the
			// holder's favor.
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundDown:
		// truncation is the DivMod default for non-negative inputs
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / denom with 128-bit intermediate precision.
func MulDiv(a, b, denom int64, mode RoundingMode) int64 {
	num := MultiplyInt128(a, b)
	result := DivideInt128(num, denom, mode)
	putInt128(num)
	return result
}
