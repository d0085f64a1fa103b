package math

// SharePrice computes totalAssets / totalShares at SharePriceConfig scale.
// Defined as exactly 1.0 when no shares are outstanding. Division rounds
// toward the value least favorable to the depositor (bankers' rounding with
// exact halves resolved downward) so rounding can never be farmed for value.
func SharePrice(totalAssets, totalShares int64) int64 {
	if totalShares == 0 {
		return SharePriceConfig.Scale
	}

	num := MultiplyInt128(totalAssets, SharePriceConfig.Scale)
	price := DivideInt128(num, totalShares, RoundHalfDown)
	putInt128(num)

	return price
}

// SharesToAssets converts a share quantity to asset base units at the given
// share price.
func SharesToAssets(shares, sharePrice int64) int64 {
	return MulDiv(shares, sharePrice, SharePriceConfig.Scale, RoundHalfDown)
}

// ProportionalReduction computes total * part / whole, used for average-cost
// basis reduction. When part covers the whole the result is the exact total,
// so a full withdrawal zeroes the basis with no residual dust.
func ProportionalReduction(total, part, whole int64) int64 {
	if whole == 0 || part >= whole {
		return total
	}
	return MulDiv(total, part, whole, RoundHalfEven)
}

// BpsOf returns total * bps / 10_000.
func BpsOf(total, bps int64) int64 {
	return MulDiv(total, bps, FullBps, RoundHalfEven)
}

// ValueToBps expresses value as a fraction of total in basis points.
// Returns 0 when total is zero.
func ValueToBps(value, total int64) int64 {
	if total == 0 {
		return 0
	}
	return MulDiv(value, FullBps, total, RoundHalfEven)
}

// AbsDiff returns |a - b|.
func AbsDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
