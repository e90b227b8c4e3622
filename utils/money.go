package utils

import "github.com/shopspring/decimal"

var bpsDenominator = decimal.NewFromInt(10000)

// RoundHalfUp rounds a non-negative decimal to whole minor units.
func RoundHalfUp(d decimal.Decimal) int64 {
	if d.IsNegative() {
		return -d.Neg().Round(0).IntPart()
	}
	return d.Round(0).IntPart()
}

// ApplyBps returns round(amount * bps / 10000).
func ApplyBps(amount int64, bps int64) int64 {
	return RoundHalfUp(decimal.NewFromInt(amount).Mul(decimal.NewFromInt(bps)).Div(bpsDenominator))
}

// ApplyRatio returns round(amount * num / den) without intermediate rounding.
func ApplyRatio(amount int64, num int64, den int64) int64 {
	return RoundHalfUp(decimal.NewFromInt(amount).Mul(decimal.NewFromInt(num)).Div(decimal.NewFromInt(den)))
}
