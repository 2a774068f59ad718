// Package utils provides utility functions for the trading engine.
package utils

import (
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	id := uuid.New().String()
	if prefix != "" {
		return prefix + "_" + id
	}
	return id
}

// GenerateOrderID generates a unique order ID.
func GenerateOrderID() string {
	return GenerateID("ord")
}

// GenerateClientOrderID generates a process-unique client order ID.
func GenerateClientOrderID() string {
	return GenerateID("cli")
}

// GenerateBotID generates a unique bot ID.
func GenerateBotID() string {
	return GenerateID("bot")
}

// GenerateTradeID generates a unique trade ID.
func GenerateTradeID() string {
	return GenerateID("trd")
}

// NormalizeSymbol normalizes an equity ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Clamp bounds v to [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClampDecimal bounds v to [min, max].
func ClampDecimal(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}

// RoundToTickSize rounds a price down to the nearest tick size.
func RoundToTickSize(price, tickSize decimal.Decimal) decimal.Decimal {
	if tickSize.IsZero() {
		return price
	}
	return price.Div(tickSize).Floor().Mul(tickSize)
}

// PercentChange calculates percentage change between two values.
func PercentChange(old, new decimal.Decimal) decimal.Decimal {
	if old.IsZero() {
		return decimal.Zero
	}
	return new.Sub(old).Div(old).Mul(decimal.NewFromInt(100))
}

// Mean calculates the mean of decimal values.
func Mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}

	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// StdDev calculates the sample standard deviation of decimal values.
func StdDev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	mean := Mean(values)

	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1)))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}

// SharpeRatio annualizes mean/stddev of per-period PnL values.
func SharpeRatio(values []decimal.Decimal, periodsPerYear int) float64 {
	if len(values) < 2 {
		return 0
	}

	mean := Mean(values)
	std := StdDev(values)
	if std.IsZero() {
		return 0
	}

	ratio, _ := mean.Div(std).Float64()
	return ratio * math.Sqrt(float64(periodsPerYear))
}

// MaxDrawdown computes the largest peak-to-trough drop over a cumulative
// PnL curve, returned as a positive magnitude.
func MaxDrawdown(cumulative []decimal.Decimal) decimal.Decimal {
	if len(cumulative) < 2 {
		return decimal.Zero
	}

	maxDrawdown := decimal.Zero
	peak := cumulative[0]

	for _, value := range cumulative {
		if value.GreaterThan(peak) {
			peak = value
		}
		drawdown := peak.Sub(value)
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}

	return maxDrawdown
}

// WinRate returns the fraction of positive PnL values.
func WinRate(pnls []decimal.Decimal) float64 {
	if len(pnls) == 0 {
		return 0
	}

	wins := 0
	for _, p := range pnls {
		if p.IsPositive() {
			wins++
		}
	}

	return float64(wins) / float64(len(pnls))
}

// ProfitFactor returns gross profit over gross loss magnitude. With wins
// and no losses it returns +Inf; with no trades it returns 0.
func ProfitFactor(pnls []decimal.Decimal) float64 {
	grossWin := decimal.Zero
	grossLoss := decimal.Zero
	for _, p := range pnls {
		if p.IsPositive() {
			grossWin = grossWin.Add(p)
		} else {
			grossLoss = grossLoss.Add(p.Abs())
		}
	}

	if grossLoss.IsZero() {
		if grossWin.IsZero() {
			return 0
		}
		return math.Inf(1)
	}

	pf, _ := grossWin.Div(grossLoss).Float64()
	return pf
}
