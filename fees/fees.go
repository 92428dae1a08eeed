// Package fees computes performance and management fees for vault strategies.
package fees

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fee rate caps, expressed in basis points. Strategy creation rejects anything above these.
const (
	MaxPerformanceFeeBps = 2000 // 20%
	MaxManagementFeeBps  = 500  // 5% per year
)

const bpsDenominator = 10000

// secondsPerYear is the proration base for the annual management fee (365 days).
const secondsPerYear = 365 * 24 * 3600

// Calculator converts fee rates and elapsed time into fee amounts.
// All methods are pure; a single instance can be shared freely.
type Calculator struct{}

// NewCalculator creates a fee calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// ManagementFee prorates an annual management fee rate over the elapsed holding
// period and applies it to amount. A zero rate, zero amount, or non-positive
// elapsed duration yields a zero fee.
func (c *Calculator) ManagementFee(amount decimal.Decimal, bpsPerYear int64, elapsed time.Duration) decimal.Decimal {
	if bpsPerYear <= 0 || elapsed <= 0 || amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	rate := decimal.NewFromInt(bpsPerYear).Div(decimal.NewFromInt(bpsDenominator))
	fraction := decimal.NewFromFloat(elapsed.Seconds()).Div(decimal.NewFromInt(secondsPerYear))

	return amount.Mul(rate).Mul(fraction)
}

// PerformanceFee applies a performance fee rate to realized profit.
// Losses are never charged a performance fee.
func (c *Calculator) PerformanceFee(profit decimal.Decimal, bps int64) decimal.Decimal {
	if bps <= 0 || profit.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	return profit.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(bpsDenominator))
}

// ValidPerformanceFee reports whether a performance fee rate is within the cap.
func ValidPerformanceFee(bps int64) bool {
	return bps >= 0 && bps <= MaxPerformanceFeeBps
}

// ValidManagementFee reports whether an annual management fee rate is within the cap.
func ValidManagementFee(bps int64) bool {
	return bps >= 0 && bps <= MaxManagementFeeBps
}
