package fees

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagementFeeProration(t *testing.T) {
	calc := NewCalculator()
	amount := decimal.NewFromInt(10000)

	// 200 bps/year over a full year is 2% of the amount.
	fullYear := calc.ManagementFee(amount, 200, 365*24*time.Hour)
	require.True(t, fullYear.Equal(decimal.NewFromInt(200)), "got %s", fullYear)

	// Half the holding period, half the fee.
	halfYear := calc.ManagementFee(amount, 200, 365*12*time.Hour)
	require.True(t, halfYear.Equal(decimal.NewFromInt(100)), "got %s", halfYear)
}

func TestManagementFeeZeroCases(t *testing.T) {
	calc := NewCalculator()
	amount := decimal.NewFromInt(10000)

	assert.True(t, calc.ManagementFee(amount, 0, time.Hour).IsZero())
	assert.True(t, calc.ManagementFee(amount, 200, 0).IsZero())
	assert.True(t, calc.ManagementFee(decimal.Zero, 200, time.Hour).IsZero())
	assert.True(t, calc.ManagementFee(amount, 200, -time.Hour).IsZero())
}

func TestPerformanceFee(t *testing.T) {
	calc := NewCalculator()

	fee := calc.PerformanceFee(decimal.NewFromInt(1000), 2000)
	require.True(t, fee.Equal(decimal.NewFromInt(200)), "got %s", fee)

	// Losses never pay a performance fee.
	assert.True(t, calc.PerformanceFee(decimal.NewFromInt(-500), 2000).IsZero())
	assert.True(t, calc.PerformanceFee(decimal.Zero, 2000).IsZero())
}

func TestFeeCaps(t *testing.T) {
	assert.True(t, ValidPerformanceFee(0))
	assert.True(t, ValidPerformanceFee(2000))
	assert.False(t, ValidPerformanceFee(2001))
	assert.False(t, ValidPerformanceFee(-1))

	assert.True(t, ValidManagementFee(500))
	assert.False(t, ValidManagementFee(501))
}
