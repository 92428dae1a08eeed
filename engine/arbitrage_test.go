package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multi-strategy-vault/ledger"
)

func testOpportunity(detected time.Time) ledger.ArbitrageOpportunity {
	return ledger.ArbitrageOpportunity{
		TokenA:    "ETH",
		TokenB:    "USDC",
		VenueA:    "dex-a",
		VenueB:    "dex-b",
		PriceA:    decimal.NewFromInt(2000),
		PriceB:    decimal.NewFromInt(2010),
		Profit:    decimal.NewFromInt(10),
		Timestamp: detected,
	}
}

func TestExecuteWithinValidityWindow(t *testing.T) {
	store := newTestStore(t)
	trader := &recordingTrader{}
	arb := NewArbitrage(store, trader, nil)

	detected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	arb.SetClock(func() time.Time { return detected.Add(299 * time.Second) })

	id := store.AddOpportunity(testOpportunity(detected))

	require.NoError(t, arb.Execute(context.Background(), id))
	assert.Equal(t, 1, trader.calls)
	assert.Equal(t, id, trader.last.ID)

	// Consumed: a second execution finds nothing.
	err := arb.Execute(context.Background(), id)
	assert.ErrorIs(t, err, ledger.ErrOpportunityNotFound)
}

func TestExecuteExpiredOpportunity(t *testing.T) {
	store := newTestStore(t)
	trader := &recordingTrader{}
	arb := NewArbitrage(store, trader, nil)

	detected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	arb.SetClock(func() time.Time { return detected.Add(301 * time.Second) })

	id := store.AddOpportunity(testOpportunity(detected))

	err := arb.Execute(context.Background(), id)
	require.ErrorIs(t, err, ledger.ErrOpportunityExpired)
	assert.Equal(t, 0, trader.calls)

	// Expired attempts still consume the record.
	err = arb.Execute(context.Background(), id)
	assert.ErrorIs(t, err, ledger.ErrOpportunityNotFound)
}

func TestExecuteExactlyAtWindowEdge(t *testing.T) {
	store := newTestStore(t)
	trader := &recordingTrader{}
	arb := NewArbitrage(store, trader, nil)

	detected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	arb.SetClock(func() time.Time { return detected.Add(ledger.OpportunityValidityWindow) })

	id := store.AddOpportunity(testOpportunity(detected))

	// Exactly 300s after detection is still valid.
	require.NoError(t, arb.Execute(context.Background(), id))
	assert.Equal(t, 1, trader.calls)
}

func TestExecuteUnknownOpportunity(t *testing.T) {
	store := newTestStore(t)
	arb := NewArbitrage(store, &recordingTrader{}, nil)

	err := arb.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrOpportunityNotFound)
}

func TestExecuteTraderFailureConsumes(t *testing.T) {
	store := newTestStore(t)
	trader := &recordingTrader{err: assert.AnError}
	arb := NewArbitrage(store, trader, nil)

	id := store.AddOpportunity(testOpportunity(time.Now()))

	err := arb.Execute(context.Background(), id)
	require.ErrorIs(t, err, assert.AnError)

	// Failed executions never retry against the same stale quote.
	err = arb.Execute(context.Background(), id)
	assert.ErrorIs(t, err, ledger.ErrOpportunityNotFound)
}
