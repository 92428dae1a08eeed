package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"multi-strategy-vault/fees"
	"multi-strategy-vault/ledger"
	"multi-strategy-vault/pricefeed"
	"multi-strategy-vault/settlement"
)

var testCreator = common.HexToAddress("0x1111111111111111111111111111111111111111")

// recordingExecutor captures trades handed to it.
type recordingExecutor struct {
	calls      int
	directions []Direction
	amounts    []decimal.Decimal
	err        error
}

func (r *recordingExecutor) ExecuteTrade(_ context.Context, _ ledger.Strategy, direction Direction, amount decimal.Decimal) error {
	if r.err != nil {
		return r.err
	}
	r.calls++
	r.directions = append(r.directions, direction)
	r.amounts = append(r.amounts, amount)
	return nil
}

// recordingTrader captures opportunities handed to it.
type recordingTrader struct {
	calls int
	last  ledger.ArbitrageOpportunity
	err   error
}

func (r *recordingTrader) ExecuteOpportunity(_ context.Context, op ledger.ArbitrageOpportunity) error {
	if r.err != nil {
		return r.err
	}
	r.calls++
	r.last = op
	return nil
}

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	config := ledger.StoreConfig{
		VaultAccount:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		FeeRecipient:   common.HexToAddress("0x4444444444444444444444444444444444444444"),
		AcquireTimeout: 50 * time.Millisecond,
	}
	return ledger.NewStore(config, fees.NewCalculator(), settlement.NewSimEngine(true), ledger.NewEventBus(), zap.NewNop())
}

// fundedStrategy creates, activates and funds a strategy so ActiveCapital is
// non-zero, returning a fresh snapshot.
func fundedStrategy(t *testing.T, store *ledger.Store, typ ledger.StrategyType, params ledger.StrategyParams, capital int64) ledger.Strategy {
	t.Helper()
	id, err := store.CreateStrategy(testCreator, typ, "ETH", "USDC",
		decimal.NewFromInt(1), decimal.Zero, 0, 0, params)
	require.NoError(t, err)
	require.NoError(t, store.Activate(id))

	if capital > 0 {
		_, err = store.Invest(id, testCreator, decimal.NewFromInt(capital))
		require.NoError(t, err)
	}

	snapshot, err := store.GetStrategy(id)
	require.NoError(t, err)
	return snapshot
}

func newFeed(asset string, price int64) *pricefeed.StaticFeed {
	feed := pricefeed.NewStaticFeed()
	feed.SetPrice(asset, decimal.NewFromInt(price))
	return feed
}
