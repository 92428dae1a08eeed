package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"multi-strategy-vault/fees"
	"multi-strategy-vault/settlement"
)

var (
	testCreator  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testInvestor = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testVault    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testFeeRecip = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func newTestStore(t *testing.T) (*Store, *settlement.SimEngine) {
	t.Helper()
	sim := settlement.NewSimEngine(true)
	config := StoreConfig{
		VaultAccount:   testVault,
		FeeRecipient:   testFeeRecip,
		AcquireTimeout: 50 * time.Millisecond,
	}
	return NewStore(config, fees.NewCalculator(), sim, NewEventBus(), zap.NewNop()), sim
}

func createActiveStrategy(t *testing.T, store *Store, typ StrategyType, params StrategyParams) string {
	t.Helper()
	id, err := store.CreateStrategy(testCreator, typ, "ETH", "USDC",
		decimal.NewFromInt(10), decimal.NewFromInt(100000), 1000, 200, params)
	require.NoError(t, err)
	require.NoError(t, store.Activate(id))
	return id
}

func TestCreateStrategyValidation(t *testing.T) {
	store, _ := newTestStore(t)
	min := decimal.NewFromInt(10)
	max := decimal.NewFromInt(1000)

	_, err := store.CreateStrategy(testCreator, "PONZI", "ETH", "USDC", min, max, 100, 100, StrategyParams{})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = store.CreateStrategy(testCreator, TypeDCA, "ETH", "ETH", min, max, 100, 100, StrategyParams{})
	assert.ErrorIs(t, err, ErrInvalidAssetPair)

	_, err = store.CreateStrategy(testCreator, TypeDCA, "", "USDC", min, max, 100, 100, StrategyParams{})
	assert.ErrorIs(t, err, ErrInvalidAssetPair)

	_, err = store.CreateStrategy(testCreator, TypeDCA, "ETH", "USDC", min, max, 2001, 100, StrategyParams{})
	assert.ErrorIs(t, err, ErrFeeTooHigh)

	_, err = store.CreateStrategy(testCreator, TypeDCA, "ETH", "USDC", min, max, 100, 501, StrategyParams{})
	assert.ErrorIs(t, err, ErrFeeTooHigh)

	_, err = store.CreateStrategy(testCreator, TypeDCA, "ETH", "USDC", decimal.NewFromInt(-1), max, 100, 100, StrategyParams{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// Exactly at the caps is allowed.
	id, err := store.CreateStrategy(testCreator, TypeDCA, "ETH", "USDC", min, max, 2000, 500, StrategyParams{})
	require.NoError(t, err)

	s, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, s.Status)
	assert.True(t, s.TotalCapital.IsZero())
	assert.True(t, s.TotalShares.IsZero())
}

func TestStatusTransitions(t *testing.T) {
	store, _ := newTestStore(t)
	id, err := store.CreateStrategy(testCreator, TypeMomentum, "ETH", "USDC",
		decimal.NewFromInt(10), decimal.Zero, 0, 0, StrategyParams{})
	require.NoError(t, err)

	assert.ErrorIs(t, store.Pause(id), ErrNotActive)
	assert.ErrorIs(t, store.Resume(id), ErrNotPaused)

	require.NoError(t, store.Activate(id))
	assert.ErrorIs(t, store.Activate(id), ErrAlreadyActive)

	require.NoError(t, store.Pause(id))
	require.NoError(t, store.Resume(id))

	require.NoError(t, store.EmergencyStop(id))
	// Terminal: no way back, and stopping again is a no-op.
	assert.ErrorIs(t, store.Resume(id), ErrStopped)
	assert.NoError(t, store.EmergencyStop(id))

	_, err = store.Invest(id, testInvestor, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrNotActive)
	_, err = store.Withdraw(context.Background(), id, testInvestor, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestInvestShareMinting(t *testing.T) {
	store, _ := newTestStore(t)
	id := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})

	// First deposit mints shares one for one.
	shares, err := store.Invest(id, testInvestor, decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, shares.Equal(decimal.NewFromInt(1000)), "got %s", shares)

	// Later deposits mint amount * totalShares / totalCapital.
	second := common.HexToAddress("0x5555555555555555555555555555555555555555")
	shares2, err := store.Invest(id, second, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, shares2.Equal(decimal.NewFromInt(500)), "got %s", shares2)

	s, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.True(t, s.TotalCapital.Equal(decimal.NewFromInt(1500)))
	assert.True(t, s.TotalShares.Equal(decimal.NewFromInt(1500)))
	assert.True(t, s.ActiveCapital.Equal(decimal.NewFromInt(1500)))
}

func TestInvestBounds(t *testing.T) {
	store, _ := newTestStore(t)
	id := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})

	_, err := store.Invest(id, testInvestor, decimal.NewFromInt(5))
	assert.ErrorIs(t, err, ErrBelowMinimum)

	_, err = store.Invest(id, testInvestor, decimal.NewFromInt(100001))
	assert.ErrorIs(t, err, ErrAboveMaximum)

	_, err = store.Invest(id, testInvestor, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = store.Invest("missing", testInvestor, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrStrategyNotFound)
}

func TestCapitalConservation(t *testing.T) {
	store, _ := newTestStore(t)
	id := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})

	investors := []common.Address{
		common.HexToAddress("0xaa01"),
		common.HexToAddress("0xaa02"),
		common.HexToAddress("0xaa03"),
		common.HexToAddress("0xaa04"),
	}

	var wg sync.WaitGroup
	for i, investor := range investors {
		wg.Add(1)
		go func(investor common.Address, amount int64) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := store.Invest(id, investor, decimal.NewFromInt(amount))
				assert.NoError(t, err)
			}
		}(investor, int64(100*(i+1)))
	}
	wg.Wait()

	s, err := store.GetStrategy(id)
	require.NoError(t, err)
	positions, err := store.GetPositions(id)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, p := range positions {
		sum = sum.Add(p.CapitalContributed)
	}
	assert.True(t, sum.Equal(s.TotalCapital),
		"sum of contributions %s != total capital %s", sum, s.TotalCapital)
	assert.True(t, s.TotalCapital.Equal(decimal.NewFromInt(10000)))
}

func TestWithdrawFullPosition(t *testing.T) {
	store, sim := newTestStore(t)
	id := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})

	entered := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return entered })

	shares, err := store.Invest(id, testInvestor, decimal.NewFromInt(1000))
	require.NoError(t, err)

	// Withdraw a year later: 200 bps annual management fee on the full amount.
	store.SetClock(func() time.Time { return entered.Add(365 * 24 * time.Hour) })

	net, err := store.Withdraw(context.Background(), id, testInvestor, shares)
	require.NoError(t, err)
	assert.True(t, net.Equal(decimal.NewFromInt(980)), "got %s", net)

	assert.True(t, sim.Balance("USDC", testInvestor).Equal(decimal.NewFromInt(980)))
	assert.True(t, sim.Balance("USDC", testFeeRecip).Equal(decimal.NewFromInt(20)))

	s, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.True(t, s.TotalCapital.IsZero())
	assert.True(t, s.TotalShares.IsZero())

	// Position is gone once all shares are burned.
	_, err = store.GetPosition(id, testInvestor)
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestWithdrawInsufficientShares(t *testing.T) {
	store, _ := newTestStore(t)
	id := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})

	shares, err := store.Invest(id, testInvestor, decimal.NewFromInt(100))
	require.NoError(t, err)

	_, err = store.Withdraw(context.Background(), id, testInvestor, shares.Add(decimal.NewFromInt(1)))
	assert.ErrorIs(t, err, ErrInsufficientShares)

	stranger := common.HexToAddress("0x9999999999999999999999999999999999999999")
	_, err = store.Withdraw(context.Background(), id, stranger, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestWithdrawSettlementFailureNotRolledBack(t *testing.T) {
	sim := settlement.NewSimEngine(false) // unfunded vault, transfers fail
	config := StoreConfig{VaultAccount: testVault, FeeRecipient: testFeeRecip, AcquireTimeout: 50 * time.Millisecond}
	store := NewStore(config, fees.NewCalculator(), sim, NewEventBus(), zap.NewNop())

	var reconciled bool
	store.SetReconcileHook(func(strategyID string, investor common.Address, amount decimal.Decimal, cause error) {
		reconciled = true
		assert.ErrorIs(t, cause, settlement.ErrInsufficientBalance)
	})

	id := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})
	shares, err := store.Invest(id, testInvestor, decimal.NewFromInt(1000))
	require.NoError(t, err)

	_, err = store.Withdraw(context.Background(), id, testInvestor, shares)
	require.ErrorIs(t, err, settlement.ErrInsufficientBalance)
	assert.True(t, reconciled)

	// The ledger mutation stands despite the failed payout.
	s, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.True(t, s.TotalCapital.IsZero())
	assert.True(t, s.TotalShares.IsZero())
}

func TestAcquireBusy(t *testing.T) {
	store, _ := newTestStore(t)
	id := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})

	release, err := store.Acquire(id)
	require.NoError(t, err)

	// Second entry waits out the bounded timeout and reports busy.
	_, err = store.Acquire(id)
	assert.ErrorIs(t, err, ErrBusy)

	_, ok, err := store.TryAcquire(id)
	require.NoError(t, err)
	assert.False(t, ok)

	release()

	release2, err := store.Acquire(id)
	require.NoError(t, err)
	release2()

	_, err = store.Acquire("missing")
	assert.ErrorIs(t, err, ErrStrategyNotFound)
}

func TestMutationsBlockedWhileSectionHeld(t *testing.T) {
	store, _ := newTestStore(t)
	id := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})

	release, err := store.Acquire(id)
	require.NoError(t, err)
	defer release()

	_, err = store.Invest(id, testInvestor, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, store.Pause(id), ErrBusy)
}

func TestFillGridOrderKeepsActiveCount(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetLadderSeeder(stubSeeder{})

	id, err := store.CreateStrategy(testCreator, TypeGridTrading, "ETH", "USDC",
		decimal.NewFromInt(10), decimal.Zero, 0, 0,
		StrategyParams{GridLevels: 2, GridSpacing: decimal.NewFromInt(5)})
	require.NoError(t, err)
	require.NoError(t, store.Activate(id))

	require.Equal(t, 4, store.ActiveGridOrderCount(id))

	orders, err := store.GridOrders(id)
	require.NoError(t, err)
	filled := orders[0]

	replacement := GridOrder{
		Price:  filled.Price.Add(decimal.NewFromInt(10)),
		Amount: filled.Amount,
		IsBuy:  !filled.IsBuy,
	}
	require.NoError(t, store.FillGridOrder(id, 0, replacement))

	assert.Equal(t, 4, store.ActiveGridOrderCount(id))

	// Filling the same rung twice is rejected.
	assert.Error(t, store.FillGridOrder(id, 0, replacement))
}

func TestMarkDCAExecutedAutoPause(t *testing.T) {
	store, _ := newTestStore(t)
	params := StrategyParams{
		DCAInterval: time.Hour,
		DCAAmount:   decimal.NewFromInt(100),
		DCABudget:   decimal.NewFromInt(300),
	}
	id := createActiveStrategy(t, store, TypeDCA, params)

	require.NoError(t, store.MarkDCAExecuted(id, decimal.NewFromInt(100)))
	require.NoError(t, store.MarkDCAExecuted(id, decimal.NewFromInt(100)))

	s, err := store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)

	require.NoError(t, store.MarkDCAExecuted(id, decimal.NewFromInt(100)))

	s, err = store.GetStrategy(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, s.Status)
	assert.True(t, s.DCASpent.Equal(decimal.NewFromInt(300)))
}

func TestTakeOpportunityConsumeOnce(t *testing.T) {
	store, _ := newTestStore(t)

	id := store.AddOpportunity(ArbitrageOpportunity{
		TokenA: "ETH", TokenB: "USDC",
		VenueA: "dex-a", VenueB: "dex-b",
		Profit: decimal.NewFromInt(42),
	})
	require.NotEmpty(t, id)

	op, err := store.TakeOpportunity(id)
	require.NoError(t, err)
	assert.Equal(t, id, op.ID)
	assert.False(t, op.Timestamp.IsZero())

	_, err = store.TakeOpportunity(id)
	assert.ErrorIs(t, err, ErrOpportunityNotFound)
}

func TestActiveStrategies(t *testing.T) {
	store, _ := newTestStore(t)

	active := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})
	paused := createActiveStrategy(t, store, TypeMeanReversion, StrategyParams{})
	require.NoError(t, store.Pause(paused))

	_, err := store.CreateStrategy(testCreator, TypeDCA, "BTC", "USDC",
		decimal.NewFromInt(10), decimal.Zero, 0, 0, StrategyParams{})
	require.NoError(t, err)

	list := store.ActiveStrategies()
	require.Len(t, list, 1)
	assert.Equal(t, active, list[0].ID)
}

func TestEventsPublished(t *testing.T) {
	store, _ := newTestStore(t)

	var mu sync.Mutex
	seen := make(map[EventType]int)
	store.Events().Subscribe(func(ev Event) {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
	})

	id := createActiveStrategy(t, store, TypeMomentum, StrategyParams{})
	_, err := store.Invest(id, testInvestor, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, store.EmergencyStop(id))
	require.NoError(t, store.EmergencyStop(id)) // idempotent, no second event

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[EventStrategyCreated])
	assert.Equal(t, 1, seen[EventInvested])
	assert.Equal(t, 1, seen[EventEmergencyStopped])
}

// stubSeeder builds a fixed ladder so activation tests need no price feed.
type stubSeeder struct{}

func (stubSeeder) SeedLadder(s Strategy) ([]GridOrder, error) {
	orders := make([]GridOrder, 0, 2*s.Params.GridLevels)
	base := decimal.NewFromInt(100)
	for i := 1; i <= s.Params.GridLevels; i++ {
		step := s.Params.GridSpacing.Mul(decimal.NewFromInt(int64(i)))
		orders = append(orders,
			GridOrder{Price: base.Sub(step), Amount: decimal.NewFromInt(1), IsBuy: true, IsActive: true},
			GridOrder{Price: base.Add(step), Amount: decimal.NewFromInt(1), IsBuy: false, IsActive: true},
		)
	}
	return orders, nil
}
