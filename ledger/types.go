// Package ledger owns the authoritative record of strategies, investor
// positions, grid orders and arbitrage opportunities. It is the only package
// allowed to mutate capital and share numbers.
package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// StrategyType identifies the rebalancing algorithm a strategy runs.
type StrategyType string

const (
	TypeGridTrading        StrategyType = "GRID_TRADING"
	TypeDCA                StrategyType = "DCA"
	TypeMomentum           StrategyType = "MOMENTUM"
	TypeMeanReversion      StrategyType = "MEAN_REVERSION"
	TypeArbitrage          StrategyType = "ARBITRAGE"
	TypeLiquidityProviding StrategyType = "LIQUIDITY_PROVIDING"
	TypeDeltaNeutral       StrategyType = "DELTA_NEUTRAL"
	TypeYieldFarming       StrategyType = "YIELD_FARMING"
)

func (t StrategyType) String() string {
	return string(t)
}

// Valid reports whether t is one of the known strategy types.
func (t StrategyType) Valid() bool {
	switch t {
	case TypeGridTrading, TypeDCA, TypeMomentum, TypeMeanReversion,
		TypeArbitrage, TypeLiquidityProviding, TypeDeltaNeutral, TypeYieldFarming:
		return true
	}
	return false
}

// StrategyStatus is the lifecycle state of a strategy.
// Transitions: INACTIVE -> ACTIVE -> {PAUSED <-> ACTIVE}, and any state may
// move to EMERGENCY_STOP, which is terminal.
type StrategyStatus string

const (
	StatusInactive      StrategyStatus = "INACTIVE"
	StatusActive        StrategyStatus = "ACTIVE"
	StatusPaused        StrategyStatus = "PAUSED"
	StatusEmergencyStop StrategyStatus = "EMERGENCY_STOP"
)

func (s StrategyStatus) String() string {
	return string(s)
}

// StrategyParams holds the algorithm tuning for a strategy. Which fields are
// meaningful depends on the strategy type; the rest are ignored.
type StrategyParams struct {
	GridLevels  int             `json:"grid_levels"`  // buy/sell levels per side
	GridSpacing decimal.Decimal `json:"grid_spacing"` // absolute price distance between levels

	DCAInterval time.Duration   `json:"dca_interval"` // minimum time between DCA legs
	DCAAmount   decimal.Decimal `json:"dca_amount"`   // size of one DCA leg
	DCABudget   decimal.Decimal `json:"dca_budget"`   // total spend before auto-pause

	StopLossBps           int64 `json:"stop_loss_bps"`
	TakeProfitBps         int64 `json:"take_profit_bps"`
	RebalanceThresholdBps int64 `json:"rebalance_threshold_bps"` // TWAP deviation trigger
	MaxSlippageBps        int64 `json:"max_slippage_bps"`
	MaxDrawdownBps        int64 `json:"max_drawdown_bps"`

	UseOracle bool `json:"use_oracle"`
	Compound  bool `json:"compound"`

	Extra []decimal.Decimal `json:"extra,omitempty"` // free-form numeric extension
}

// StrategyMetrics is a cumulative performance snapshot, written only by the
// rebalance path and read-only everywhere else.
type StrategyMetrics struct {
	TotalReturn   decimal.Decimal `json:"total_return"`
	SharpeRatio   decimal.Decimal `json:"sharpe_ratio"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown"`
	WinRate       decimal.Decimal `json:"win_rate"`
	TotalTrades   int64           `json:"total_trades"`
	WinningTrades int64           `json:"winning_trades"`
	AvgReturn     decimal.Decimal `json:"avg_return"`
	Volatility    decimal.Decimal `json:"volatility"`
	LastUpdate    time.Time       `json:"last_update"`
}

// Strategy is a named capital-pooling trading configuration of one algorithm
// type. Strategies are never destroyed, only status-transitioned.
type Strategy struct {
	ID         string         `json:"id"`
	Type       StrategyType   `json:"type"`
	Status     StrategyStatus `json:"status"`
	Creator    common.Address `json:"creator"`
	BaseAsset  string         `json:"base_asset"`
	QuoteAsset string         `json:"quote_asset"`

	TotalCapital  decimal.Decimal `json:"total_capital"`
	ActiveCapital decimal.Decimal `json:"active_capital"`
	TotalShares   decimal.Decimal `json:"total_shares"` // shares outstanding, tracked apart from capital
	MinInvestment decimal.Decimal `json:"min_investment"`
	MaxInvestment decimal.Decimal `json:"max_investment"` // zero means unlimited

	PerformanceFeeBps    int64 `json:"performance_fee_bps"`     // <= 2000
	ManagementFeeBpsYear int64 `json:"management_fee_bps_year"` // <= 500

	CreatedAt     time.Time `json:"created_at"`
	LastRebalance time.Time `json:"last_rebalance"`

	// DCASpent accumulates executed DCA legs against params.DCABudget.
	DCASpent decimal.Decimal `json:"dca_spent"`

	Params  StrategyParams  `json:"params"`
	Metrics StrategyMetrics `json:"metrics"`
}

// InvestorPosition records one investor's stake in one strategy.
// The sum of CapitalContributed across a strategy's positions always equals
// that strategy's TotalCapital.
type InvestorPosition struct {
	StrategyID         string          `json:"strategy_id"`
	Investor           common.Address  `json:"investor"`
	Shares             decimal.Decimal `json:"shares"`
	CapitalContributed decimal.Decimal `json:"capital_contributed"`
	EnteredAt          time.Time       `json:"entered_at"` // first investment, fee proration anchor
}

// GridOrder is one rung of a grid strategy's price ladder. Orders live in an
// append-only per-strategy slice; a fill deactivates the order and spawns a
// replacement on the opposite side, keeping the active count constant.
type GridOrder struct {
	StrategyID string          `json:"strategy_id"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
	IsBuy      bool            `json:"is_buy"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OpportunityValidityWindow bounds how long a detected arbitrage opportunity
// remains executable after its detection timestamp.
const OpportunityValidityWindow = 300 * time.Second

// ArbitrageOpportunity is a cross-venue price divergence detected by an
// external scanner. It is consumed exactly once, successfully or not.
type ArbitrageOpportunity struct {
	ID        string          `json:"id"`
	TokenA    string          `json:"token_a"`
	TokenB    string          `json:"token_b"`
	VenueA    string          `json:"venue_a"`
	VenueB    string          `json:"venue_b"`
	PriceA    decimal.Decimal `json:"price_a"`
	PriceB    decimal.Decimal `json:"price_b"`
	Profit    decimal.Decimal `json:"profit"`
	Timestamp time.Time       `json:"timestamp"`
}

// Expired reports whether the opportunity's validity window has passed at now.
func (o *ArbitrageOpportunity) Expired(now time.Time) bool {
	return now.After(o.Timestamp.Add(OpportunityValidityWindow))
}
