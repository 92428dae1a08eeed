// Package engine implements the rebalancing algorithms that run against the
// ledger: grid ladder maintenance, TWAP-deviation trend triggers, periodic
// DCA legs and time-bounded arbitrage execution. Engines decide when and how
// much to trade; order placement is delegated through the TradeExecutor port.
package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"multi-strategy-vault/ledger"
)

// Direction is the side of a decided trade.
type Direction int

const (
	DirectionBuy  Direction = 1
	DirectionSell Direction = -1
)

func (d Direction) String() string {
	if d == DirectionBuy {
		return "BUY"
	}
	return "SELL"
}

// TradeExecutor is the pluggable execution port for strategy-decided trades.
// Implementations route to a venue, a paper simulator, or a test mock.
type TradeExecutor interface {
	ExecuteTrade(ctx context.Context, strategy ledger.Strategy, direction Direction, amount decimal.Decimal) error
}

// TradeExecutorFunc adapts a function to the TradeExecutor interface.
type TradeExecutorFunc func(ctx context.Context, strategy ledger.Strategy, direction Direction, amount decimal.Decimal) error

func (f TradeExecutorFunc) ExecuteTrade(ctx context.Context, strategy ledger.Strategy, direction Direction, amount decimal.Decimal) error {
	return f(ctx, strategy, direction, amount)
}

// OpportunityTrader performs the cross-venue legs of an arbitrage opportunity.
type OpportunityTrader interface {
	ExecuteOpportunity(ctx context.Context, op ledger.ArbitrageOpportunity) error
}

// OpportunityTraderFunc adapts a function to the OpportunityTrader interface.
type OpportunityTraderFunc func(ctx context.Context, op ledger.ArbitrageOpportunity) error

func (f OpportunityTraderFunc) ExecuteOpportunity(ctx context.Context, op ledger.ArbitrageOpportunity) error {
	return f(ctx, op)
}
