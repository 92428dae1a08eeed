package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multi-strategy-vault/ledger"
)

// Periodic runs dollar-cost-averaging strategies: one fixed-size leg per
// interval until the configured budget is spent, at which point the ledger
// auto-pauses the strategy.
type Periodic struct {
	store    *ledger.Store
	executor TradeExecutor
	logger   *zap.Logger
	now      func() time.Time
}

// NewPeriodic creates a DCA engine.
func NewPeriodic(store *ledger.Store, executor TradeExecutor, logger *zap.Logger) *Periodic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Periodic{store: store, executor: executor, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (p *Periodic) SetClock(now func() time.Time) {
	p.now = now
}

// Tick executes at most one DCA leg: only when the configured interval has
// elapsed since the last one and the leg still fits in the budget. Returns
// whether a leg ran. The caller must hold the strategy's exclusive section.
func (p *Periodic) Tick(ctx context.Context, strategy ledger.Strategy) (bool, error) {
	amount := strategy.Params.DCAAmount
	interval := strategy.Params.DCAInterval
	if amount.LessThanOrEqual(decimal.Zero) || interval <= 0 {
		return false, fmt.Errorf("strategy %s: DCA amount and interval must be configured", strategy.ID)
	}

	now := p.now()
	if !strategy.LastRebalance.IsZero() && now.Sub(strategy.LastRebalance) < interval {
		return false, nil
	}
	budget := strategy.Params.DCABudget
	if budget.IsPositive() && strategy.DCASpent.Add(amount).GreaterThan(budget) {
		return false, nil
	}

	if err := p.executor.ExecuteTrade(ctx, strategy, DirectionBuy, amount); err != nil {
		return false, fmt.Errorf("execute DCA leg: %w", err)
	}
	if err := p.store.MarkDCAExecuted(strategy.ID, amount); err != nil {
		return false, err
	}

	p.logger.Info("DCA leg executed",
		zap.String("strategy", strategy.ID),
		zap.String("amount", amount.String()),
		zap.String("spent", strategy.DCASpent.Add(amount).String()))
	return true, nil
}
