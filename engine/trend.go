package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multi-strategy-vault/ledger"
	"multi-strategy-vault/pricefeed"
)

// TWAP windows for the two trend triggers.
const (
	MomentumTwapWindow      = time.Hour
	MeanReversionTwapWindow = 4 * time.Hour
)

// maxTradeFraction caps a single trend trade at this share of active capital.
const maxTradeFraction = "0.1"

var bpsDenominator = decimal.NewFromInt(10000)

// Trend implements the momentum and mean-reversion triggers. Both compare the
// spot price against a trailing TWAP and trade once the deviation clears the
// strategy's rebalance threshold; momentum trades with the move, mean
// reversion fades it.
type Trend struct {
	feed     pricefeed.Feed
	executor TradeExecutor
	store    *ledger.Store
	logger   *zap.Logger
}

// NewTrend creates a trend engine.
func NewTrend(store *ledger.Store, feed pricefeed.Feed, executor TradeExecutor, logger *zap.Logger) *Trend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trend{feed: feed, executor: executor, store: store, logger: logger}
}

// Momentum trades in the direction of the price's deviation from the 1h TWAP.
// The caller must hold the strategy's exclusive section.
func (t *Trend) Momentum(ctx context.Context, strategy ledger.Strategy) error {
	return t.evaluate(ctx, strategy, MomentumTwapWindow, false)
}

// MeanReversion trades against the direction of the price's deviation from
// the 4h TWAP. The caller must hold the strategy's exclusive section.
func (t *Trend) MeanReversion(ctx context.Context, strategy ledger.Strategy) error {
	return t.evaluate(ctx, strategy, MeanReversionTwapWindow, true)
}

func (t *Trend) evaluate(ctx context.Context, strategy ledger.Strategy, window time.Duration, fade bool) error {
	price, err := t.feed.GetPrice(strategy.BaseAsset)
	if err != nil {
		return fmt.Errorf("price for %s: %w", strategy.BaseAsset, err)
	}
	twap, err := t.feed.GetTwap(strategy.BaseAsset, window)
	if err != nil {
		return fmt.Errorf("twap for %s: %w", strategy.BaseAsset, err)
	}
	if twap.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("twap for %s is not positive", strategy.BaseAsset)
	}

	deviation := price.Sub(twap).Abs().Div(twap)
	threshold := decimal.NewFromInt(strategy.Params.RebalanceThresholdBps).Div(bpsDenominator)
	if threshold.IsZero() || deviation.LessThan(threshold) {
		return nil
	}

	if !t.withinRiskLimits(strategy) {
		t.logger.Warn("trend trade suppressed by risk limits", zap.String("strategy", strategy.ID))
		return nil
	}

	direction := DirectionBuy
	if price.LessThan(twap) {
		direction = DirectionSell
	}
	if fade {
		direction = -direction
	}

	amount := t.tradeSize(strategy, deviation)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	if err := t.executor.ExecuteTrade(ctx, strategy, direction, amount); err != nil {
		return fmt.Errorf("execute trend trade: %w", err)
	}

	t.logger.Info("trend trade executed",
		zap.String("strategy", strategy.ID),
		zap.String("direction", direction.String()),
		zap.String("amount", amount.String()),
		zap.String("deviation", deviation.String()),
		zap.Bool("fade", fade))

	return t.store.UpdateMetrics(strategy.ID, func(m *ledger.StrategyMetrics) {
		m.TotalTrades++
	})
}

// tradeSize scales the trade with the deviation, capped at a fixed fraction
// of active capital.
func (t *Trend) tradeSize(strategy ledger.Strategy, deviation decimal.Decimal) decimal.Decimal {
	size := strategy.ActiveCapital.Mul(deviation)
	cap := strategy.ActiveCapital.Mul(decimal.RequireFromString(maxTradeFraction))
	if size.GreaterThan(cap) {
		return cap
	}
	return size
}

// withinRiskLimits checks the recorded performance against the strategy's
// stop-loss, take-profit and max-drawdown thresholds before allowing a new
// trade. Past the take-profit target the strategy holds its gains.
func (t *Trend) withinRiskLimits(strategy ledger.Strategy) bool {
	if strategy.Params.StopLossBps > 0 {
		stop := decimal.NewFromInt(-strategy.Params.StopLossBps).Div(bpsDenominator)
		if strategy.Metrics.TotalReturn.LessThanOrEqual(stop) {
			return false
		}
	}
	if strategy.Params.TakeProfitBps > 0 {
		target := decimal.NewFromInt(strategy.Params.TakeProfitBps).Div(bpsDenominator)
		if strategy.Metrics.TotalReturn.GreaterThanOrEqual(target) {
			return false
		}
	}
	if strategy.Params.MaxDrawdownBps > 0 {
		limit := decimal.NewFromInt(strategy.Params.MaxDrawdownBps).Div(bpsDenominator)
		if strategy.Metrics.MaxDrawdown.GreaterThanOrEqual(limit) {
			return false
		}
	}
	return true
}
