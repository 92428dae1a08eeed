package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multi-strategy-vault/ledger"
	"multi-strategy-vault/pricefeed"
)

// Grid builds and maintains the price ladder of a GRID_TRADING strategy.
// The ladder is symmetric around the seeding price; every fill spawns one
// replacement order on the opposite side two spacings away, so the ladder
// walks with the market and the active order count never changes.
type Grid struct {
	store  *ledger.Store
	feed   pricefeed.Feed
	logger *zap.Logger
}

// NewGrid creates a grid engine.
func NewGrid(store *ledger.Store, feed pricefeed.Feed, logger *zap.Logger) *Grid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Grid{store: store, feed: feed, logger: logger}
}

// SeedLadder builds the initial ladder for a strategy being activated:
// gridLevels buy orders below the current price and gridLevels sell orders
// above it, one spacing apart, each sized activeCapital / (2 * gridLevels).
// Implements ledger.LadderSeeder.
func (g *Grid) SeedLadder(strategy ledger.Strategy) ([]ledger.GridOrder, error) {
	levels := strategy.Params.GridLevels
	spacing := strategy.Params.GridSpacing
	if levels <= 0 {
		return nil, fmt.Errorf("strategy %s: grid levels must be positive", strategy.ID)
	}
	if spacing.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("strategy %s: grid spacing must be positive", strategy.ID)
	}

	basePrice, err := g.feed.GetPrice(strategy.BaseAsset)
	if err != nil {
		return nil, fmt.Errorf("base price for %s: %w", strategy.BaseAsset, err)
	}

	size := strategy.ActiveCapital.Div(decimal.NewFromInt(int64(2 * levels)))
	now := strategy.CreatedAt
	if !strategy.LastRebalance.IsZero() {
		now = strategy.LastRebalance
	}

	orders := make([]ledger.GridOrder, 0, 2*levels)
	for i := 1; i <= levels; i++ {
		offset := spacing.Mul(decimal.NewFromInt(int64(i)))
		orders = append(orders, ledger.GridOrder{
			StrategyID: strategy.ID,
			Price:      basePrice.Sub(offset),
			Amount:     size,
			IsBuy:      true,
			IsActive:   true,
			CreatedAt:  now,
		})
		orders = append(orders, ledger.GridOrder{
			StrategyID: strategy.ID,
			Price:      basePrice.Add(offset),
			Amount:     size,
			IsBuy:      false,
			IsActive:   true,
			CreatedAt:  now,
		})
	}

	g.logger.Info("grid ladder seeded",
		zap.String("strategy", strategy.ID),
		zap.String("base_price", basePrice.String()),
		zap.Int("orders", len(orders)))
	return orders, nil
}

// Rebalance fills every active order crossed by the current price and spawns
// its opposite-side replacement two spacings away. Orders not crossed are left
// untouched, making the pass idempotent. Returns the number of fills.
//
// The caller must hold the strategy's exclusive section.
func (g *Grid) Rebalance(ctx context.Context, strategy ledger.Strategy) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	price, err := g.feed.GetPrice(strategy.BaseAsset)
	if err != nil {
		return 0, fmt.Errorf("price for %s: %w", strategy.BaseAsset, err)
	}

	orders, err := g.store.GridOrders(strategy.ID)
	if err != nil {
		return 0, err
	}

	doubleSpacing := strategy.Params.GridSpacing.Mul(decimal.NewFromInt(2))
	filled := 0
	for i, order := range orders {
		if !order.IsActive || !crossed(order, price) {
			continue
		}

		replacement := ledger.GridOrder{
			Amount:    order.Amount,
			IsBuy:     !order.IsBuy,
			CreatedAt: order.CreatedAt,
		}
		if order.IsBuy {
			replacement.Price = order.Price.Add(doubleSpacing)
		} else {
			replacement.Price = order.Price.Sub(doubleSpacing)
		}

		if err := g.store.FillGridOrder(strategy.ID, i, replacement); err != nil {
			return filled, err
		}
		filled++

		g.logger.Debug("grid order filled",
			zap.String("strategy", strategy.ID),
			zap.String("order_price", order.Price.String()),
			zap.Bool("buy", order.IsBuy),
			zap.String("market_price", price.String()))
	}

	if filled > 0 {
		err = g.store.UpdateMetrics(strategy.ID, func(m *ledger.StrategyMetrics) {
			m.TotalTrades += int64(filled)
		})
		if err != nil {
			return filled, err
		}
	}
	return filled, nil
}

func crossed(order ledger.GridOrder, price decimal.Decimal) bool {
	if order.IsBuy {
		return price.GreaterThanOrEqual(order.Price)
	}
	return price.LessThanOrEqual(order.Price)
}
