// Package controller is the public façade of the vault core. It validates
// authorization and strategy existence, then routes each call to the engine
// matching the strategy's type, always inside the ledger's per-strategy
// exclusive section.
package controller

import (
	"context"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multi-strategy-vault/engine"
	"multi-strategy-vault/ledger"
	"multi-strategy-vault/monitoring"
)

// Controller routes vault operations to the ledger and engines.
type Controller struct {
	store     *ledger.Store
	grid      *engine.Grid
	trend     *engine.Trend
	periodic  *engine.Periodic
	arbitrage *engine.Arbitrage
	auth      Authorizer
	logger    *zap.Logger

	rebalances atomic.Int64
	skips      atomic.Int64
}

// New creates a strategy controller.
func New(store *ledger.Store, grid *engine.Grid, trend *engine.Trend, periodic *engine.Periodic,
	arbitrage *engine.Arbitrage, auth Authorizer, logger *zap.Logger) *Controller {

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:     store,
		grid:      grid,
		trend:     trend,
		periodic:  periodic,
		arbitrage: arbitrage,
		auth:      auth,
		logger:    logger,
	}
}

// Stats reports how many rebalance dispatches ran and how many were skipped
// because the strategy's section was already held.
func (c *Controller) Stats() (rebalances, skips int64) {
	return c.rebalances.Load(), c.skips.Load()
}

// ----------------------------------------------------------------------------
// Manager operations
// ----------------------------------------------------------------------------

// CreateStrategy creates a new strategy. Requires the manager role.
func (c *Controller) CreateStrategy(caller common.Address, typ ledger.StrategyType, baseAsset, quoteAsset string,
	minInvestment, maxInvestment decimal.Decimal, performanceFeeBps, managementFeeBpsYear int64,
	params ledger.StrategyParams) (string, error) {

	if !c.auth.HasRole(caller, RoleManager) {
		return "", ErrUnauthorized
	}
	return c.store.CreateStrategy(caller, typ, baseAsset, quoteAsset,
		minInvestment, maxInvestment, performanceFeeBps, managementFeeBpsYear, params)
}

// Activate transitions a strategy to ACTIVE. Requires the manager role.
func (c *Controller) Activate(caller common.Address, strategyID string) error {
	if !c.auth.HasRole(caller, RoleManager) {
		return ErrUnauthorized
	}
	return c.store.Activate(strategyID)
}

// Pause suspends an ACTIVE strategy. Requires the manager role.
func (c *Controller) Pause(caller common.Address, strategyID string) error {
	if !c.auth.HasRole(caller, RoleManager) {
		return ErrUnauthorized
	}
	return c.store.Pause(strategyID)
}

// Resume reactivates a PAUSED strategy. Requires the manager role.
func (c *Controller) Resume(caller common.Address, strategyID string) error {
	if !c.auth.HasRole(caller, RoleManager) {
		return ErrUnauthorized
	}
	return c.store.Resume(strategyID)
}

// EmergencyStop forces the terminal EMERGENCY_STOP state. Requires the admin
// role.
func (c *Controller) EmergencyStop(caller common.Address, strategyID string) error {
	if !c.auth.HasRole(caller, RoleAdmin) {
		return ErrUnauthorized
	}
	return c.store.EmergencyStop(strategyID)
}

// ----------------------------------------------------------------------------
// Investor operations
// ----------------------------------------------------------------------------

// Invest deposits into a strategy on behalf of an investor and returns the
// minted shares.
func (c *Controller) Invest(strategyID string, investor common.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	return c.store.Invest(strategyID, investor, amount)
}

// Withdraw burns shares and settles the proceeds to the investor.
func (c *Controller) Withdraw(ctx context.Context, strategyID string, investor common.Address, shares decimal.Decimal) (decimal.Decimal, error) {
	return c.store.Withdraw(ctx, strategyID, investor, shares)
}

// ----------------------------------------------------------------------------
// Operator operations
// ----------------------------------------------------------------------------

// Rebalance runs one rebalance pass of the engine matching the strategy's
// type. Requires the operator role. A strategy whose section is already held
// is skipped cleanly: periodic schedulers retry on their next tick.
func (c *Controller) Rebalance(ctx context.Context, caller common.Address, strategyID string) error {
	if !c.auth.HasRole(caller, RoleOperator) {
		return ErrUnauthorized
	}

	release, ok, err := c.store.TryAcquire(strategyID)
	if err != nil {
		return err
	}
	if !ok {
		c.skips.Add(1)
		monitoring.RecordRebalanceSkip(strategyID)
		c.logger.Debug("rebalance skipped, section held", zap.String("strategy", strategyID))
		return nil
	}
	defer release()

	strategy, err := c.store.GetStrategy(strategyID)
	if err != nil {
		return err
	}
	if strategy.Status != ledger.StatusActive {
		return ledger.ErrNotActive
	}

	switch strategy.Type {
	case ledger.TypeGridTrading:
		if _, err := c.grid.Rebalance(ctx, strategy); err != nil {
			return err
		}
	case ledger.TypeDCA:
		// The DCA engine stamps its own execution time; stamping no-op ticks
		// would break the interval gate.
		if _, err := c.periodic.Tick(ctx, strategy); err != nil {
			return err
		}
		c.rebalances.Add(1)
		return nil
	case ledger.TypeMomentum:
		if err := c.trend.Momentum(ctx, strategy); err != nil {
			return err
		}
	case ledger.TypeMeanReversion:
		if err := c.trend.MeanReversion(ctx, strategy); err != nil {
			return err
		}
	case ledger.TypeArbitrage:
		// Arbitrage strategies trade through ExecuteArbitrage, not the
		// periodic rebalance path.
	default:
		c.logger.Debug("no rebalance engine for strategy type",
			zap.String("strategy", strategyID),
			zap.String("type", strategy.Type.String()))
	}

	c.rebalances.Add(1)
	return c.store.MarkRebalanced(strategyID)
}

// RebalanceAll runs Rebalance over every ACTIVE strategy, logging failures
// and continuing. Intended for the periodic scheduler.
func (c *Controller) RebalanceAll(ctx context.Context, caller common.Address) {
	for _, strategy := range c.store.ActiveStrategies() {
		if err := c.Rebalance(ctx, caller, strategy.ID); err != nil {
			c.logger.Error("rebalance failed",
				zap.String("strategy", strategy.ID),
				zap.String("type", strategy.Type.String()),
				zap.Error(err))
		}
	}
}

// ExecuteArbitrage consumes and executes a detected opportunity. Requires the
// operator role.
func (c *Controller) ExecuteArbitrage(ctx context.Context, caller common.Address, opportunityID string) error {
	if !c.auth.HasRole(caller, RoleOperator) {
		return ErrUnauthorized
	}
	return c.arbitrage.Execute(ctx, opportunityID)
}

// ----------------------------------------------------------------------------
// Query surface
// ----------------------------------------------------------------------------

// GetStrategy returns a snapshot of a strategy.
func (c *Controller) GetStrategy(strategyID string) (ledger.Strategy, error) {
	return c.store.GetStrategy(strategyID)
}

// GetMetrics returns a strategy's cumulative metrics.
func (c *Controller) GetMetrics(strategyID string) (ledger.StrategyMetrics, error) {
	return c.store.GetMetrics(strategyID)
}

// GetPositions returns all investor positions of a strategy.
func (c *Controller) GetPositions(strategyID string) ([]ledger.InvestorPosition, error) {
	return c.store.GetPositions(strategyID)
}

// ActiveStrategies lists all ACTIVE strategies.
func (c *Controller) ActiveStrategies() []ledger.Strategy {
	return c.store.ActiveStrategies()
}
