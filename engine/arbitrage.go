package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"multi-strategy-vault/ledger"
)

// Arbitrage executes time-bounded cross-venue opportunities. Every execution
// attempt consumes the opportunity record, expired or not, so a stale quote
// can never be retried.
type Arbitrage struct {
	store  *ledger.Store
	trader OpportunityTrader
	logger *zap.Logger
	now    func() time.Time
}

// NewArbitrage creates an arbitrage executor.
func NewArbitrage(store *ledger.Store, trader OpportunityTrader, logger *zap.Logger) *Arbitrage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbitrage{store: store, trader: trader, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (a *Arbitrage) SetClock(now func() time.Time) {
	a.now = now
}

// Execute consumes the opportunity and, when still inside its validity
// window, performs the delegated cross-venue trade.
func (a *Arbitrage) Execute(ctx context.Context, opportunityID string) error {
	op, err := a.store.TakeOpportunity(opportunityID)
	if err != nil {
		return err
	}

	if op.Expired(a.now()) {
		a.logger.Warn("arbitrage opportunity expired",
			zap.String("opportunity", op.ID),
			zap.Time("detected", op.Timestamp))
		return ledger.ErrOpportunityExpired
	}

	if err := a.trader.ExecuteOpportunity(ctx, op); err != nil {
		a.logger.Error("arbitrage execution failed",
			zap.String("opportunity", op.ID),
			zap.String("venues", op.VenueA+"->"+op.VenueB),
			zap.Error(err))
		return fmt.Errorf("execute opportunity %s: %w", op.ID, err)
	}

	a.logger.Info("arbitrage executed",
		zap.String("opportunity", op.ID),
		zap.String("pair", op.TokenA+"/"+op.TokenB),
		zap.String("profit", op.Profit.String()))

	a.store.Events().Publish(ledger.Event{
		Type:   ledger.EventArbitrageExecuted,
		Amount: op.Profit,
		At:     a.now(),
		Detail: fmt.Sprintf("opportunity=%s venues=%s->%s", op.ID, op.VenueA, op.VenueB),
	})
	return nil
}
