package ledger

import "errors"

// Validation errors: rejected before any mutation, recoverable by the caller.
var (
	ErrInvalidAssetPair = errors.New("base and quote asset must differ")
	ErrInvalidType      = errors.New("unknown strategy type")
	ErrFeeTooHigh       = errors.New("fee rate exceeds cap")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrBelowMinimum     = errors.New("investment below strategy minimum")
	ErrAboveMaximum     = errors.New("investment above strategy maximum")
)

// State errors: the caller must re-query strategy state.
var (
	ErrStrategyNotFound    = errors.New("strategy not found")
	ErrNotActive           = errors.New("strategy is not active")
	ErrAlreadyActive       = errors.New("strategy is not inactive")
	ErrNotPaused           = errors.New("strategy is not paused")
	ErrStopped             = errors.New("strategy is emergency-stopped")
	ErrOpportunityNotFound = errors.New("arbitrage opportunity not found")
	ErrOpportunityExpired  = errors.New("arbitrage opportunity expired")
)

// Consistency and concurrency errors.
var (
	ErrInsufficientShares = errors.New("investor holds insufficient shares")
	// ErrBusy means the strategy's exclusive section could not be acquired
	// within the bounded wait. The operation did not run and may be retried.
	ErrBusy = errors.New("strategy is busy, retry")
)
