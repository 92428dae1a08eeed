package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multi-strategy-vault/fees"
	"multi-strategy-vault/settlement"
)

// LadderSeeder builds the initial grid order ladder when a GRID_TRADING
// strategy is activated. Implemented by the grid engine; injected to keep the
// ledger free of pricing logic.
type LadderSeeder interface {
	SeedLadder(s Strategy) ([]GridOrder, error)
}

// ReconcileFunc is invoked when a settlement transfer fails after the ledger
// mutation has already committed. The ledger is not rolled back; an operator
// must reconcile manually.
type ReconcileFunc func(strategyID string, investor common.Address, amount decimal.Decimal, cause error)

// StoreConfig holds the tunables of the ledger store.
type StoreConfig struct {
	VaultAccount   common.Address // settlement source for withdrawals
	FeeRecipient   common.Address // receives management fees
	AcquireTimeout time.Duration  // bounded wait for a strategy's exclusive section
}

// DefaultStoreConfig provides sensible defaults for the ledger store.
var DefaultStoreConfig = StoreConfig{
	AcquireTimeout: 2 * time.Second,
}

// Store is the authoritative ledger. Every mutating operation on a given
// strategy id runs inside that strategy's exclusive section; operations on
// different strategies proceed in parallel. Reads return snapshot copies.
type Store struct {
	config StoreConfig
	fees   *fees.Calculator
	settle settlement.Settlement
	events *EventBus
	logger *zap.Logger

	seeder    LadderSeeder
	reconcile ReconcileFunc
	now       func() time.Time

	mu            sync.RWMutex
	strategies    map[string]*Strategy
	positions     map[string]map[common.Address]*InvestorPosition
	orders        map[string][]*GridOrder
	opportunities map[string]*ArbitrageOpportunity
	sections      map[string]chan struct{}
	nonce         uint64
}

// NewStore creates a ledger store.
func NewStore(config StoreConfig, feeCalc *fees.Calculator, settle settlement.Settlement, events *EventBus, logger *zap.Logger) *Store {
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = DefaultStoreConfig.AcquireTimeout
	}
	if events == nil {
		events = NewEventBus()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		config:        config,
		fees:          feeCalc,
		settle:        settle,
		events:        events,
		logger:        logger,
		now:           time.Now,
		strategies:    make(map[string]*Strategy),
		positions:     make(map[string]map[common.Address]*InvestorPosition),
		orders:        make(map[string][]*GridOrder),
		opportunities: make(map[string]*ArbitrageOpportunity),
		sections:      make(map[string]chan struct{}),
	}
}

// Events returns the bus ledger events are published on.
func (s *Store) Events() *EventBus {
	return s.events
}

// SetLadderSeeder injects the grid ladder seeder used on activation.
func (s *Store) SetLadderSeeder(seeder LadderSeeder) {
	s.seeder = seeder
}

// SetReconcileHook registers the operator hook invoked on post-commit
// settlement failures.
func (s *Store) SetReconcileHook(fn ReconcileFunc) {
	s.reconcile = fn
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// ----------------------------------------------------------------------------
// Exclusive sections
// ----------------------------------------------------------------------------

// Acquire enters the strategy's exclusive section, waiting at most the
// configured timeout. It returns a release func, or ErrBusy when the section
// stayed held past the bounded wait.
func (s *Store) Acquire(id string) (func(), error) {
	s.mu.RLock()
	section, ok := s.sections[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrStrategyNotFound
	}

	timer := time.NewTimer(s.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case section <- struct{}{}:
		return func() { <-section }, nil
	case <-timer.C:
		return nil, ErrBusy
	}
}

// TryAcquire enters the strategy's exclusive section without waiting.
// A held section is reported as ok == false, which rebalance callers treat as
// a safe skip; the scheduler retries on its next tick.
func (s *Store) TryAcquire(id string) (release func(), ok bool, err error) {
	s.mu.RLock()
	section, found := s.sections[id]
	s.mu.RUnlock()
	if !found {
		return nil, false, ErrStrategyNotFound
	}

	select {
	case section <- struct{}{}:
		return func() { <-section }, true, nil
	default:
		return nil, false, nil
	}
}

// ----------------------------------------------------------------------------
// Strategy lifecycle
// ----------------------------------------------------------------------------

// CreateStrategy allocates a new strategy record in INACTIVE state and returns
// its id.
func (s *Store) CreateStrategy(creator common.Address, typ StrategyType, baseAsset, quoteAsset string,
	minInvestment, maxInvestment decimal.Decimal, performanceFeeBps, managementFeeBpsYear int64,
	params StrategyParams) (string, error) {

	if !typ.Valid() {
		return "", ErrInvalidType
	}
	if baseAsset == "" || quoteAsset == "" || baseAsset == quoteAsset {
		return "", ErrInvalidAssetPair
	}
	if !fees.ValidPerformanceFee(performanceFeeBps) || !fees.ValidManagementFee(managementFeeBpsYear) {
		return "", ErrFeeTooHigh
	}
	if minInvestment.IsNegative() || maxInvestment.IsNegative() {
		return "", ErrInvalidAmount
	}

	now := s.now()

	s.mu.Lock()
	s.nonce++
	id := newStrategyID(creator, baseAsset, quoteAsset, s.nonce, now)

	strategy := &Strategy{
		ID:                   id,
		Type:                 typ,
		Status:               StatusInactive,
		Creator:              creator,
		BaseAsset:            baseAsset,
		QuoteAsset:           quoteAsset,
		TotalCapital:         decimal.Zero,
		ActiveCapital:        decimal.Zero,
		TotalShares:          decimal.Zero,
		MinInvestment:        minInvestment,
		MaxInvestment:        maxInvestment,
		PerformanceFeeBps:    performanceFeeBps,
		ManagementFeeBpsYear: managementFeeBpsYear,
		CreatedAt:            now,
		DCASpent:             decimal.Zero,
		Params:               params,
		Metrics:              StrategyMetrics{},
	}

	s.strategies[id] = strategy
	s.positions[id] = make(map[common.Address]*InvestorPosition)
	s.sections[id] = make(chan struct{}, 1)
	s.mu.Unlock()

	s.logger.Info("strategy created",
		zap.String("strategy", id),
		zap.String("type", typ.String()),
		zap.String("pair", baseAsset+"/"+quoteAsset))

	s.events.Publish(Event{Type: EventStrategyCreated, StrategyID: id, Account: creator, At: now})
	return id, nil
}

// Activate transitions an INACTIVE strategy to ACTIVE. For GRID_TRADING
// strategies the grid ladder is seeded as part of activation; a seeding
// failure reverts the transition.
func (s *Store) Activate(id string) error {
	release, err := s.Acquire(id)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	strategy, ok := s.strategies[id]
	if !ok {
		s.mu.Unlock()
		return ErrStrategyNotFound
	}
	if strategy.Status != StatusInactive {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	strategy.Status = StatusActive
	snapshot := *strategy
	s.mu.Unlock()

	if strategy.Type == TypeGridTrading && s.seeder != nil {
		orders, err := s.seeder.SeedLadder(snapshot)
		if err != nil {
			s.mu.Lock()
			strategy.Status = StatusInactive
			s.mu.Unlock()
			return fmt.Errorf("seed grid ladder: %w", err)
		}

		s.mu.Lock()
		for i := range orders {
			order := orders[i]
			order.StrategyID = id
			s.orders[id] = append(s.orders[id], &order)
		}
		s.mu.Unlock()
	}

	s.logger.Info("strategy activated", zap.String("strategy", id))
	return nil
}

// Pause transitions an ACTIVE strategy to PAUSED.
func (s *Store) Pause(id string) error {
	release, err := s.Acquire(id)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	strategy, ok := s.strategies[id]
	if !ok {
		return ErrStrategyNotFound
	}
	if strategy.Status != StatusActive {
		return ErrNotActive
	}
	strategy.Status = StatusPaused
	return nil
}

// Resume transitions a PAUSED strategy back to ACTIVE.
func (s *Store) Resume(id string) error {
	release, err := s.Acquire(id)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	strategy, ok := s.strategies[id]
	if !ok {
		return ErrStrategyNotFound
	}
	if strategy.Status == StatusEmergencyStop {
		return ErrStopped
	}
	if strategy.Status != StatusPaused {
		return ErrNotPaused
	}
	strategy.Status = StatusActive
	return nil
}

// EmergencyStop forces a strategy into the terminal EMERGENCY_STOP state,
// blocking all further invest, withdraw and rebalance calls. Idempotent.
func (s *Store) EmergencyStop(id string) error {
	release, err := s.Acquire(id)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	strategy, ok := s.strategies[id]
	if !ok {
		s.mu.Unlock()
		return ErrStrategyNotFound
	}
	already := strategy.Status == StatusEmergencyStop
	strategy.Status = StatusEmergencyStop
	s.mu.Unlock()

	if !already {
		s.logger.Warn("strategy emergency-stopped", zap.String("strategy", id))
		s.events.Publish(Event{Type: EventEmergencyStopped, StrategyID: id, At: s.now()})
	}
	return nil
}

// ----------------------------------------------------------------------------
// Capital operations
// ----------------------------------------------------------------------------

// Invest deposits amount into an ACTIVE strategy and mints proportional
// shares: the first deposit mints shares equal to the amount, later deposits
// mint amount * totalShares / totalCapital.
func (s *Store) Invest(id string, investor common.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	release, err := s.Acquire(id)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()

	s.mu.Lock()
	strategy, ok := s.strategies[id]
	if !ok {
		s.mu.Unlock()
		return decimal.Zero, ErrStrategyNotFound
	}
	if strategy.Status != StatusActive {
		s.mu.Unlock()
		return decimal.Zero, ErrNotActive
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		s.mu.Unlock()
		return decimal.Zero, ErrInvalidAmount
	}
	if amount.LessThan(strategy.MinInvestment) {
		s.mu.Unlock()
		return decimal.Zero, ErrBelowMinimum
	}
	if strategy.MaxInvestment.IsPositive() && amount.GreaterThan(strategy.MaxInvestment) {
		s.mu.Unlock()
		return decimal.Zero, ErrAboveMaximum
	}

	var shares decimal.Decimal
	if strategy.TotalShares.IsZero() {
		shares = amount
	} else {
		shares = amount.Mul(strategy.TotalShares).Div(strategy.TotalCapital)
	}

	now := s.now()
	position, exists := s.positions[id][investor]
	if !exists {
		position = &InvestorPosition{
			StrategyID: id,
			Investor:   investor,
			Shares:     decimal.Zero,
			EnteredAt:  now,
		}
		s.positions[id][investor] = position
	}

	position.Shares = position.Shares.Add(shares)
	position.CapitalContributed = position.CapitalContributed.Add(amount)
	strategy.TotalCapital = strategy.TotalCapital.Add(amount)
	strategy.ActiveCapital = strategy.ActiveCapital.Add(amount)
	strategy.TotalShares = strategy.TotalShares.Add(shares)
	s.mu.Unlock()

	s.logger.Info("investment recorded",
		zap.String("strategy", id),
		zap.String("investor", investor.Hex()),
		zap.String("amount", amount.String()),
		zap.String("shares", shares.String()))

	s.events.Publish(Event{Type: EventInvested, StrategyID: id, Account: investor, Amount: amount, At: now})
	return shares, nil
}

// Withdraw burns shares and pays out the proportional slice of the strategy's
// capital, net of the prorated management fee. The ledger mutation commits
// before the settlement transfer; a transfer failure is surfaced as an error
// but never rolled back, and the reconciliation hook is invoked instead.
func (s *Store) Withdraw(ctx context.Context, id string, investor common.Address, shares decimal.Decimal) (decimal.Decimal, error) {
	release, err := s.Acquire(id)
	if err != nil {
		return decimal.Zero, err
	}
	defer release()

	s.mu.Lock()
	strategy, ok := s.strategies[id]
	if !ok {
		s.mu.Unlock()
		return decimal.Zero, ErrStrategyNotFound
	}
	if strategy.Status == StatusEmergencyStop {
		s.mu.Unlock()
		return decimal.Zero, ErrStopped
	}
	if shares.LessThanOrEqual(decimal.Zero) {
		s.mu.Unlock()
		return decimal.Zero, ErrInvalidAmount
	}
	position, exists := s.positions[id][investor]
	if !exists || position.Shares.LessThan(shares) {
		s.mu.Unlock()
		return decimal.Zero, ErrInsufficientShares
	}

	now := s.now()
	amount := shares.Mul(strategy.TotalCapital).Div(strategy.TotalShares)
	fee := s.fees.ManagementFee(amount, strategy.ManagementFeeBpsYear, now.Sub(position.EnteredAt))
	net := amount.Sub(fee)

	strategy.TotalCapital = strategy.TotalCapital.Sub(amount)
	strategy.ActiveCapital = strategy.ActiveCapital.Sub(amount)
	if strategy.ActiveCapital.IsNegative() {
		strategy.ActiveCapital = decimal.Zero
	}
	strategy.TotalShares = strategy.TotalShares.Sub(shares)
	position.Shares = position.Shares.Sub(shares)
	position.CapitalContributed = position.CapitalContributed.Sub(amount)
	if position.Shares.IsZero() {
		delete(s.positions[id], investor)
	}
	quoteAsset := strategy.QuoteAsset
	s.mu.Unlock()

	s.logger.Info("withdrawal recorded",
		zap.String("strategy", id),
		zap.String("investor", investor.Hex()),
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()))

	txRef, err := s.settle.Transfer(ctx, quoteAsset, s.config.VaultAccount, investor, net)
	if err == nil && fee.IsPositive() {
		_, err = s.settle.Transfer(ctx, quoteAsset, s.config.VaultAccount, s.config.FeeRecipient, fee)
	}
	if err != nil {
		// Ledger already committed. Deliberately not rolled back; flagged for
		// manual reconciliation.
		s.logger.Error("settlement transfer failed after ledger commit, manual reconciliation required",
			zap.String("strategy", id),
			zap.String("investor", investor.Hex()),
			zap.String("amount", net.String()),
			zap.Error(err))
		if s.reconcile != nil {
			s.reconcile(id, investor, net, err)
		}
		return decimal.Zero, fmt.Errorf("settlement transfer: %w", err)
	}

	s.events.Publish(Event{Type: EventWithdrawn, StrategyID: id, Account: investor, Amount: net, TxRef: string(txRef), At: now})
	return net, nil
}

// ----------------------------------------------------------------------------
// Engine-facing mutators. Callers must hold the strategy's exclusive section.
// ----------------------------------------------------------------------------

// GridOrders returns a copy of the strategy's full order ladder, filled orders
// included.
func (s *Store) GridOrders(id string) ([]GridOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.strategies[id]; !ok {
		return nil, ErrStrategyNotFound
	}
	orders := make([]GridOrder, 0, len(s.orders[id]))
	for _, order := range s.orders[id] {
		orders = append(orders, *order)
	}
	return orders, nil
}

// ActiveGridOrderCount reports how many ladder orders are currently active.
func (s *Store) ActiveGridOrderCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, order := range s.orders[id] {
		if order.IsActive {
			count++
		}
	}
	return count
}

// FillGridOrder marks the ladder order at index as filled and appends its
// replacement on the opposite side, keeping the active order count invariant.
func (s *Store) FillGridOrder(id string, index int, replacement GridOrder) error {
	s.mu.Lock()
	orders, ok := s.orders[id]
	if !ok || index < 0 || index >= len(orders) {
		s.mu.Unlock()
		return fmt.Errorf("grid order %d of strategy %s: not found", index, id)
	}
	order := orders[index]
	if !order.IsActive {
		s.mu.Unlock()
		return fmt.Errorf("grid order %d of strategy %s: already filled", index, id)
	}
	order.IsActive = false

	replacement.StrategyID = id
	replacement.IsActive = true
	s.orders[id] = append(s.orders[id], &replacement)
	filled := *order
	s.mu.Unlock()

	s.events.Publish(Event{
		Type:       EventGridOrderFilled,
		StrategyID: id,
		Amount:     filled.Amount,
		At:         s.now(),
		Detail:     fmt.Sprintf("price=%s buy=%t", filled.Price, filled.IsBuy),
	})
	return nil
}

// MarkRebalanced stamps a completed rebalance pass on the strategy.
func (s *Store) MarkRebalanced(id string) error {
	now := s.now()

	s.mu.Lock()
	strategy, ok := s.strategies[id]
	if !ok {
		s.mu.Unlock()
		return ErrStrategyNotFound
	}
	strategy.LastRebalance = now
	s.mu.Unlock()

	s.events.Publish(Event{Type: EventRebalanced, StrategyID: id, At: now})
	return nil
}

// MarkDCAExecuted records one DCA leg against the strategy's budget. When the
// budget is exhausted the strategy auto-pauses; no further legs run without an
// explicit resume.
func (s *Store) MarkDCAExecuted(id string, amount decimal.Decimal) error {
	now := s.now()

	s.mu.Lock()
	strategy, ok := s.strategies[id]
	if !ok {
		s.mu.Unlock()
		return ErrStrategyNotFound
	}
	strategy.DCASpent = strategy.DCASpent.Add(amount)
	strategy.LastRebalance = now
	exhausted := strategy.Params.DCABudget.IsPositive() && strategy.DCASpent.GreaterThanOrEqual(strategy.Params.DCABudget)
	if exhausted {
		strategy.Status = StatusPaused
	}
	s.mu.Unlock()

	if exhausted {
		s.logger.Info("DCA budget exhausted, strategy paused",
			zap.String("strategy", id),
			zap.String("spent", amount.String()))
	}

	s.events.Publish(Event{Type: EventDCAExecuted, StrategyID: id, Amount: amount, At: now})
	return nil
}

// UpdateMetrics applies a mutation to the strategy's cumulative metrics.
// Reserved for the rebalance path.
func (s *Store) UpdateMetrics(id string, apply func(*StrategyMetrics)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	strategy, ok := s.strategies[id]
	if !ok {
		return ErrStrategyNotFound
	}
	apply(&strategy.Metrics)
	strategy.Metrics.LastUpdate = s.now()
	return nil
}

// ----------------------------------------------------------------------------
// Arbitrage opportunities
// ----------------------------------------------------------------------------

// AddOpportunity registers a scanner-detected opportunity and returns its id.
func (s *Store) AddOpportunity(op ArbitrageOpportunity) string {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = s.now()
	}

	s.mu.Lock()
	s.opportunities[op.ID] = &op
	s.mu.Unlock()
	return op.ID
}

// TakeOpportunity removes and returns an opportunity. Taking is the only way
// to access one mutably: success or failure downstream, the record is gone,
// which prevents retry storms on a stale quote.
func (s *Store) TakeOpportunity(id string) (ArbitrageOpportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.opportunities[id]
	if !ok {
		return ArbitrageOpportunity{}, ErrOpportunityNotFound
	}
	delete(s.opportunities, id)
	return *op, nil
}

// ----------------------------------------------------------------------------
// Read surface: lock-free snapshots for the query layer
// ----------------------------------------------------------------------------

// GetStrategy returns a snapshot copy of a strategy.
func (s *Store) GetStrategy(id string) (Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strategy, ok := s.strategies[id]
	if !ok {
		return Strategy{}, ErrStrategyNotFound
	}
	return *strategy, nil
}

// GetMetrics returns a snapshot of a strategy's cumulative metrics.
func (s *Store) GetMetrics(id string) (StrategyMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strategy, ok := s.strategies[id]
	if !ok {
		return StrategyMetrics{}, ErrStrategyNotFound
	}
	return strategy.Metrics, nil
}

// GetPosition returns one investor's position in a strategy.
func (s *Store) GetPosition(id string, investor common.Address) (InvestorPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.strategies[id]; !ok {
		return InvestorPosition{}, ErrStrategyNotFound
	}
	position, ok := s.positions[id][investor]
	if !ok {
		return InvestorPosition{}, ErrInsufficientShares
	}
	return *position, nil
}

// GetPositions returns all investor positions of a strategy.
func (s *Store) GetPositions(id string) ([]InvestorPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.strategies[id]; !ok {
		return nil, ErrStrategyNotFound
	}
	positions := make([]InvestorPosition, 0, len(s.positions[id]))
	for _, position := range s.positions[id] {
		positions = append(positions, *position)
	}
	return positions, nil
}

// ActiveStrategies lists snapshot copies of all strategies currently ACTIVE.
func (s *Store) ActiveStrategies() []Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]Strategy, 0)
	for _, strategy := range s.strategies {
		if strategy.Status == StatusActive {
			active = append(active, *strategy)
		}
	}
	return active
}

// newStrategyID derives a deterministic id from the creation inputs.
func newStrategyID(creator common.Address, baseAsset, quoteAsset string, nonce uint64, at time.Time) string {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	var timeBytes [8]byte
	binary.BigEndian.PutUint64(timeBytes[:], uint64(at.UnixNano()))

	hash := crypto.Keccak256Hash(creator.Bytes(), []byte(baseAsset), []byte(quoteAsset), nonceBytes[:], timeBytes[:])
	return hash.Hex()
}
