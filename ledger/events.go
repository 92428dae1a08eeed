package ledger

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EventType names the ledger events exposed to notification and metrics consumers.
type EventType string

const (
	EventStrategyCreated   EventType = "StrategyCreated"
	EventInvested          EventType = "Invested"
	EventWithdrawn         EventType = "Withdrawn"
	EventRebalanced        EventType = "Rebalanced"
	EventGridOrderFilled   EventType = "GridOrderFilled"
	EventDCAExecuted       EventType = "DCAExecuted"
	EventArbitrageExecuted EventType = "ArbitrageExecuted"
	EventEmergencyStopped  EventType = "EmergencyStopped"
)

// Event is a single ledger occurrence. Amount and Account are zero-valued when
// they do not apply to the event type.
type Event struct {
	Type       EventType       `json:"type"`
	StrategyID string          `json:"strategy_id"`
	Account    common.Address  `json:"account,omitempty"`
	Amount     decimal.Decimal `json:"amount,omitempty"`
	TxRef      string          `json:"tx_ref,omitempty"`
	At         time.Time       `json:"at"`
	Detail     string          `json:"detail,omitempty"`
}

// EventSink receives ledger events. Sinks are invoked inline on the mutating
// path and must return quickly; anything slow belongs behind a channel on the
// sink's side.
type EventSink func(Event)

// EventBus fans ledger events out to registered sinks.
type EventBus struct {
	mu    sync.RWMutex
	sinks []EventSink
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a sink for all future events.
func (b *EventBus) Subscribe(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish delivers an event to every registered sink.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, sink := range sinks {
		sink(ev)
	}
}
