// Package pricefeed is the read-only oracle boundary: spot prices and
// time-weighted average prices for the assets the vault trades.
package pricefeed

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Feed supplies spot and TWAP prices for an asset. Implementations make no
// staleness guarantee; that contract stays with the oracle.
type Feed interface {
	GetPrice(asset string) (decimal.Decimal, error)
	GetTwap(asset string, window time.Duration) (decimal.Decimal, error)
}

// ErrNoPrice is returned when the feed has no observation for an asset.
var ErrNoPrice = errors.New("no price observed for asset")

// StaticFeed is a settable in-memory feed for tests and paper runs.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	twaps  map[string]map[time.Duration]decimal.Decimal
}

// NewStaticFeed creates an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{
		prices: make(map[string]decimal.Decimal),
		twaps:  make(map[string]map[time.Duration]decimal.Decimal),
	}
}

// SetPrice sets the spot price for an asset.
func (f *StaticFeed) SetPrice(asset string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
}

// SetTwap sets the TWAP for an asset at a specific window.
func (f *StaticFeed) SetTwap(asset string, window time.Duration, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.twaps[asset] == nil {
		f.twaps[asset] = make(map[time.Duration]decimal.Decimal)
	}
	f.twaps[asset][window] = price
}

// GetPrice implements Feed.
func (f *StaticFeed) GetPrice(asset string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	price, ok := f.prices[asset]
	if !ok {
		return decimal.Zero, ErrNoPrice
	}
	return price, nil
}

// GetTwap implements Feed. Falls back to the spot price when no TWAP was set
// for the requested window.
func (f *StaticFeed) GetTwap(asset string, window time.Duration) (decimal.Decimal, error) {
	f.mu.RLock()
	if windows, ok := f.twaps[asset]; ok {
		if twap, ok := windows[window]; ok {
			f.mu.RUnlock()
			return twap, nil
		}
	}
	f.mu.RUnlock()
	return f.GetPrice(asset)
}
