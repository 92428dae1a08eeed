package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OracleConfig holds configuration for the WebSocket oracle client.
type OracleConfig struct {
	URL               string        // oracle WebSocket endpoint
	ReconnectInterval time.Duration // delay between reconnect attempts
	HeartbeatInterval time.Duration // ping interval
	HandshakeTimeout  time.Duration
	MaxReconnects     int           // attempts before giving up
	Assets            []string      // assets to subscribe on connect
	HistoryWindow     time.Duration // how much price history to retain for TWAP
}

// DefaultOracleConfig provides defaults for the oracle client.
var DefaultOracleConfig = OracleConfig{
	ReconnectInterval: 5 * time.Second,
	HeartbeatInterval: 20 * time.Second,
	HandshakeTimeout:  10 * time.Second,
	MaxReconnects:     10,
	HistoryWindow:     4*time.Hour + 10*time.Minute, // covers the 4h mean-reversion TWAP
}

// midsMessage is the oracle's mid-price stream payload.
type midsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

type subscribeMessage struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription"`
}

type pricePoint struct {
	price decimal.Decimal
	at    time.Time
}

// OracleClient is a Feed backed by a WebSocket mid-price stream. It keeps a
// trailing window of observations per asset and serves spot and TWAP from it.
type OracleClient struct {
	config OracleConfig
	logger *zap.Logger
	dialer *websocket.Dialer

	mu      sync.RWMutex
	conn    *websocket.Conn
	history map[string][]pricePoint

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	reconnects int
}

// NewOracleClient creates an oracle client. Start must be called before the
// feed serves prices.
func NewOracleClient(config OracleConfig, logger *zap.Logger) *OracleClient {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = DefaultOracleConfig.ReconnectInterval
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultOracleConfig.HeartbeatInterval
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultOracleConfig.HandshakeTimeout
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = DefaultOracleConfig.HistoryWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &OracleClient{
		config:  config,
		logger:  logger,
		history: make(map[string][]pricePoint),
		ctx:     ctx,
		cancel:  cancel,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Start connects to the oracle and begins consuming the price stream.
func (c *OracleClient) Start() error {
	if err := c.connect(); err != nil {
		return fmt.Errorf("connect oracle feed: %w", err)
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Info("oracle feed started", zap.String("url", c.config.URL), zap.Strings("assets", c.config.Assets))
	return nil
}

// Stop shuts the client down and waits for its goroutines.
func (c *OracleClient) Stop() error {
	c.cancel()

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout waiting for oracle feed shutdown")
	}
}

// GetPrice implements Feed with the latest observation.
func (c *OracleClient) GetPrice(asset string) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.history[asset]
	if len(points) == 0 {
		return decimal.Zero, ErrNoPrice
	}
	return points[len(points)-1].price, nil
}

// GetTwap implements Feed with a time-weighted average over the trailing
// window: each observation is weighted by how long it stood as the latest.
func (c *OracleClient) GetTwap(asset string, window time.Duration) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.history[asset]
	if len(points) == 0 {
		return decimal.Zero, ErrNoPrice
	}

	now := time.Now()
	cutoff := now.Add(-window)

	weighted := decimal.Zero
	totalSeconds := decimal.Zero
	for i, point := range points {
		start := point.at
		if start.Before(cutoff) {
			start = cutoff
		}
		end := now
		if i+1 < len(points) {
			end = points[i+1].at
		}
		if !end.After(start) {
			continue
		}
		seconds := decimal.NewFromFloat(end.Sub(start).Seconds())
		weighted = weighted.Add(point.price.Mul(seconds))
		totalSeconds = totalSeconds.Add(seconds)
	}

	if totalSeconds.IsZero() {
		return points[len(points)-1].price, nil
	}
	return weighted.Div(totalSeconds), nil
}

func (c *OracleClient) connect() error {
	conn, _, err := c.dialer.Dial(c.config.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	for _, asset := range c.config.Assets {
		sub := subscribeMessage{
			Method:       "subscribe",
			Subscription: map[string]string{"type": "allMids", "coin": asset},
		}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe %s: %w", asset, err)
		}
	}
	return nil
}

func (c *OracleClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			if !c.retryConnect() {
				return
			}
			continue
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("oracle feed read failed", zap.Error(err))
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			continue
		}

		var message midsMessage
		if err := json.Unmarshal(payload, &message); err != nil || message.Channel != "allMids" {
			continue
		}
		c.ingest(message.Data.Mids)
	}
}

func (c *OracleClient) retryConnect() bool {
	if c.config.MaxReconnects > 0 && c.reconnects >= c.config.MaxReconnects {
		c.logger.Error("oracle feed gave up reconnecting", zap.Int("attempts", c.reconnects))
		return false
	}
	c.reconnects++

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(c.config.ReconnectInterval):
	}

	if err := c.connect(); err != nil {
		c.logger.Warn("oracle feed reconnect failed", zap.Int("attempt", c.reconnects), zap.Error(err))
		return true
	}

	c.logger.Info("oracle feed reconnected", zap.Int("attempt", c.reconnects))
	c.reconnects = 0
	return true
}

func (c *OracleClient) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.logger.Warn("oracle feed ping failed", zap.Error(err))
			}
		}
	}
}

func (c *OracleClient) ingest(mids map[string]string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for asset, raw := range mids {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		points := append(c.history[asset], pricePoint{price: price, at: now})

		// Prune observations past the retained window.
		cutoff := now.Add(-c.config.HistoryWindow)
		firstLive := 0
		for firstLive < len(points)-1 && points[firstLive+1].at.Before(cutoff) {
			firstLive++
		}
		c.history[asset] = points[firstLive:]
	}
}
