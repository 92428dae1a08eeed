package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"multi-strategy-vault/controller"
	"multi-strategy-vault/engine"
	"multi-strategy-vault/fees"
	"multi-strategy-vault/ledger"
	"multi-strategy-vault/monitoring"
	"multi-strategy-vault/pricefeed"
	"multi-strategy-vault/settlement"
)

// VaultConfig is the process-level configuration, loaded from the
// environment with optional .env support.
type VaultConfig struct {
	// Price feed. An empty URL selects the static paper feed.
	OracleWSURL string   `json:"oracle_ws_url"`
	Assets      []string `json:"assets"`

	// Settlement. Without a key and endpoint the simulated engine is used.
	SettlementKeyHex string `json:"-"`
	CustodyEndpoint  string `json:"custody_endpoint"`
	VaultAccountHex  string `json:"vault_account"`
	FeeRecipientHex  string `json:"fee_recipient"`

	// Scheduler and HTTP surface.
	RebalanceInterval time.Duration `json:"rebalance_interval"`
	OperatorHex       string        `json:"operator_account"`
	MetricsAddr       string        `json:"metrics_addr"`

	Development bool `json:"development"`
}

// DefaultVaultConfig returns paper-mode defaults suitable for local runs.
func DefaultVaultConfig() *VaultConfig {
	return &VaultConfig{
		Assets:            []string{"BTC", "ETH"},
		RebalanceInterval: time.Minute,
		MetricsAddr:       ":9090",
		Development:       true,
	}
}

// LoadFromEnv overrides config fields from environment variables.
func (c *VaultConfig) LoadFromEnv() {
	if v := os.Getenv("ORACLE_WS_URL"); v != "" {
		c.OracleWSURL = v
	}
	if v := os.Getenv("VAULT_ASSETS"); v != "" {
		c.Assets = strings.Split(v, ",")
	}
	if v := os.Getenv("SETTLEMENT_PRIVATE_KEY"); v != "" {
		c.SettlementKeyHex = v
	}
	if v := os.Getenv("CUSTODY_ENDPOINT"); v != "" {
		c.CustodyEndpoint = v
	}
	if v := os.Getenv("VAULT_ACCOUNT"); v != "" {
		c.VaultAccountHex = v
	}
	if v := os.Getenv("FEE_RECIPIENT"); v != "" {
		c.FeeRecipientHex = v
	}
	if v := os.Getenv("REBALANCE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RebalanceInterval = d
		}
	}
	if v := os.Getenv("OPERATOR_ACCOUNT"); v != "" {
		c.OperatorHex = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("DEVELOPMENT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Development = b
		}
	}
}

func main() {
	// .env is optional; deployments normally set the environment directly.
	_ = godotenv.Load()

	config := DefaultVaultConfig()
	config.LoadFromEnv()

	logger, err := buildLogger(config.Development)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	app, err := buildApp(config, logger)
	if err != nil {
		logger.Fatal("failed to build vault", zap.Error(err))
	}

	if err := app.Run(); err != nil {
		logger.Fatal("vault terminated", zap.Error(err))
	}
}

func buildLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// VaultApp bundles the wired components and the scheduler loop.
type VaultApp struct {
	config     *VaultConfig
	logger     *zap.Logger
	store      *ledger.Store
	controller *controller.Controller
	oracle     *pricefeed.OracleClient // nil in paper mode
	operator   common.Address
	startedAt  time.Time
}

func buildApp(config *VaultConfig, logger *zap.Logger) (*VaultApp, error) {
	events := ledger.NewEventBus()
	events.Subscribe(monitoring.EventSink)

	var feed pricefeed.Feed
	var oracle *pricefeed.OracleClient
	if config.OracleWSURL != "" {
		oracleConfig := pricefeed.DefaultOracleConfig
		oracleConfig.URL = config.OracleWSURL
		oracleConfig.Assets = config.Assets
		oracle = pricefeed.NewOracleClient(oracleConfig, logger.Named("oracle"))
		feed = oracle
	} else {
		logger.Warn("no oracle configured, using static paper feed")
		static := pricefeed.NewStaticFeed()
		seedPaperPrices(static, config.Assets, logger)
		feed = static
	}

	var settle settlement.Settlement
	if config.SettlementKeyHex != "" && config.CustodyEndpoint != "" {
		signing, err := settlement.NewSigningEngine(config.SettlementKeyHex,
			settlement.NewHTTPSink(config.CustodyEndpoint), logger.Named("settlement"))
		if err != nil {
			return nil, err
		}
		settle = signing
	} else {
		logger.Warn("no custody configured, using simulated settlement")
		settle = settlement.NewSimEngine(true)
	}

	storeConfig := ledger.DefaultStoreConfig
	storeConfig.VaultAccount = common.HexToAddress(config.VaultAccountHex)
	storeConfig.FeeRecipient = common.HexToAddress(config.FeeRecipientHex)

	store := ledger.NewStore(storeConfig, fees.NewCalculator(), settle, events, logger.Named("ledger"))
	store.SetReconcileHook(func(strategyID string, investor common.Address, amount decimal.Decimal, cause error) {
		monitoring.RecordError("reconciliation")
		logger.Error("withdrawal needs manual reconciliation",
			zap.String("strategy_id", strategyID),
			zap.String("investor", investor.Hex()),
			zap.String("amount", amount.String()),
			zap.Error(cause))
	})

	grid := engine.NewGrid(store, feed, logger.Named("grid"))
	store.SetLadderSeeder(grid)

	executor := paperExecutor(logger.Named("executor"))
	trend := engine.NewTrend(store, feed, executor, logger.Named("trend"))
	periodic := engine.NewPeriodic(store, executor, logger.Named("dca"))
	arbitrage := engine.NewArbitrage(store, paperOpportunityTrader(logger.Named("arb")), logger.Named("arb"))

	auth := controller.NewStaticAuthorizer()
	operator := common.HexToAddress(config.OperatorHex)
	auth.Grant(operator, controller.RoleManager, controller.RoleOperator, controller.RoleAdmin)

	ctrl := controller.New(store, grid, trend, periodic, arbitrage, auth, logger.Named("controller"))

	return &VaultApp{
		config:     config,
		logger:     logger,
		store:      store,
		controller: ctrl,
		oracle:     oracle,
		operator:   operator,
		startedAt:  time.Now(),
	}, nil
}

// seedPaperPrices reads PAPER_PRICE_<ASSET> overrides so grid ladders can
// seed without a live feed.
func seedPaperPrices(static *pricefeed.StaticFeed, assets []string, logger *zap.Logger) {
	for _, asset := range assets {
		asset = strings.TrimSpace(asset)
		raw := os.Getenv("PAPER_PRICE_" + strings.ToUpper(asset))
		if raw == "" {
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			logger.Warn("invalid paper price", zap.String("asset", asset), zap.String("value", raw))
			continue
		}
		static.SetPrice(asset, price)
	}
}

// paperExecutor logs intended trades instead of routing them to a venue.
func paperExecutor(logger *zap.Logger) engine.TradeExecutor {
	return engine.TradeExecutorFunc(func(_ context.Context, strategy ledger.Strategy, direction engine.Direction, amount decimal.Decimal) error {
		logger.Info("paper trade",
			zap.String("strategy_id", strategy.ID),
			zap.String("pair", strategy.BaseAsset+"/"+strategy.QuoteAsset),
			zap.String("direction", direction.String()),
			zap.String("amount", amount.String()))
		return nil
	})
}

func paperOpportunityTrader(logger *zap.Logger) engine.OpportunityTrader {
	return engine.OpportunityTraderFunc(func(_ context.Context, op ledger.ArbitrageOpportunity) error {
		logger.Info("paper arbitrage",
			zap.String("opportunity_id", op.ID),
			zap.String("venue_a", op.VenueA),
			zap.String("venue_b", op.VenueB),
			zap.String("profit", op.Profit.String()))
		return nil
	})
}

// Run starts the feed, HTTP surface and scheduler, and blocks until a
// shutdown signal arrives.
func (app *VaultApp) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if app.oracle != nil {
		if err := app.oracle.Start(); err != nil {
			return err
		}
		defer app.oracle.Stop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.MetricsHandler())
	mux.Handle("/healthz", monitoring.HealthHandler(app.startedAt))
	server := &http.Server{Addr: app.config.MetricsAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(app.config.RebalanceInterval)
	defer ticker.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	app.logger.Info("vault running",
		zap.Duration("rebalance_interval", app.config.RebalanceInterval),
		zap.String("metrics_addr", app.config.MetricsAddr))

	for {
		select {
		case <-ticker.C:
			app.controller.RebalanceAll(ctx, app.operator)
			rebalances, skips := app.controller.Stats()
			app.logger.Debug("scheduler tick complete",
				zap.Int64("rebalances", rebalances),
				zap.Int64("skips", skips))
		case sig := <-stop:
			app.logger.Info("shutting down", zap.String("signal", sig.String()))
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		}
	}
}
