package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/vagrid/internal/broker"
	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/dashboard"
	"github.com/eddiefleurent/vagrid/internal/logging"
	"github.com/eddiefleurent/vagrid/internal/mock"
	"github.com/eddiefleurent/vagrid/internal/orders"
	"github.com/eddiefleurent/vagrid/internal/reports"
	"github.com/eddiefleurent/vagrid/internal/retry"
	"github.com/eddiefleurent/vagrid/internal/session"
	"github.com/eddiefleurent/vagrid/internal/storage"
	"github.com/eddiefleurent/vagrid/internal/strategy"
)

// Daily volatility of the synthetic history seeded into the paper broker.
const paperHistoryVolatility = 0.015

type Bot struct {
	config    *config.Config
	broker    broker.Broker
	paper     *broker.PaperBroker // nil unless broker.provider is paper
	params    storage.ParamStore
	engine    *strategy.Engine
	calendar  *session.Calendar
	symbols   *config.SymbolsWatcher
	trades    *reports.TradeLog
	dashboard *dashboard.Server
	logger    *logrus.Logger
	now       func() time.Time
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Environment.LogLevel,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	logger.Infof("Starting grid bot in %s mode with the %s broker", cfg.Environment.Mode, cfg.Broker.Provider)
	if cfg.IsPaperTrading() {
		logger.Info("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Warn("LIVE TRADING MODE - Real money at risk!")
		logger.Warn("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, err := NewBot(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize bot")
	}
	defer bot.Close()

	if err := bot.Run(ctx); err != nil {
		logger.WithError(err).Fatal("Bot error")
	}
	logger.Info("Bot stopped successfully")
}

// NewBot wires the broker, storage, engine, reports and dashboard from cfg and
// loads the symbols file.
func NewBot(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Bot, error) {
	b := &Bot{
		config:   cfg,
		calendar: session.New(cfg),
		logger:   logger,
		now:      time.Now,
	}

	watcher, err := config.NewSymbolsWatcher(cfg.Storage.SymbolsFile)
	if err != nil {
		return nil, fmt.Errorf("symbols: %w", err)
	}
	b.symbols = watcher

	if err := b.initBroker(); err != nil {
		return nil, err
	}

	params, err := storage.NewParamStore(cfg.ParamStore, logger)
	if err != nil {
		return nil, err
	}
	if rp, ok := params.(*storage.RedisParams); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rp.Ping(pingCtx); err != nil {
			logger.WithError(err).Warn("Redis unreachable, parameter mirror runs from memory until it returns")
		}
		cancel()
	}
	b.params = params

	store, err := storage.NewStorage(cfg.Storage.StateDir, params, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	trades, err := reports.NewTradeLog(cfg.Reports.Dir, cfg.Location())
	if err != nil {
		return nil, fmt.Errorf("trade log: %w", err)
	}
	b.trades = trades

	retryClient := retry.NewClient(logger)
	orderManager := orders.NewManager(b.broker, retryClient, logger, orders.Config{
		CallTimeout:  cfg.GetBrokerTimeout(),
		ProtectTicks: cfg.MarketFallback.ProtectTicks,
		ProtectRetry: cfg.MarketFallback.RetryEnabled,
		TickSize:     cfg.TickSize,
		Location:     cfg.Location(),
	})

	engineCfg, err := strategy.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	b.engine, err = strategy.NewEngine(strategy.Deps{
		Broker:   b.broker,
		Orders:   orderManager,
		Store:    store,
		Calendar: b.calendar,
		Retry:    retryClient,
		Logger:   logger,
		Recorder: trades,
	}, engineCfg)
	if err != nil {
		return nil, err
	}
	b.engine.LoadSymbols(ctx, watcher.Current())

	if cfg.Dashboard.Enabled {
		b.dashboard = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, b.engine, b.calendar, logger)
	}
	return b, nil
}

func (b *Bot) initBroker() error {
	cfg := b.config
	switch cfg.Broker.Provider {
	case "bridge":
		b.broker = broker.NewBridgeClient(cfg.Broker.APIEndpoint, cfg.Broker.APIKey, cfg.GetBrokerTimeout(), b.logger)
	case "paper":
		b.paper = broker.NewPaperBroker(b.logger)
		b.seedPaper(b.symbols.Current())
		b.broker = b.paper
	default:
		return fmt.Errorf("unknown broker provider %q", cfg.Broker.Provider)
	}

	if cfg.Broker.CircuitBreaker {
		b.broker = broker.NewCircuitBreakerBroker(b.broker, b.logger)
		b.logger.Info("Broker calls protected by circuit breaker")
	}
	return nil
}

// seedPaper gives new paper symbols a starting price, a price walk, enough
// history for ATR and optionally their initial holding.
func (b *Bot) seedPaper(syms config.Symbols) {
	if b.paper == nil || len(syms) == 0 {
		return
	}
	paperCfg := b.config.Broker.Paper
	start := make(map[string]float64, len(syms))
	for _, name := range syms.Names() {
		sc := syms[name]
		start[name] = sc.BasePrice
		b.paper.SetPrice(name, sc.BasePrice)
		b.paper.SeedHistory(name, mock.GenerateBars(sc.BasePrice, paperHistoryVolatility, b.config.Grid.ATRPeriod+20, b.now()))
		if paperCfg.SeedPositions {
			b.paper.SetPosition(name, sc.InitialBasePosition, sc.BasePrice)
		}
	}
	b.paper.SetFeed(mock.NewRandomWalk(paperCfg.Volatility, start))
}

// Run starts the trading loop, the fill poller and the dashboard, and returns
// once ctx is canceled and all of them have stopped.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Bot starting main loop...")

	if _, err := b.broker.GetSnapshot(ctx, b.engine.Symbols()); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	b.logger.WithField("symbols", b.engine.Symbols()).Info("Connected to broker")

	reconciler := NewReconciler(b.broker, b.engine, b.logger, b.config.GetFillPollInterval())
	reconciler.ReconcilePositions(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.runTradingLoop(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })

	if b.dashboard != nil {
		g.Go(func() error {
			if err := b.dashboard.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return b.dashboard.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func (b *Bot) runTradingLoop(ctx context.Context) error {
	cycle := NewTradingCycle(b)

	ticker := time.NewTicker(b.config.GetRunCycle())
	defer ticker.Stop()

	// Run immediately on start
	cycle.Run(ctx, b.now())

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Shutdown signal received, stopping trading loop...")
			return nil
		case <-ticker.C:
			cycle.Run(ctx, b.now())
		}
	}
}

// Close releases the parameter store connection.
func (b *Bot) Close() {
	if c, ok := b.params.(io.Closer); ok {
		if err := c.Close(); err != nil {
			b.logger.WithError(err).Warn("Failed to close parameter store")
		}
	}
}
