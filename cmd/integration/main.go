// integration replays whole trading days against the paper broker on a
// simulated clock and checks the grid end to end: auction placement, fills,
// end-of-day cancel, persistence and reports.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/broker"
	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/logging"
	"github.com/eddiefleurent/vagrid/internal/mock"
	"github.com/eddiefleurent/vagrid/internal/orders"
	"github.com/eddiefleurent/vagrid/internal/reports"
	"github.com/eddiefleurent/vagrid/internal/retry"
	"github.com/eddiefleurent/vagrid/internal/session"
	"github.com/eddiefleurent/vagrid/internal/storage"
	"github.com/eddiefleurent/vagrid/internal/strategy"
)

type simulation struct {
	cfg    *config.Config
	syms   config.Symbols
	cal    *session.Calendar
	paper  *broker.PaperBroker
	store  storage.Interface
	engine *strategy.Engine
	now    time.Time

	days          int
	auctionOrders int
	fills         int
	leftAfterEOD  int
}

func main() {
	var (
		symbolsPath = flag.String("symbols", "symbols.json.example", "Symbols file to trade")
		startDate   = flag.String("start", "2025-10-06", "First simulated date (YYYY-MM-DD)")
		days        = flag.Int("days", 5, "Number of trading days to simulate")
		volatility  = flag.Float64("volatility", 0.003, "Per-minute price volatility")
		outDir      = flag.String("out", "", "Output directory; a temporary one when empty")
		verbose     = flag.Bool("v", false, "Log engine activity")
	)
	flag.Parse()

	fmt.Println("=== Grid Bot - Paper Trading Day Simulation ===")
	fmt.Println()

	dir := *outDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "vagrid-integration-")
		if err != nil {
			log.Fatalf("Failed to create output dir: %v", err)
		}
		dir = tmp
	}

	cfg := &config.Config{
		Environment:    config.EnvironmentConfig{Mode: "paper", LogLevel: "warn"},
		Broker:         config.BrokerConfig{Provider: "paper", Paper: config.PaperConfig{Volatility: *volatility, SeedPositions: true}},
		MarketFallback: config.MarketFallbackConfig{Enabled: true},
		Storage:        config.StorageConfig{StateDir: filepath.Join(dir, "state"), SymbolsFile: *symbolsPath},
		Reports:        config.ReportsConfig{Dir: dir},
	}
	if *verbose {
		cfg.Environment.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.Environment.LogLevel})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = closer.Close() }()

	syms, err := config.LoadSymbols(*symbolsPath)
	if err != nil {
		log.Fatalf("Failed to load symbols: %v", err)
	}

	cal := session.New(cfg)
	start, err := time.ParseInLocation("2006-01-02", *startDate, cal.Location())
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}

	sim, err := newSimulation(cfg, syms, cal, start, logger)
	if err != nil {
		log.Fatalf("Failed to initialize simulation: %v", err)
	}
	fmt.Printf("Symbols: %v\n", syms.Names())
	fmt.Printf("Output:  %s\n\n", dir)

	ctx := context.Background()
	date := start
	for sim.days < *days {
		if cal.IsTradingDay(date) {
			sim.runDay(ctx, date)
		}
		date = date.AddDate(0, 0, 1)
	}
	fmt.Println()

	if !sim.check(ctx) {
		os.Exit(1)
	}
}

func newSimulation(cfg *config.Config, syms config.Symbols, cal *session.Calendar, start time.Time, logger *logrus.Logger) (*simulation, error) {
	s := &simulation{cfg: cfg, syms: syms, cal: cal, now: start}
	clock := func() time.Time { return s.now }

	s.paper = broker.NewPaperBroker(logger)
	s.paper.SetClock(clock)
	prices := make(map[string]float64, len(syms))
	for _, name := range syms.Names() {
		sc := syms[name]
		prices[name] = sc.BasePrice
		s.paper.SetPrice(name, sc.BasePrice)
		s.paper.SeedHistory(name, mock.GenerateBars(sc.BasePrice, 0.015, cfg.Grid.ATRPeriod+20, start))
		s.paper.SetPosition(name, sc.InitialBasePosition, sc.BasePrice)
	}
	s.paper.SetFeed(mock.NewRandomWalk(cfg.Broker.Paper.Volatility, prices))

	store, err := storage.NewStorage(cfg.Storage.StateDir, storage.NewMemoryParams(), logger)
	if err != nil {
		return nil, err
	}
	s.store = store

	trades, err := reports.NewTradeLog(cfg.Reports.Dir, cal.Location())
	if err != nil {
		return nil, err
	}

	rc := retry.NewClient(logger, retry.Config{MaxRetries: 0})
	om := orders.NewManager(s.paper, rc, logger, orders.Config{
		ProtectTicks: cfg.MarketFallback.ProtectTicks,
		ProtectRetry: cfg.MarketFallback.RetryEnabled,
		TickSize:     cfg.TickSize,
		Location:     cal.Location(),
	})
	om.SetClock(clock)

	engineCfg, err := strategy.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	s.engine, err = strategy.NewEngine(strategy.Deps{
		Broker:   s.paper,
		Orders:   om,
		Store:    store,
		Calendar: cal,
		Retry:    rc,
		Logger:   logger,
		Recorder: trades,
	}, engineCfg)
	if err != nil {
		return nil, err
	}
	s.engine.SetClock(clock)
	s.engine.LoadSymbols(context.Background(), syms)
	return s, nil
}

// runDay steps the clock minute by minute from just before the auction to just
// after the close, driving the engine the way the bot's scheduler does.
func (s *simulation) runDay(ctx context.Context, date time.Time) {
	s.days++
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.cal.Location())
	end := day.Add(15*time.Hour + 1*time.Minute)

	for s.now = day.Add(9*time.Hour + 14*time.Minute); !s.now.After(end); s.now = s.now.Add(time.Minute) {
		s.engine.BeforeTradingStart(ctx)

		hhmm := s.now.Hour()*100 + s.now.Minute()
		switch hhmm {
		case 915:
			s.engine.PlaceAuctionOrders(ctx)
			s.auctionOrders += s.openOrders(ctx)
		case 1455:
			s.engine.EndOfDay(ctx)
			s.leftAfterEOD += s.openOrders(ctx)
		case 1500:
			if err := reports.AppendDaily(s.cfg.Reports.Dir, s.now, s.engine.Snapshot(ctx)); err != nil {
				fmt.Printf("daily report failed: %v\n", err)
			}
			if err := reports.WriteDashboard(s.cfg.Reports.Dir, s.engine.Snapshot(ctx), s.now); err != nil {
				fmt.Printf("dashboard failed: %v\n", err)
			}
		}

		if s.cal.IsAuction(s.now) || s.cal.IsMainSession(s.now) {
			s.engine.RunCycle(ctx, strategy.CycleOptions{UpdateSpacing: s.now.Minute()%30 == 0})
		}
		s.pollFills(ctx)
	}

	trades, _ := s.paper.GetTrades(ctx)
	fmt.Printf("%s: %d fills", s.cal.Date(day), len(trades))
	for _, v := range s.engine.Snapshot(ctx) {
		fmt.Printf(" | %s px=%.3f base=%.3f pos=%d/%d", v.Symbol, v.Price, v.BasePrice, v.Position.Amount, v.BasePosition)
	}
	fmt.Println()
	s.paper.RollDay()
}

func (s *simulation) pollFills(ctx context.Context) {
	trades, err := s.paper.GetTrades(ctx)
	if err != nil {
		return
	}
	s.fills += s.engine.OnTrades(ctx, trades)
}

func (s *simulation) openOrders(ctx context.Context) int {
	n := 0
	for _, sym := range s.engine.Symbols() {
		open, err := s.paper.GetOpenOrders(ctx, sym)
		if err == nil {
			n += len(open)
		}
	}
	return n
}

func (s *simulation) check(ctx context.Context) bool {
	passed, total := 0, 0
	run := func(name string, ok bool, detail string) {
		total++
		fmt.Printf("Test %d: %s\n", total, name)
		if ok {
			passed++
			fmt.Printf("PASSED (%s)\n\n", detail)
		} else {
			fmt.Printf("FAILED (%s)\n\n", detail)
		}
	}

	run("Auction grid placement", s.auctionOrders > 0,
		fmt.Sprintf("%d orders resting after the auction over %d days", s.auctionOrders, s.days))

	run("End of day cancel", s.leftAfterEOD == 0,
		fmt.Sprintf("%d orders left after end of day", s.leftAfterEOD))

	saved := 0
	for _, sym := range s.engine.Symbols() {
		if _, err := s.store.LoadState(ctx, sym); err == nil {
			saved++
		}
	}
	run("State persistence", saved == len(s.engine.Symbols()),
		fmt.Sprintf("%d/%d symbols saved", saved, len(s.engine.Symbols())))

	within := true
	for _, v := range s.engine.Snapshot(ctx) {
		if v.Position.Amount > v.MaxPosition {
			within = false
		}
	}
	run("Position ceiling", within, "holdings never exceed max position")

	missing := 0
	for _, sym := range s.engine.Symbols() {
		if _, err := os.Stat(reports.DailyPath(s.cfg.Reports.Dir, sym)); err != nil {
			missing++
		}
	}
	if _, err := os.Stat(filepath.Join(s.cfg.Reports.Dir, reports.DashboardFile)); err != nil {
		missing++
	}
	if s.fills > 0 {
		if _, err := os.Stat(filepath.Join(s.cfg.Reports.Dir, reports.TradeDetailsFile)); err != nil {
			missing++
		}
	}
	run("Reports", missing == 0, fmt.Sprintf("%d report files missing, %d fills recorded", missing, s.fills))

	fmt.Println("=== Simulation Results ===")
	fmt.Printf("Tests Passed: %d/%d\n", passed, total)
	if passed != total {
		fmt.Printf("%d test(s) failed\n", total-passed)
		return false
	}
	fmt.Println("All checks passed")
	return true
}
