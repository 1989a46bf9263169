package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/logging"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/reports"
)

const testSymbol = "510300.SS"

const testSymbolsJSON = `{
  "510300.SS": {
    "base_price": 4.0,
    "grid_unit": 1000,
    "initial_base_position": 20000,
    "dingtou_base": 5000,
    "dingtou_rate": 0
  }
}`

type testBot struct {
	*Bot
	dir string
	now time.Time
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	dir := t.TempDir()
	symbolsPath := filepath.Join(dir, "symbols.json")
	require.NoError(t, os.WriteFile(symbolsPath, []byte(testSymbolsJSON), 0o600))

	cfg := &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper"},
		Broker:      config.BrokerConfig{Provider: "paper"},
		Storage: config.StorageConfig{
			StateDir:    filepath.Join(dir, "state"),
			SymbolsFile: symbolsPath,
		},
		Reports: config.ReportsConfig{Dir: filepath.Join(dir, "reports")},
	}
	require.NoError(t, cfg.Validate())

	bot, err := NewBot(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, bot.paper)

	tb := &testBot{Bot: bot, dir: dir}
	// 2025-10-08 is a Wednesday.
	tb.now = time.Date(2025, 10, 8, 10, 0, 0, 0, bot.calendar.Location())
	clock := func() time.Time { return tb.now }
	bot.now = clock
	bot.engine.SetClock(clock)
	bot.paper.SetClock(clock)
	bot.paper.SetFeed(nil)
	bot.paper.SetPrice(testSymbol, 4.0)
	bot.paper.SetPosition(testSymbol, 25000, 3.9)
	return tb
}

func (tb *testBot) at(hh, mm, ss int) time.Time {
	tb.now = time.Date(tb.now.Year(), tb.now.Month(), tb.now.Day(), hh, mm, ss, 0, tb.now.Location())
	return tb.now
}

func (tb *testBot) openOrders(t *testing.T) []models.Order {
	t.Helper()
	open, err := tb.paper.GetOpenOrders(context.Background(), testSymbol)
	require.NoError(t, err)
	return open
}

func TestDue(t *testing.T) {
	var last time.Time
	base := time.Date(2025, 10, 8, 10, 0, 0, 0, time.UTC)

	assert.True(t, due(&last, base, 5*time.Minute), "first call is due")
	assert.False(t, due(&last, base.Add(4*time.Minute), 5*time.Minute))
	assert.True(t, due(&last, base.Add(5*time.Minute), 5*time.Minute))
	assert.False(t, due(&last, base.Add(9*time.Minute+59*time.Second), 5*time.Minute))
	assert.False(t, due(&last, base, 0), "zero interval never fires")
}

func TestTradingCycle_SkipsNonTradingDay(t *testing.T) {
	tb := newTestBot(t)
	tc := NewTradingCycle(tb.Bot)

	tb.now = time.Date(2025, 10, 11, 10, 0, 0, 0, tb.now.Location()) // Saturday
	tc.Run(context.Background(), tb.now)

	assert.False(t, tc.started)
	assert.Empty(t, tb.openOrders(t))
}

func TestTradingCycle_FirstCyclePlacesGrid(t *testing.T) {
	tb := newTestBot(t)
	tc := NewTradingCycle(tb.Bot)

	tc.Run(context.Background(), tb.now)

	assert.True(t, tc.started)
	assert.Len(t, tb.openOrders(t), 2)
	assert.FileExists(t, filepath.Join(tb.config.Reports.Dir, reports.DashboardFile))
	assert.Empty(t, tc.auction.lastDate, "auction job is not run mid-session")
}

func TestTradingCycle_AuctionRestart(t *testing.T) {
	tb := newTestBot(t)
	tc := NewTradingCycle(tb.Bot)

	tc.Run(context.Background(), tb.at(9, 20, 0))

	assert.Equal(t, "2025-10-08", tc.auction.lastDate, "startup already placed the auction grid")
	assert.Len(t, tb.openOrders(t), 2)
}

func TestTradingCycle_CloseJobs(t *testing.T) {
	ctx := context.Background()
	tb := newTestBot(t)
	tc := NewTradingCycle(tb.Bot)

	tc.Run(ctx, tb.now)
	require.Len(t, tb.openOrders(t), 2)

	tc.Run(ctx, tb.at(14, 55, 30))
	assert.Empty(t, tb.openOrders(t), "end of day cancels the grid")

	tc.Run(ctx, tb.at(15, 0, 30))
	tc.Run(ctx, tb.at(15, 1, 30))

	f, err := os.Open(reports.DailyPath(tb.config.Reports.Dir, testSymbol))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2, "header and one row per day")
	assert.Equal(t, "2025-10-08", rows[1][0])
}

func TestTradingCycle_ReloadSymbols(t *testing.T) {
	ctx := context.Background()
	tb := newTestBot(t)
	tc := NewTradingCycle(tb.Bot)

	updated := `{
  "510300.SS": {"base_price": 4.0, "grid_unit": 1000, "initial_base_position": 20000, "dingtou_base": 5000, "dingtou_rate": 0},
  "159915.SZ": {"base_price": 1.8, "grid_unit": 500, "initial_base_position": 5000, "dingtou_base": 1000, "dingtou_rate": 0.01}
}`
	path := tb.symbols.Path()
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	tc.reloadSymbols(ctx)

	assert.Equal(t, []string{"159915.SZ", "510300.SS"}, tb.engine.Symbols())
	assert.Equal(t, 1.8, tb.engine.Price("159915.SZ"))

	snap, err := tb.paper.GetSnapshot(ctx, []string{"159915.SZ"})
	require.NoError(t, err)
	assert.InDelta(t, 1.8, snap["159915.SZ"].Price, 0.1, "paper broker seeded for the new symbol")
}
