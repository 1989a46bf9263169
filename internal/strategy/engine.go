// Package strategy implements the value-averaging grid engine: limit order
// placement around a base price, ratchets, fill handling, value averaging,
// ATR spacing and the daily jobs.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/broker"
	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/grid"
	"github.com/eddiefleurent/vagrid/internal/metrics"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/orders"
	"github.com/eddiefleurent/vagrid/internal/retry"
	"github.com/eddiefleurent/vagrid/internal/session"
	"github.com/eddiefleurent/vagrid/internal/storage"
)

// ErrSymbolUnknown is returned for symbols the engine does not trade.
var ErrSymbolUnknown = errors.New("symbol not configured")

// Config holds the engine's tunables.
type Config struct {
	SpacingMode         grid.SpacingMode
	ATRPeriod           int
	FillCooldown        time.Duration // no periodic placement this soon after a fill
	OrderDebounce       time.Duration // minimum gap between periodic placements
	DuplicateFillWindow time.Duration // same-price fills inside this window are ignored
	MarketFallback      bool
}

// DefaultConfig matches the A-share defaults.
var DefaultConfig = Config{
	SpacingMode:         grid.SpacingATR,
	ATRPeriod:           grid.DefaultATRPeriod,
	FillCooldown:        60 * time.Second,
	OrderDebounce:       30 * time.Second,
	DuplicateFillWindow: 5 * time.Second,
	MarketFallback:      true,
}

// ConfigFrom builds the engine config from the application config.
func ConfigFrom(cfg *config.Config) (Config, error) {
	mode, err := grid.ParseSpacingMode(cfg.Grid.SpacingMode)
	if err != nil {
		return Config{}, err
	}
	return Config{
		SpacingMode:         mode,
		ATRPeriod:           cfg.Grid.ATRPeriod,
		FillCooldown:        cfg.GetFillCooldown(),
		OrderDebounce:       cfg.GetOrderDebounce(),
		DuplicateFillWindow: cfg.GetDuplicateFillWindow(),
		MarketFallback:      cfg.MarketFallback.Enabled,
	}, nil
}

// TradeRecorder receives every newly processed fill.
type TradeRecorder interface {
	RecordTrade(t models.Trade, basePosition int) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Broker   broker.Broker
	Orders   *orders.Manager
	Store    storage.Interface
	Calendar *session.Calendar
	Retry    *retry.Client
	Logger   logrus.FieldLogger
	Recorder TradeRecorder
}

// Engine runs the grid for a set of symbols. All exported methods are safe for
// concurrent use; they are serialised on one mutex.
type Engine struct {
	mu sync.Mutex

	broker   broker.Broker
	orders   *orders.Manager
	store    storage.Interface
	cal      *session.Calendar
	retry    *retry.Client
	logger   logrus.FieldLogger
	recorder TradeRecorder
	cfg      Config
	now      func() time.Time

	symbols []string
	states  map[string]*models.SymbolState
	prices  map[string]float64
	atr     map[string]*float64

	startupDone bool
}

// NewEngine validates deps and returns an engine with no symbols loaded.
func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	if deps.Broker == nil {
		return nil, errors.New("strategy: broker is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("strategy: order manager is required")
	}
	if deps.Store == nil {
		return nil, errors.New("strategy: storage is required")
	}
	if deps.Calendar == nil {
		return nil, errors.New("strategy: calendar is required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Retry == nil {
		deps.Retry = retry.NewClient(deps.Logger)
	}
	if cfg.SpacingMode == "" {
		cfg.SpacingMode = DefaultConfig.SpacingMode
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = DefaultConfig.ATRPeriod
	}
	if cfg.FillCooldown < 0 {
		cfg.FillCooldown = DefaultConfig.FillCooldown
	}
	if cfg.OrderDebounce < 0 {
		cfg.OrderDebounce = DefaultConfig.OrderDebounce
	}
	if cfg.DuplicateFillWindow < 0 {
		cfg.DuplicateFillWindow = DefaultConfig.DuplicateFillWindow
	}

	return &Engine{
		broker:   deps.Broker,
		orders:   deps.Orders,
		store:    deps.Store,
		cal:      deps.Calendar,
		retry:    deps.Retry,
		logger:   deps.Logger,
		recorder: deps.Recorder,
		cfg:      cfg,
		now:      time.Now,
		states:   make(map[string]*models.SymbolState),
		prices:   make(map[string]float64),
		atr:      make(map[string]*float64),
	}, nil
}

// SetClock overrides the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now != nil {
		e.now = now
	}
}

// LoadSymbols initialises the state of every configured symbol, overlaying the
// saved state when one exists. Storage errors other than a missing state fall
// back to the configured values and are logged.
func (e *Engine) LoadSymbols(ctx context.Context, syms config.Symbols) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sym := range syms.Names() {
		saved, err := e.store.LoadState(ctx, sym)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			saved = nil
		case err != nil:
			e.logger.WithError(err).WithField("symbol", sym).Warn("failed to load saved state, using config")
			saved = nil
		}
		st := models.NewSymbolState(sym, syms[sym], saved)
		e.addLocked(st)
		e.logger.WithFields(logrus.Fields{
			"symbol":        sym,
			"base_price":    st.BasePrice,
			"grid_unit":     st.GridUnit,
			"base_position": st.BasePosition,
			"max_position":  st.MaxPosition,
			"restored":      saved != nil,
		}).Info("symbol loaded")
	}
}

func (e *Engine) addLocked(st *models.SymbolState) {
	if _, ok := e.states[st.Symbol]; !ok {
		e.symbols = append(e.symbols, st.Symbol)
		sort.Strings(e.symbols)
	}
	e.states[st.Symbol] = st
	metrics.SetGrid(st.Symbol, st.BasePrice, st.BasePosition, st.GridUnit)
	metrics.SetSpacing(st.Symbol, st.BuySpacing, st.SellSpacing)
}

func (e *Engine) removeLocked(sym string) {
	delete(e.states, sym)
	delete(e.prices, sym)
	delete(e.atr, sym)
	for i, s := range e.symbols {
		if s == sym {
			e.symbols = append(e.symbols[:i], e.symbols[i+1:]...)
			break
		}
	}
	metrics.Forget(sym)
}

// Symbols returns the traded symbols in sorted order.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.symbols...)
}

// Price returns the latest known price of symbol.
func (e *Engine) Price(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prices[symbol]
}

func (e *Engine) state(symbol string) (*models.SymbolState, error) {
	st, ok := e.states[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
	}
	return st, nil
}

func (e *Engine) log(st *models.SymbolState) logrus.FieldLogger {
	return e.logger.WithField("symbol", st.Symbol)
}

// save persists st. Failures are logged and never returned.
func (e *Engine) save(ctx context.Context, st *models.SymbolState) {
	if err := e.store.SaveState(ctx, st.Symbol, st.Persist()); err != nil {
		e.log(st).WithError(err).Error("failed to save state")
	}
	metrics.SetGrid(st.Symbol, st.BasePrice, st.BasePosition, st.GridUnit)
}

func (e *Engine) position(ctx context.Context, symbol string) (models.Position, error) {
	return retry.Value(ctx, e.retry, "get position", func(ctx context.Context) (models.Position, error) {
		return e.broker.GetPosition(ctx, symbol)
	})
}

// RefreshPrices pulls the latest snapshot for every symbol. Non-positive prices
// are ignored so the previous price stays in place.
func (e *Engine) RefreshPrices(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshPricesLocked(ctx)
}

func (e *Engine) refreshPricesLocked(ctx context.Context) error {
	if len(e.symbols) == 0 {
		return nil
	}
	snaps, err := retry.Value(ctx, e.retry, "get snapshot", func(ctx context.Context) (map[string]models.Snapshot, error) {
		return e.broker.GetSnapshot(ctx, e.symbols)
	})
	if err != nil {
		e.logger.WithError(err).Warn("failed to refresh prices")
		return err
	}
	for _, sym := range e.symbols {
		if s, ok := snaps[sym]; ok && s.Price > 0 {
			e.prices[sym] = s.Price
		}
	}
	return nil
}
