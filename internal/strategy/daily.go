package strategy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/grid"
	"github.com/eddiefleurent/vagrid/internal/metrics"
	"github.com/eddiefleurent/vagrid/internal/models"
)

// CycleOptions selects the slower tasks of a trading cycle.
type CycleOptions struct {
	UpdateSpacing bool
	LogStatus     bool
}

// RunCycle is one pass of the trading loop: refresh prices, size every symbol,
// then place grid orders or run the pre-close market fallback as the session allows.
func (e *Engine) RunCycle(ctx context.Context, opts CycleOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	_ = e.refreshPricesLocked(ctx)

	for _, sym := range e.symbols {
		st := e.states[sym]
		price := e.prices[sym]
		if price > 0 {
			e.updateTargetBasePosition(ctx, st, price, start)
		}
		e.adjustGridUnit(st)
		if opts.UpdateSpacing {
			p, err := e.position(ctx, sym)
			if err != nil {
				e.log(st).WithError(err).Warn("spacing update skipped: no position")
				continue
			}
			e.updateGridSpacing(ctx, st, p.Amount)
		}
	}

	now := e.now()
	if e.cal.CanPlaceLimitOrders(now) {
		for _, sym := range e.symbols {
			if ctx.Err() != nil {
				return
			}
			e.placeLimitOrders(ctx, e.states[sym], true)
		}
	}
	if e.cfg.MarketFallback && e.cal.IsMarketFallback(now) {
		for _, sym := range e.symbols {
			e.marketFallback(ctx, e.states[sym])
		}
	}
	if opts.LogStatus {
		e.logStatusLocked(ctx)
	}
	metrics.ObserveCycle(e.now().Sub(start).Seconds())
}

// marketFallback sends one protected market order per symbol when price sits
// beyond a band shortly before the close.
func (e *Engine) marketFallback(ctx context.Context, st *models.SymbolState) {
	now := e.now()
	if !e.cal.IsMainSession(now) {
		return
	}
	price := e.prices[st.Symbol]
	if price <= 0 || !grid.WithinDeviation(price, st.BasePrice) {
		return
	}

	e.adjustGridUnit(st)
	if !st.ShouldPlaceMarket {
		return
	}
	defer func() {
		st.ShouldPlaceMarket = false
		e.save(ctx, st)
	}()

	p, err := e.position(ctx, st.Symbol)
	if err != nil {
		e.log(st).WithError(err).Error("market fallback: failed to get position")
		return
	}
	unit := st.GridUnit
	bands := grid.BandPrices(st.BasePrice, st.BuySpacing, st.SellSpacing)
	log := e.log(st).WithFields(logrus.Fields{"price": price, "buy": bands.Buy, "sell": bands.Sell, "qty": unit})

	switch {
	case price <= bands.Buy && p.Amount+unit <= st.MaxPosition:
		log.Info("market fallback: buy triggered")
		if e.orders.MarketWithProtect(ctx, st.Symbol, models.SideBuy, unit, bands.Buy) {
			st.BasePrice = bands.Buy
		}
	case price >= bands.Sell && p.Amount-unit >= st.BasePosition:
		log.Info("market fallback: sell triggered")
		if e.orders.MarketWithProtect(ctx, st.Symbol, models.SideSell, unit, bands.Sell) {
			st.BasePrice = bands.Sell
		}
	}
}

// MarketFallback runs the pre-close fallback for every symbol.
func (e *Engine) MarketFallback(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sym := range e.symbols {
		e.marketFallback(ctx, e.states[sym])
	}
}

func (e *Engine) cancelAllLocked(ctx context.Context) {
	for _, sym := range e.symbols {
		st := e.states[sym]
		e.orders.CancelAllForSymbol(ctx, sym, st.FilledOrderIDs)
		st.ForgetOrders()
	}
}

// BeforeTradingStart cancels leftover orders once per process. A start inside
// the call auction also places the auction grid.
func (e *Engine) BeforeTradingStart(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startupDone {
		return
	}
	e.logger.Info("startup: canceling leftover orders")
	e.cancelAllLocked(ctx)
	now := e.now()
	if e.cal.IsAuctionRestart(now) {
		e.logger.Info("startup inside call auction, placing auction grid")
		e.placeAuctionOrdersLocked(ctx)
	} else {
		e.logger.WithField("time", e.cal.Local(now).Format("15:04:05")).Info("startup outside call auction, grid waits for the cycle")
	}
	e.startupDone = true
}

// PlaceAuctionOrders re-arms the grid for the day at the call auction.
func (e *Engine) PlaceAuctionOrders(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.placeAuctionOrdersLocked(ctx)
}

func (e *Engine) placeAuctionOrdersLocked(ctx context.Context) {
	now := e.now()
	if !e.cal.IsAuction(now) && !e.cal.IsMainSession(now) {
		return
	}
	e.logger.Info("placing auction orders")
	for _, sym := range e.symbols {
		e.states[sym].ClearDebounce()
	}
	for _, sym := range e.symbols {
		st := e.states[sym]
		e.adjustGridUnit(st)
		e.orders.CancelAllForSymbol(ctx, sym, st.FilledOrderIDs)
		st.ForgetOrders()
		e.prices[sym] = st.BasePrice
		e.placeLimitOrders(ctx, st, true)
		e.save(ctx, st)
	}
}

// EndOfDay cancels resting orders, saves every symbol and re-arms tomorrow's
// market fallback.
func (e *Engine) EndOfDay(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Info("end of day: canceling orders and saving state")
	e.cancelAllLocked(ctx)
	for _, sym := range e.symbols {
		st := e.states[sym]
		st.ShouldPlaceMarket = true
		e.save(ctx, st)
	}
}

// ApplySymbols applies a reloaded symbols file: removed symbols have their orders
// canceled and state dropped, added symbols start from config, and changed
// symbols take the new unit and contribution parameters.
func (e *Engine) ApplySymbols(ctx context.Context, diff config.SymbolsDiff) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sym := range diff.Removed {
		st, ok := e.states[sym]
		if !ok {
			continue
		}
		e.logger.WithField("symbol", sym).Info("symbol removed from config, dropping it")
		e.orders.CancelAllForSymbol(ctx, sym, st.FilledOrderIDs)
		e.removeLocked(sym)
	}
	for _, sym := range diff.Added {
		cfg, ok := diff.Symbols[sym]
		if !ok {
			continue
		}
		st := models.NewSymbolState(sym, cfg, nil)
		e.addLocked(st)
		e.prices[sym] = st.BasePrice
		e.logger.WithField("symbol", sym).Info("symbol added from config")
	}
	for _, sym := range diff.Changed {
		st, ok := e.states[sym]
		cfg, ok2 := diff.Symbols[sym]
		if !ok || !ok2 {
			continue
		}
		st.ApplyConfig(cfg)
		e.log(st).WithFields(logrus.Fields{
			"grid_unit":    st.GridUnit,
			"dingtou_base": cfg.DingtouBase,
			"dingtou_rate": cfg.DingtouRate,
			"max_position": st.MaxPosition,
		}).Info("symbol parameters updated")
	}
	if !diff.Empty() {
		e.logger.WithField("symbols", e.symbols).Info("symbols reloaded")
	}
}
