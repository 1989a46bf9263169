package strategy

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/grid"
	"github.com/eddiefleurent/vagrid/internal/metrics"
	"github.com/eddiefleurent/vagrid/internal/models"
)

// PlaceLimitOrders runs the periodic grid placement for one symbol.
func (e *Engine) PlaceLimitOrders(ctx context.Context, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.state(symbol)
	if err != nil {
		return err
	}
	e.placeLimitOrders(ctx, st, true)
	return nil
}

// PlaceAllLimitOrders runs the periodic grid placement for every symbol.
func (e *Engine) PlaceAllLimitOrders(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sym := range e.symbols {
		if ctx.Err() != nil {
			return
		}
		e.placeLimitOrders(ctx, e.states[sym], true)
	}
}

// placeLimitOrders keeps one buy and one sell resting at the grid bands. The
// periodic path honours the post-fill cooldown and the placement debounce; the
// post-fill path skips both. State is saved on every exit.
func (e *Engine) placeLimitOrders(ctx context.Context, st *models.SymbolState, periodic bool) {
	defer e.save(ctx, st)

	log := e.log(st)
	now := e.now()

	if periodic && !st.LastTradeAt.IsZero() && now.Sub(st.LastTradeAt) < e.cfg.FillCooldown {
		log.Debug("fill cooldown active, skipping placement")
		return
	}
	if e.cal.IsBlocking(now) {
		log.Debug("inside pre-open blocking window, skipping placement")
		return
	}
	if !e.cal.CanPlaceLimitOrders(now) {
		return
	}

	price := e.prices[st.Symbol]
	if price <= 0 {
		log.Debug("no price, skipping placement")
		return
	}
	if !grid.WithinDeviation(price, st.BasePrice) {
		log.WithFields(logrus.Fields{"price": price, "base": st.BasePrice}).
			Warn("price deviates more than 10% from base, skipping placement")
		return
	}

	posInfo, err := e.position(ctx, st.Symbol)
	if err != nil {
		log.WithError(err).Error("failed to get position")
		return
	}
	pos := st.EffectiveHolding(posInfo.Amount)
	unit := st.GridUnit
	bands := grid.BandPrices(st.BasePrice, st.BuySpacing, st.SellSpacing)

	dir := grid.Ratchet(price, pos, unit, st.BasePosition, st.MaxPosition, bands)
	switch dir {
	case grid.RatchetUp:
		st.BasePrice = bands.Sell
	case grid.RatchetDown:
		st.BasePrice = bands.Buy
	default:
		if periodic && e.debounced(st, now.Sub(st.LastOrderAt)) {
			return
		}
		st.LastOrderAt = now
		st.LastOrderBase = st.BasePrice
	}

	if dir != grid.RatchetNone {
		log.WithFields(logrus.Fields{
			"direction": dir.String(),
			"price":     price,
			"position":  pos,
			"new_base":  st.BasePrice,
		}).Info("ratchet: base moved to band")
		metrics.IncRatchet(st.Symbol, dir.String())
		e.orders.CancelAllForSymbol(ctx, st.Symbol, st.FilledOrderIDs)
		st.ForgetOrders()
		bands = grid.BandPrices(st.BasePrice, st.BuySpacing, st.SellSpacing)
	}

	st.PosChange = 0

	if pos+unit <= st.MaxPosition {
		e.placeBand(ctx, st, models.SideBuy, unit, bands.Buy, posInfo.Amount)
	}
	if posInfo.Sellable >= unit && pos-unit >= st.BasePosition {
		e.placeBand(ctx, st, models.SideSell, unit, bands.Sell, posInfo.Amount)
	}
}

// debounced reports whether a placement should be skipped because the last one
// was too recent or the base has barely moved since.
func (e *Engine) debounced(st *models.SymbolState, sinceLast time.Duration) bool {
	if !st.LastOrderAt.IsZero() && sinceLast < e.cfg.OrderDebounce {
		return true
	}
	if st.LastOrderBase > 0 && math.Abs(st.BasePrice/st.LastOrderBase-1) < st.BuySpacing/2 {
		return true
	}
	return false
}

// placeBand rests one order at price unless one is already there. holding is
// the broker holding the order was sized against.
func (e *Engine) placeBand(ctx context.Context, st *models.SymbolState, side models.Side, qty int, price float64, holding int) {
	log := e.log(st).WithFields(logrus.Fields{"side": side, "price": price, "qty": qty})
	exists, err := e.orders.HasOpenOrderAt(ctx, st.Symbol, side, price)
	if err != nil {
		log.WithError(err).Warn("failed to list open orders, skipping band")
		return
	}
	if exists {
		log.Debug("order already resting at band")
		return
	}
	o, err := e.orders.PlaceLimit(ctx, st.Symbol, side, qty, price)
	if err != nil {
		log.WithError(err).Error("limit order failed")
		return
	}
	st.TrackOrder(o.ID, holding)
}
