package strategy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/metrics"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/util"
)

// OnTrades processes execution reports. Only fully filled reports for traded
// symbols are handled, and each order id at most once. It returns the number of
// fills applied.
func (e *Engine) OnTrades(ctx context.Context, trades []models.Trade) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := 0
	for _, t := range trades {
		if t.Status != models.StatusFilled {
			continue
		}
		sym := util.ToStandardSymbol(t.Symbol)
		st, ok := e.states[sym]
		if !ok {
			continue
		}
		if t.OrderID == "" || !st.FilledOrderIDs.Add(t.OrderID) {
			continue
		}
		t.Symbol = sym
		if e.recorder != nil {
			if err := e.recorder.RecordTrade(t, st.BasePosition); err != nil {
				e.log(st).WithError(err).Warn("failed to record trade")
			}
		}
		e.save(ctx, st)
		if e.onOrderFilled(ctx, st, t) {
			applied++
		}
	}
	return applied
}

// onOrderFilled moves the base to the fill price and rebuilds the grid around it.
func (e *Engine) onOrderFilled(ctx context.Context, st *models.SymbolState, t models.Trade) bool {
	if t.Quantity == 0 {
		return false
	}
	log := e.log(st).WithFields(logrus.Fields{
		"order_id": t.OrderID,
		"side":     t.Side,
		"qty":      t.Quantity,
		"price":    t.Price,
	})
	now := e.now()

	if util.PriceEqual(t.Price, st.LastFillPrice) && !st.LastFillAt.IsZero() &&
		now.Sub(st.LastFillAt) < e.cfg.DuplicateFillWindow {
		log.Info("ignoring repeated fill at the same price")
		return false
	}

	st.LastTradeAt = now
	st.LastFillAt = now
	st.LastFillPrice = t.Price
	st.BasePrice = util.RoundPrice(t.Price)
	st.RecordFill(t.OrderID, t.Amount())
	metrics.IncFill(st.Symbol, string(t.Side))
	log.WithField("new_base", st.BasePrice).Info("order filled, base moved to fill price")

	e.orders.CancelAllForSymbol(ctx, st.Symbol, st.FilledOrderIDs)

	switch {
	case e.cal.IsBlocking(now):
		log.Info("fill inside pre-open blocking window, grid deferred to the open")
	case e.cal.BeforeCutoff(now):
		e.placeLimitOrders(ctx, st, false)
	}

	st.ShouldPlaceMarket = true
	e.save(ctx, st)
	return true
}
