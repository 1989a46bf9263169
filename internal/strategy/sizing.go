package strategy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/grid"
	"github.com/eddiefleurent/vagrid/internal/metrics"
	"github.com/eddiefleurent/vagrid/internal/models"
)

// tradeWeeks adds now's ISO week to the state's week set and returns the number
// of weeks traded. A new week snapshots the base position and saves.
func (e *Engine) tradeWeeks(ctx context.Context, st *models.SymbolState, now time.Time) int {
	key := grid.WeekKey(e.cal.Local(now))
	if _, ok := st.TradeWeeks[key]; !ok {
		st.TradeWeeks[key] = struct{}{}
		st.LastWeekPosition = st.BasePosition
		e.log(st).WithField("week", key).Info("new trading week")
		e.save(ctx, st)
	}
	return len(st.TradeWeeks)
}

// updateTargetBasePosition recomputes the value-averaging base position at price.
func (e *Engine) updateTargetBasePosition(ctx context.Context, st *models.SymbolState, price float64, now time.Time) int {
	weeks := e.tradeWeeks(ctx, st, now)
	target := grid.TargetValue(st.InitialPositionValue, st.Config.DingtouBase, st.Config.DingtouRate, weeks)
	if price <= 0 {
		return st.BasePosition
	}
	final := grid.TargetBasePosition(target, price, st.InitialPositionValue, st.BasePrice, st.BasePosition)
	if final != st.BasePosition {
		current := float64(st.BasePosition) * price
		e.log(st).WithFields(logrus.Fields{
			"from":          st.BasePosition,
			"to":            final,
			"target_value":  target,
			"current_value": current,
			"gap":           target - current,
		}).Info("value averaging: base position changed")
		st.BasePosition = final
		st.MaxPosition = grid.MaxPosition(final, st.GridUnit)
	}
	return final
}

// UpdateTargetBasePosition runs value averaging for symbol at its latest price.
func (e *Engine) UpdateTargetBasePosition(ctx context.Context, symbol string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.state(symbol)
	if err != nil {
		return 0, err
	}
	return e.updateTargetBasePosition(ctx, st, e.prices[symbol], e.now()), nil
}

// adjustGridUnit grows the grid unit once the base position reaches 20 units.
func (e *Engine) adjustGridUnit(st *models.SymbolState) {
	next := grid.NextGridUnit(st.GridUnit, st.BasePosition)
	if next == st.GridUnit {
		return
	}
	e.log(st).WithFields(logrus.Fields{"from": st.GridUnit, "to": next}).Info("grid unit grown")
	st.GridUnit = next
	st.MaxPosition = grid.MaxPosition(st.BasePosition, next)
}

// AdjustGridUnit applies the unit growth rule to symbol.
func (e *Engine) AdjustGridUnit(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.state(symbol)
	if err != nil {
		return err
	}
	e.adjustGridUnit(st)
	return nil
}

// calculateATR returns ATR as a fraction of the latest price, or nil when it
// cannot be computed.
func (e *Engine) calculateATR(ctx context.Context, symbol string) *float64 {
	log := e.logger.WithField("symbol", symbol)
	period := e.cfg.ATRPeriod
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	bars, err := e.broker.GetDailyBars(callCtx, symbol, period+1)
	if err != nil {
		log.WithError(err).Warn("ATR: failed to fetch daily bars")
		return nil
	}
	pct, err := grid.ATRPercent(bars, period, e.prices[symbol])
	if err != nil {
		log.WithError(err).Warn("ATR unavailable")
		return nil
	}
	return &pct
}

// CalculateATR returns symbol's ATR percentage, or nil when unavailable.
func (e *Engine) CalculateATR(ctx context.Context, symbol string) *float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calculateATR(ctx, symbol)
}

// updateGridSpacing recomputes buy/sell spacing from ATR and the position band.
func (e *Engine) updateGridSpacing(ctx context.Context, st *models.SymbolState, pos int) {
	atr := e.calculateATR(ctx, st.Symbol)
	e.atr[st.Symbol] = atr
	sp := grid.ComputeSpacing(e.cfg.SpacingMode, atr, pos, st.BasePosition, st.GridUnit)
	if sp.Buy != st.BuySpacing || sp.Sell != st.SellSpacing {
		fields := logrus.Fields{
			"mode":  e.cfg.SpacingMode,
			"band":  grid.PositionBand(pos, st.BasePosition, st.GridUnit).String(),
			"buy":   sp.Buy,
			"sell":  sp.Sell,
			"atr":   0.0,
			"prior": [2]float64{st.BuySpacing, st.SellSpacing},
		}
		if atr != nil {
			fields["atr"] = *atr
		}
		e.log(st).WithFields(fields).Info("grid spacing updated")
		st.BuySpacing, st.SellSpacing = sp.Buy, sp.Sell
	}
	metrics.SetSpacing(st.Symbol, st.BuySpacing, st.SellSpacing)
}

// UpdateGridSpacing refreshes symbol's spacing using its current broker position.
func (e *Engine) UpdateGridSpacing(ctx context.Context, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.state(symbol)
	if err != nil {
		return err
	}
	p, err := e.position(ctx, symbol)
	if err != nil {
		return err
	}
	e.updateGridSpacing(ctx, st, p.Amount)
	return nil
}
