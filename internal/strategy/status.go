package strategy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/grid"
	"github.com/eddiefleurent/vagrid/internal/models"
)

// SymbolView is a read-only snapshot of one symbol for reports and the dashboard.
type SymbolView struct {
	Symbol               string          `json:"symbol"`
	Price                float64         `json:"price"`
	BasePrice            float64         `json:"base_price"`
	BuyPrice             float64         `json:"buy_price"`
	SellPrice            float64         `json:"sell_price"`
	BuySpacing           float64         `json:"buy_spacing"`
	SellSpacing          float64         `json:"sell_spacing"`
	GridUnit             int             `json:"grid_unit"`
	BasePosition         int             `json:"base_position"`
	MaxPosition          int             `json:"max_position"`
	LastWeekPosition     int             `json:"last_week_position"`
	InitialBasePosition  int             `json:"initial_base_position"`
	InitialPositionValue float64         `json:"initial_position_value"`
	DingtouBase          float64         `json:"dingtou_base"`
	DingtouRate          float64         `json:"dingtou_rate"`
	Weeks                int             `json:"weeks"`
	ATRPercent           *float64        `json:"atr_percent,omitempty"`
	LastFillPrice        float64         `json:"last_fill_price,omitempty"`
	LastFillAt           *time.Time      `json:"last_fill_at,omitempty"`
	Position             models.Position `json:"position"`
	PositionKnown        bool            `json:"position_known"`
}

// MarketValue is the position valued at the latest price.
func (v SymbolView) MarketValue() float64 {
	return float64(v.Position.Amount) * v.Price
}

// UnrealizedPnL is (price - cost) * amount, or zero without a cost basis.
func (v SymbolView) UnrealizedPnL() float64 {
	if v.Position.CostBasis <= 0 {
		return 0
	}
	return (v.Price - v.Position.CostBasis) * float64(v.Position.Amount)
}

// PnLRatio is the unrealized P&L over the position cost.
func (v SymbolView) PnLRatio() float64 {
	cost := v.Position.CostBasis * float64(v.Position.Amount)
	if cost == 0 {
		return 0
	}
	return v.UnrealizedPnL() / cost
}

// Snapshot returns a view of every symbol, sorted by symbol. Positions are
// fetched from the broker after the engine lock is released; a failed lookup
// leaves PositionKnown false.
func (e *Engine) Snapshot(ctx context.Context) []SymbolView {
	e.mu.Lock()
	out := make([]SymbolView, 0, len(e.symbols))
	for _, sym := range e.symbols {
		out = append(out, e.viewLocked(e.states[sym]))
	}
	e.mu.Unlock()

	for i := range out {
		e.fillPosition(ctx, &out[i])
	}
	return out
}

// SymbolSnapshot returns the view of one symbol.
func (e *Engine) SymbolSnapshot(ctx context.Context, symbol string) (SymbolView, error) {
	e.mu.Lock()
	st, err := e.state(symbol)
	if err != nil {
		e.mu.Unlock()
		return SymbolView{}, err
	}
	v := e.viewLocked(st)
	e.mu.Unlock()

	e.fillPosition(ctx, &v)
	return v, nil
}

func (e *Engine) viewLocked(st *models.SymbolState) SymbolView {
	bands := grid.BandPrices(st.BasePrice, st.BuySpacing, st.SellSpacing)
	v := SymbolView{
		Symbol:               st.Symbol,
		Price:                e.prices[st.Symbol],
		BasePrice:            st.BasePrice,
		BuyPrice:             bands.Buy,
		SellPrice:            bands.Sell,
		BuySpacing:           st.BuySpacing,
		SellSpacing:          st.SellSpacing,
		GridUnit:             st.GridUnit,
		BasePosition:         st.BasePosition,
		MaxPosition:          st.MaxPosition,
		LastWeekPosition:     st.LastWeekPosition,
		InitialBasePosition:  st.Config.InitialBasePosition,
		InitialPositionValue: st.InitialPositionValue,
		DingtouBase:          st.Config.DingtouBase,
		DingtouRate:          st.Config.DingtouRate,
		Weeks:                len(st.TradeWeeks),
		LastFillPrice:        st.LastFillPrice,
	}
	if atr := e.atr[st.Symbol]; atr != nil {
		a := *atr
		v.ATRPercent = &a
	}
	if !st.LastFillAt.IsZero() {
		t := st.LastFillAt
		v.LastFillAt = &t
	}
	return v
}

// fillPosition looks up v's broker holding. It touches no engine state, so it
// runs without the lock.
func (e *Engine) fillPosition(ctx context.Context, v *SymbolView) {
	p, err := e.position(ctx, v.Symbol)
	if err != nil {
		e.logger.WithError(err).WithField("symbol", v.Symbol).Debug("snapshot without position")
		return
	}
	v.Position = p
	v.PositionKnown = true
}

func (e *Engine) logStatusLocked(ctx context.Context) {
	for _, sym := range e.symbols {
		v := e.viewLocked(e.states[sym])
		if v.Price <= 0 {
			continue
		}
		e.fillPosition(ctx, &v)
		e.logger.WithFields(logrus.Fields{
			"symbol":        sym,
			"price":         v.Price,
			"position":      v.Position.Amount,
			"sellable":      v.Position.Sellable,
			"base_position": v.BasePosition,
			"cost":          v.Position.CostBasis,
			"pnl":           v.UnrealizedPnL(),
			"buy_spacing":   v.BuySpacing,
			"sell_spacing":  v.SellSpacing,
		}).Info("status")
	}
}
