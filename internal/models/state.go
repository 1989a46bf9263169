package models

import (
	"fmt"
	"sort"
	"time"
)

const (
	// DefaultSpacing is the buy/sell grid spacing used until the first spacing update.
	DefaultSpacing = 0.005
	// MaxUnitsAboveBase is how many grid units the position may grow above the base position.
	MaxUnitsAboveBase = 20
	// MaxSavedFilledIDs caps how many filled order ids are persisted.
	MaxSavedFilledIDs = 500
)

// SymbolConfig is one entry of symbols.json.
type SymbolConfig struct {
	BasePrice           float64 `json:"base_price"`
	GridUnit            int     `json:"grid_unit"`
	InitialBasePosition int     `json:"initial_base_position"`
	DingtouBase         float64 `json:"dingtou_base"`
	DingtouRate         float64 `json:"dingtou_rate"`
}

// Validate checks a symbol entry.
func (c SymbolConfig) Validate() error {
	if c.BasePrice <= 0 {
		return fmt.Errorf("base_price must be > 0")
	}
	if c.GridUnit <= 0 {
		return fmt.Errorf("grid_unit must be > 0")
	}
	if c.InitialBasePosition <= 0 {
		return fmt.Errorf("initial_base_position must be > 0")
	}
	if c.DingtouBase <= 0 {
		return fmt.Errorf("dingtou_base must be > 0")
	}
	if c.DingtouRate < 0 {
		return fmt.Errorf("dingtou_rate must be >= 0")
	}
	return nil
}

// PersistedState is the on-disk form of a SymbolState.
// Pointer fields distinguish "absent" from zero so older files fall back to config values.
type PersistedState struct {
	BasePrice        *float64 `json:"base_price"`
	GridUnit         *int     `json:"grid_unit"`
	MaxPosition      *int     `json:"max_position"`
	LastWeekPosition *int     `json:"last_week_position"`
	BasePosition     *int     `json:"base_position"`
	FilledOrderIDs   []string `json:"filled_order_ids"`
	TradeWeekSet     []string `json:"trade_week_set"`
}

// IDSet is an insertion-ordered set of order ids.
type IDSet struct {
	index map[string]struct{}
	order []string
}

// NewIDSet builds a set from ids, keeping the first occurrence of duplicates.
func NewIDSet(ids ...string) *IDSet {
	s := &IDSet{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was new.
func (s *IDSet) Add(id string) bool {
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Has reports membership.
func (s *IDSet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Trim keeps only the newest n ids.
func (s *IDSet) Trim(n int) {
	if n < 0 || len(s.order) <= n {
		return
	}
	drop := s.order[:len(s.order)-n]
	for _, id := range drop {
		delete(s.index, id)
	}
	s.order = append([]string(nil), s.order[len(s.order)-n:]...)
}

// List returns the ids oldest first.
func (s *IDSet) List() []string {
	return append([]string(nil), s.order...)
}

// SymbolState is the mutable per-symbol grid state.
type SymbolState struct {
	Symbol string
	Config SymbolConfig

	BasePrice            float64
	GridUnit             int
	BasePosition         int
	MaxPosition          int
	LastWeekPosition     int
	InitialPositionValue float64
	BuySpacing           float64
	SellSpacing          float64
	FilledOrderIDs       *IDSet
	TradeWeeks           map[string]struct{}

	// Runtime only.
	LastTradeAt       time.Time
	LastOrderAt       time.Time
	LastOrderBase     float64
	LastFillPrice     float64
	LastFillAt        time.Time
	ShouldPlaceMarket bool

	// PosChange is the last fill's signed amount, pending until the broker
	// holding moves away from PreFillHolding.
	PosChange      int
	PreFillHolding int
	// orderHoldings maps resting order ids to the broker holding when they were placed.
	orderHoldings map[string]int
}

// NewSymbolState builds the state for symbol from its config, overlaying saved values when present.
func NewSymbolState(symbol string, cfg SymbolConfig, saved *PersistedState) *SymbolState {
	st := &SymbolState{
		Symbol:               symbol,
		Config:               cfg,
		BasePrice:            cfg.BasePrice,
		GridUnit:             cfg.GridUnit,
		BasePosition:         cfg.InitialBasePosition,
		LastWeekPosition:     cfg.InitialBasePosition,
		InitialPositionValue: float64(cfg.InitialBasePosition) * cfg.BasePrice,
		BuySpacing:           DefaultSpacing,
		SellSpacing:          DefaultSpacing,
		FilledOrderIDs:       NewIDSet(),
		TradeWeeks:           make(map[string]struct{}),
		ShouldPlaceMarket:    true,
		orderHoldings:        make(map[string]int),
	}
	if saved != nil {
		if saved.BasePrice != nil {
			st.BasePrice = *saved.BasePrice
		}
		if saved.GridUnit != nil {
			st.GridUnit = *saved.GridUnit
		}
		if saved.BasePosition != nil {
			st.BasePosition = *saved.BasePosition
		}
		if saved.LastWeekPosition != nil {
			st.LastWeekPosition = *saved.LastWeekPosition
		}
		st.FilledOrderIDs = NewIDSet(saved.FilledOrderIDs...)
		for _, w := range saved.TradeWeekSet {
			st.TradeWeeks[w] = struct{}{}
		}
	}
	st.MaxPosition = st.BasePosition + st.GridUnit*MaxUnitsAboveBase
	if saved != nil && saved.MaxPosition != nil {
		st.MaxPosition = *saved.MaxPosition
	}
	return st
}

// Persist trims the filled id set and returns the on-disk form.
func (s *SymbolState) Persist() PersistedState {
	s.FilledOrderIDs.Trim(MaxSavedFilledIDs)
	basePrice, unit, maxPos := s.BasePrice, s.GridUnit, s.MaxPosition
	lastWeek, basePos := s.LastWeekPosition, s.BasePosition
	weeks := make([]string, 0, len(s.TradeWeeks))
	for w := range s.TradeWeeks {
		weeks = append(weeks, w)
	}
	sort.Strings(weeks)
	return PersistedState{
		BasePrice:        &basePrice,
		GridUnit:         &unit,
		MaxPosition:      &maxPos,
		LastWeekPosition: &lastWeek,
		BasePosition:     &basePos,
		FilledOrderIDs:   s.FilledOrderIDs.List(),
		TradeWeekSet:     weeks,
	}
}

// ApplyConfig updates the tunable parameters after symbols.json changed.
func (s *SymbolState) ApplyConfig(cfg SymbolConfig) {
	s.Config = cfg
	s.GridUnit = cfg.GridUnit
	s.MaxPosition = s.BasePosition + cfg.GridUnit*MaxUnitsAboveBase
}

// TrackOrder remembers the broker holding at the time order id was placed.
func (s *SymbolState) TrackOrder(id string, holding int) {
	if id == "" {
		return
	}
	if s.orderHoldings == nil {
		s.orderHoldings = make(map[string]int)
	}
	s.orderHoldings[id] = holding
}

// ForgetOrders drops all tracked orders, after they were canceled or filled.
func (s *SymbolState) ForgetOrders() {
	clear(s.orderHoldings)
}

// RecordFill arms PosChange for a fill of order id. Fills of untracked
// orders leave it at zero so the broker holding is used as is.
func (s *SymbolState) RecordFill(id string, amount int) {
	s.PosChange = 0
	if held, ok := s.orderHoldings[id]; ok {
		s.PosChange = amount
		s.PreFillHolding = held
	}
	s.ForgetOrders()
}

// EffectiveHolding returns the holding to size orders against: the broker
// holding, plus PosChange while the broker has not booked the last fill.
func (s *SymbolState) EffectiveHolding(broker int) int {
	if s.PosChange != 0 && broker == s.PreFillHolding {
		return broker + s.PosChange
	}
	return broker
}

// ClearDebounce forgets the last placement so the next grid placement is not throttled.
func (s *SymbolState) ClearDebounce() {
	s.LastOrderAt = time.Time{}
	s.LastOrderBase = 0
}
