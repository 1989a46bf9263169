// Package reports writes the per-symbol daily CSV, the trade detail log and the
// static HTML dashboard.
package reports

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/vagrid/internal/grid"
	"github.com/eddiefleurent/vagrid/internal/strategy"
)

// DailyHeader is the column layout of reports/<symbol>.csv.
var DailyHeader = []string{
	"date", "close", "weeks", "count", "weekly_return", "total_return", "expected_value",
	"invest_should", "invest_actual", "invest_cumulative", "initial_base_position",
	"cumulative_base_position", "base_value", "weekly_base_profit", "total_base_profit",
	"base_position", "amount", "grid_unit", "t_quantity", "standard_quantity",
	"intermediate_quantity", "max_quantity", "cost", "compare_cost", "pnl",
}

// DailyRow is one day's figures for a symbol.
type DailyRow struct {
	Date                string
	Close               float64
	Weeks               int
	WeeklyReturn        float64
	TotalReturn         float64
	ExpectedValue       float64
	InvestShould        float64
	InvestActual        float64
	InvestCumulative    float64
	InitialBasePosition int
	BasePosition        int
	BaseValue           float64
	WeeklyBaseProfit    float64
	TotalBaseProfit     float64
	Amount              int
	GridUnit            int
	TQuantity           int
	StandardQuantity    int
	IntermediateQty     int
	MaxQuantity         int
	Cost                float64
	CompareCost         float64
	PnL                 float64
}

// NewDailyRow derives the daily figures from a symbol view. The close falls back
// to the base price when no quote is known, and the cost to the base price when
// the position could not be read.
func NewDailyRow(date time.Time, v strategy.SymbolView) DailyRow {
	closePx := v.Price
	if closePx <= 0 {
		closePx = v.BasePrice
	}
	cost := v.Position.CostBasis
	if !v.PositionKnown {
		cost = v.BasePrice
	}
	amount := v.Position.Amount
	weeks := v.Weeks

	cumulative := grid.CumulativeContribution(v.DingtouBase, v.DingtouRate, weeks)
	lastWeekVal := float64(v.LastWeekPosition) * closePx
	currentVal := float64(amount) * closePx

	r := DailyRow{
		Date:                date.Format("2006-01-02"),
		Close:               closePx,
		Weeks:               weeks,
		ExpectedValue:       v.InitialPositionValue + v.DingtouBase*float64(weeks),
		InvestShould:        v.DingtouBase,
		InvestActual:        v.DingtouBase * math.Pow(1+v.DingtouRate, float64(weeks)),
		InvestCumulative:    cumulative,
		InitialBasePosition: v.InitialBasePosition,
		BasePosition:        v.BasePosition,
		BaseValue:           float64(v.BasePosition) * closePx,
		WeeklyBaseProfit:    float64(v.BasePosition-v.LastWeekPosition) * closePx,
		TotalBaseProfit:     float64(v.BasePosition)*closePx - v.InitialPositionValue,
		Amount:              amount,
		GridUnit:            v.GridUnit,
		TQuantity:           max(0, amount-v.BasePosition),
		StandardQuantity:    v.BasePosition + v.GridUnit*5,
		IntermediateQty:     v.BasePosition + v.GridUnit*15,
		MaxQuantity:         v.MaxPosition,
		Cost:                cost,
		CompareCost:         float64(v.BasePosition-v.LastWeekPosition) * closePx,
	}
	if lastWeekVal > 0 {
		r.WeeklyReturn = (currentVal - lastWeekVal) / lastWeekVal
	}
	if cumulative > 0 {
		r.TotalReturn = (currentVal - cumulative) / cumulative
	}
	if cost > 0 {
		r.PnL = (closePx - cost) * float64(amount)
	}
	return r
}

func pct(v float64) string { return strconv.FormatFloat(v*100, 'f', 2, 64) + "%" }

func fixed(v float64, places int) string { return strconv.FormatFloat(v, 'f', places, 64) }

// Record renders the row in DailyHeader order.
func (r DailyRow) Record() []string {
	return []string{
		r.Date,
		fixed(r.Close, 3),
		strconv.Itoa(r.Weeks),
		strconv.Itoa(r.Weeks),
		pct(r.WeeklyReturn),
		pct(r.TotalReturn),
		fixed(r.ExpectedValue, 2),
		fixed(r.InvestShould, 0),
		fixed(r.InvestActual, 0),
		fixed(r.InvestCumulative, 0),
		strconv.Itoa(r.InitialBasePosition),
		strconv.Itoa(r.BasePosition),
		fixed(r.BaseValue, 0),
		fixed(r.WeeklyBaseProfit, 0),
		fixed(r.TotalBaseProfit, 0),
		strconv.Itoa(r.BasePosition),
		strconv.Itoa(r.Amount),
		strconv.Itoa(r.GridUnit),
		strconv.Itoa(r.TQuantity),
		strconv.Itoa(r.StandardQuantity),
		strconv.Itoa(r.IntermediateQty),
		strconv.Itoa(r.MaxQuantity),
		fixed(r.Cost, 3),
		fixed(r.CompareCost, 3),
		fixed(r.PnL, 0),
	}
}

// DailyPath returns the CSV file of symbol under dir.
func DailyPath(dir, symbol string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(symbol)
	return filepath.Join(dir, name+".csv")
}

// AppendDaily appends one row per view to dir/<symbol>.csv, writing the header
// when a file is created. Every symbol is attempted; errors are joined.
func AppendDaily(dir string, date time.Time, views []strategy.SymbolView) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}
	var errs []error
	for _, v := range views {
		if err := appendRecord(DailyPath(dir, v.Symbol), DailyHeader, NewDailyRow(date, v).Record()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Symbol, err))
		}
	}
	return errors.Join(errs...)
}

// appendRecord appends record to path, writing header first if the file is new.
func appendRecord(path string, header, record []string) error {
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(header); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Write(record); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
