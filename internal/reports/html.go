package reports

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/eddiefleurent/vagrid/internal/strategy"
)

// DashboardFile is the static dashboard's file name inside the reports directory.
const DashboardFile = "strategy_dashboard.html"

//go:embed templates/*
var templateFS embed.FS

var dashboardTmpl = template.Must(template.ParseFS(templateFS, "templates/strategy_dashboard.html"))

// DashboardRow is one formatted table row.
type DashboardRow struct {
	Symbol        string
	Position      string
	CostBasis     string
	Price         string
	MarketValue   string
	UnrealizedPnL string
	PnLRatio      string
	BasePosition  int
	GridUnit      int
	Spacing       string
	ATR           string
	Positive      bool
}

// DashboardData is the template input.
type DashboardData struct {
	UpdatedAt     string
	MarketValue   string
	UnrealizedPnL string
	Positive      bool
	Rows          []DashboardRow
}

// NewDashboardData formats views for the dashboard template.
func NewDashboardData(views []strategy.SymbolView, updated time.Time) DashboardData {
	var totalValue, totalPnL float64
	rows := make([]DashboardRow, 0, len(views))
	for _, v := range views {
		pnl := v.UnrealizedPnL()
		totalValue += v.MarketValue()
		totalPnL += pnl
		atr := "N/A"
		if v.ATRPercent != nil {
			atr = pct(*v.ATRPercent)
		}
		rows = append(rows, DashboardRow{
			Symbol:        v.Symbol,
			Position:      fmt.Sprintf("%d (%d)", v.Position.Amount, v.Position.Sellable),
			CostBasis:     fixed(v.Position.CostBasis, 3),
			Price:         fixed(v.Price, 3),
			MarketValue:   Thousands(v.MarketValue()),
			UnrealizedPnL: Thousands(pnl),
			PnLRatio:      pct(v.PnLRatio()),
			BasePosition:  v.BasePosition,
			GridUnit:      v.GridUnit,
			Spacing:       pct(v.BuySpacing) + " / " + pct(v.SellSpacing),
			ATR:           atr,
			Positive:      pnl >= 0,
		})
	}
	return DashboardData{
		UpdatedAt:     updated.Format("2006-01-02 15:04:05"),
		MarketValue:   Thousands(totalValue),
		UnrealizedPnL: Thousands(totalPnL),
		Positive:      totalPnL >= 0,
		Rows:          rows,
	}
}

// RenderDashboard writes the dashboard HTML to w.
func RenderDashboard(w io.Writer, data DashboardData) error {
	return dashboardTmpl.Execute(w, data)
}

// WriteDashboard renders views to dir/strategy_dashboard.html.
func WriteDashboard(dir string, views []strategy.SymbolView, updated time.Time) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}
	var buf bytes.Buffer
	if err := RenderDashboard(&buf, NewDashboardData(views, updated)); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	path := filepath.Join(dir, DashboardFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o640); err != nil {
		return fmt.Errorf("write dashboard: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename dashboard: %w", err)
	}
	return nil
}

// Thousands formats v with two decimals and comma thousand separators.
func Thousands(v float64) string {
	s := fixed(v, 2)
	neg := s[0] == '-'
	if neg {
		s = s[1:]
	}
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	var out []byte
	for i := 0; i < len(intPart); i++ {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i])
	}
	if neg {
		return "-" + string(out) + frac
	}
	return string(out) + frac
}
