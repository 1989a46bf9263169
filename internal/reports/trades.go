package reports

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/eddiefleurent/vagrid/internal/models"
)

// TradeDetailsFile is the trade log's file name inside the reports directory.
const TradeDetailsFile = "a_trade_details.csv"

// TradeHeader is the column layout of the trade log.
var TradeHeader = []string{"time", "symbol", "direction", "quantity", "price", "base_position_at_trade"}

// TradeLog appends every processed fill to a CSV file.
type TradeLog struct {
	mu   sync.Mutex
	path string
	loc  *time.Location
	now  func() time.Time
}

// NewTradeLog creates the reports directory and returns a log writing to
// dir/a_trade_details.csv with times in loc.
func NewTradeLog(dir string, loc *time.Location) (*TradeLog, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &TradeLog{path: filepath.Join(dir, TradeDetailsFile), loc: loc, now: time.Now}, nil
}

// Path returns the CSV file.
func (l *TradeLog) Path() string { return l.path }

// RecordTrade appends t. The row time is the report's own time, or now when the
// report carries none.
func (l *TradeLog) RecordTrade(t models.Trade, basePosition int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := t.Time
	if ts.IsZero() {
		ts = l.now()
	}
	return appendRecord(l.path, TradeHeader, []string{
		ts.In(l.loc).Format("2006-01-02 15:04:05"),
		t.Symbol,
		string(t.Side),
		strconv.Itoa(t.Quantity),
		fixed(t.Price, 3),
		strconv.Itoa(basePosition),
	})
}
