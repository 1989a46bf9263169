// Package mock generates simulated market data for paper trading.
package mock

import (
	"crypto/rand"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/eddiefleurent/vagrid/internal/broker"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/util"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 between 0 and n-1
func secureInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return r.Int64()
}

// RandomWalk is a price feed whose steps are uniform in [-volatility, +volatility]
// relative to the last price.
type RandomWalk struct {
	mu         sync.Mutex
	volatility float64
	start      map[string]float64
}

var _ broker.Feed = (*RandomWalk)(nil)

// NewRandomWalk creates a feed. start seeds the first price per symbol; unseeded
// symbols start at 1.000.
func NewRandomWalk(volatility float64, start map[string]float64) *RandomWalk {
	if volatility <= 0 {
		volatility = 0.002
	}
	s := make(map[string]float64, len(start))
	for k, v := range start {
		s[util.ToStandardSymbol(k)] = v
	}
	return &RandomWalk{volatility: volatility, start: s}
}

// Next returns the next price for symbol, never below one tick.
func (w *RandomWalk) Next(symbol string, last float64) float64 {
	if last <= 0 {
		w.mu.Lock()
		defer w.mu.Unlock()
		if p, ok := w.start[symbol]; ok && p > 0 {
			return util.RoundPrice(p)
		}
		return 1.0
	}
	step := (secureFloat64()*2 - 1) * w.volatility
	return math.Max(0.001, util.RoundPrice(last*(1+step)))
}

// GenerateBars builds count daily bars ending the day before end, walking back
// from closePrice. Weekends are skipped.
func GenerateBars(closePrice, volatility float64, count int, end time.Time) []models.Bar {
	if count <= 0 || closePrice <= 0 {
		return nil
	}
	if volatility <= 0 {
		volatility = 0.01
	}
	bars := make([]models.Bar, count)
	day := end
	c := closePrice
	for i := count - 1; i >= 0; i-- {
		day = day.AddDate(0, 0, -1)
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, -1)
		}
		open := util.RoundPrice(c * (1 + (secureFloat64()*2-1)*volatility/2))
		high := util.RoundPrice(math.Max(open, c) * (1 + secureFloat64()*volatility/2))
		low := util.RoundPrice(math.Min(open, c) * (1 - secureFloat64()*volatility/2))
		bars[i] = models.Bar{
			Time:   time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  util.RoundPrice(c),
			Volume: float64(1_000_000 + secureInt63n(9_000_000)),
		}
		c = open
	}
	return bars
}
