package grid

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/vagrid/internal/models"
)

// DefaultATRPeriod is the number of true ranges averaged.
const DefaultATRPeriod = 14

// TrueRange is the largest of the bar range and the gaps from the previous close.
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// ATR averages the true ranges of consecutive bars. It needs at least period+1 bars;
// only the last period+1 are used.
func ATR(bars []models.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr period must be > 0, got %d", period)
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBars, len(bars), period+1)
	}
	bars = bars[len(bars)-period-1:]
	var sum float64
	for i := 1; i < len(bars); i++ {
		sum += TrueRange(bars[i].High, bars[i].Low, bars[i-1].Close)
	}
	return sum / float64(period), nil
}

// ATRPercent expresses ATR as a fraction of price. A non-positive price falls back to
// the last close.
func ATRPercent(bars []models.Bar, period int, price float64) (float64, error) {
	atr, err := ATR(bars, period)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		price = bars[len(bars)-1].Close
	}
	if price <= 0 {
		return 0, fmt.Errorf("no positive reference price for ATR")
	}
	return atr / price, nil
}
