// Package grid holds the pure arithmetic of the grid: band prices, the ratchet rule,
// value-averaging targets, grid unit growth, ATR and spacing.
package grid

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/util"
)

const (
	// MaxDeviation is the largest |price/base-1| at which grid orders are still placed.
	MaxDeviation = 0.10
	// LotSize is the A-share board lot.
	LotSize = 100
	// UnitGrowthThreshold is how many grid units the base position must reach before the unit grows.
	UnitGrowthThreshold = 20
	// UnitGrowthFactor scales the grid unit when it grows.
	UnitGrowthFactor = 1.2
)

// ErrInsufficientBars is returned when there are not enough bars to compute ATR.
var ErrInsufficientBars = errors.New("insufficient bars for ATR")

// Bands are the buy and sell grid prices around a base price.
type Bands struct {
	Buy  float64
	Sell float64
}

// BandPrices computes the grid prices for base, rounded to the price tick.
func BandPrices(base, buySpacing, sellSpacing float64) Bands {
	b := decimal.NewFromFloat(base)
	one := decimal.NewFromInt(1)
	buy := b.Mul(one.Sub(decimal.NewFromFloat(buySpacing))).Round(util.PricePlaces)
	sell := b.Mul(one.Add(decimal.NewFromFloat(sellSpacing))).Round(util.PricePlaces)
	return Bands{Buy: buy.InexactFloat64(), Sell: sell.InexactFloat64()}
}

// WithinDeviation reports whether price is close enough to base to trade.
func WithinDeviation(price, base float64) bool {
	if price <= 0 || base <= 0 {
		return false
	}
	return math.Abs(price/base-1) <= MaxDeviation
}

// RatchetDirection is the outcome of the ratchet check.
type RatchetDirection int

const (
	// RatchetNone leaves the base price alone.
	RatchetNone RatchetDirection = iota
	// RatchetUp moves the base to the sell band.
	RatchetUp
	// RatchetDown moves the base to the buy band.
	RatchetDown
)

func (d RatchetDirection) String() string {
	switch d {
	case RatchetUp:
		return "up"
	case RatchetDown:
		return "down"
	default:
		return "none"
	}
}

// Ratchet decides whether the base price should shift.
// Up wins when both conditions hold.
func Ratchet(price float64, pos, unit, basePosition, maxPosition int, bands Bands) RatchetDirection {
	if pos-unit <= basePosition && price >= bands.Sell {
		return RatchetUp
	}
	if pos+unit >= maxPosition && price <= bands.Buy {
		return RatchetDown
	}
	return RatchetNone
}

// WeekKey returns the ISO year_week key for t, e.g. "2025_41".
func WeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%d_%d", y, w)
}

// TargetValue is the value-averaging curve: the initial value plus a compounding
// contribution for every elapsed week.
func TargetValue(initialValue, contribution, rate float64, weeks int) float64 {
	total := initialValue
	for w := 1; w <= weeks; w++ {
		total += contribution * math.Pow(1+rate, float64(w))
	}
	return total
}

// CumulativeContribution is the sum of the weekly contributions without the initial value.
func CumulativeContribution(contribution, rate float64, weeks int) float64 {
	return TargetValue(0, contribution, rate, weeks)
}

// roundLots rounds shares to the nearest board lot, ties to even lots.
func roundLots(shares float64) int {
	return int(math.RoundToEven(shares/LotSize)) * LotSize
}

// TargetBasePosition returns the lot-aligned base position whose market value tracks target.
// It never falls below the lot-aligned initial holding. A non-positive price keeps current.
func TargetBasePosition(target, price, initialValue, basePrice float64, current int) int {
	if price <= 0 {
		return current
	}
	minBase := 0
	if basePrice > 0 {
		minBase = roundLots(initialValue / basePrice)
	}
	return roundLots(math.Max(float64(minBase), target/price))
}

// MaxPosition is the position cap for a base position and grid unit.
func MaxPosition(basePosition, unit int) int {
	return basePosition + unit*models.MaxUnitsAboveBase
}

// NextGridUnit grows unit by 20% (rounded up to a lot) once the base position holds
// at least 20 units. It returns unit unchanged otherwise.
func NextGridUnit(unit, basePosition int) int {
	if unit <= 0 || basePosition < unit*UnitGrowthThreshold {
		return unit
	}
	grown := decimal.NewFromInt(int64(unit)).
		Mul(decimal.NewFromFloat(UnitGrowthFactor)).
		Div(decimal.NewFromInt(LotSize)).
		Ceil().
		IntPart()
	return int(grown) * LotSize
}
