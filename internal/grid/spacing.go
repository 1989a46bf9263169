package grid

import (
	"fmt"
	"math"

	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/util"
)

// SpacingMode selects how grid spacing reacts to volatility.
type SpacingMode string

const (
	// SpacingATR derives the base spacing directly from ATR% and skews it by position band.
	SpacingATR SpacingMode = "atr"
	// SpacingHybrid uses fixed band spacing scaled by a bounded volatility modifier.
	SpacingHybrid SpacingMode = "hybrid"
)

// Spacing constants.
const (
	ATRMultiplier      = 0.25
	TransactionCost    = 0.00005
	MinATRSpacing      = TransactionCost * 5
	MaxSpacing         = 0.03
	MinHybridSpacing   = 0.0025
	NormalATRPercent   = 0.015
	MinVolatilityScale = 0.5
	MaxVolatilityScale = 2.0
	SpacingPlaces      = 4

	lowBandUnits  = 5
	highBandUnits = 15
)

// Band is where the current position sits relative to the base position.
type Band int

const (
	// BandLow is at most five units above the base position: buy tight, sell wide.
	BandLow Band = iota
	// BandMid is between the low and high bands: symmetric.
	BandMid
	// BandHigh is more than fifteen units above the base position: buy wide, sell tight.
	BandHigh
)

func (b Band) String() string {
	switch b {
	case BandLow:
		return "low"
	case BandHigh:
		return "high"
	default:
		return "mid"
	}
}

// PositionBand classifies pos against the base position.
func PositionBand(pos, basePosition, unit int) Band {
	switch {
	case pos <= basePosition+unit*lowBandUnits:
		return BandLow
	case pos > basePosition+unit*highBandUnits:
		return BandHigh
	default:
		return BandMid
	}
}

// Spacing is a buy/sell spacing pair as fractions of the base price.
type Spacing struct {
	Buy  float64
	Sell float64
}

// ParseSpacingMode validates a configured mode.
func ParseSpacingMode(s string) (SpacingMode, error) {
	switch SpacingMode(s) {
	case SpacingATR, SpacingHybrid:
		return SpacingMode(s), nil
	case "":
		return SpacingATR, nil
	}
	return "", fmt.Errorf("unknown spacing mode %q", s)
}

// ComputeSpacing returns the spacing for the given mode. atrPct may be nil when ATR is unavailable.
func ComputeSpacing(mode SpacingMode, atrPct *float64, pos, basePosition, unit int) Spacing {
	band := PositionBand(pos, basePosition, unit)
	if mode == SpacingHybrid {
		return hybridSpacing(atrPct, band)
	}
	return atrSpacing(atrPct, band)
}

// BaseATRSpacing is the symmetric spacing implied by atrPct before band skew.
func BaseATRSpacing(atrPct *float64) float64 {
	base := models.DefaultSpacing
	if atrPct != nil {
		base = *atrPct * ATRMultiplier
	}
	return math.Max(base, MinATRSpacing)
}

func atrSpacing(atrPct *float64, band Band) Spacing {
	b := BaseATRSpacing(atrPct)
	var buy, sell float64
	switch band {
	case BandLow:
		buy, sell = b, 2*b
	case BandHigh:
		buy, sell = 2*b, b
	default:
		buy, sell = b, b
	}
	return Spacing{
		Buy:  util.RoundPlaces(math.Min(buy, MaxSpacing), SpacingPlaces),
		Sell: util.RoundPlaces(math.Min(sell, MaxSpacing), SpacingPlaces),
	}
}

// VolatilityScale maps atrPct to a multiplier in [0.5, 2.0]; 1.0 when unavailable.
func VolatilityScale(atrPct *float64) float64 {
	if atrPct == nil {
		return 1.0
	}
	return math.Max(MinVolatilityScale, math.Min(*atrPct/NormalATRPercent, MaxVolatilityScale))
}

func hybridSpacing(atrPct *float64, band Band) Spacing {
	buy, sell := 0.005, 0.005
	switch band {
	case BandLow:
		buy, sell = 0.005, 0.01
	case BandHigh:
		buy, sell = 0.01, 0.005
	}
	scale := VolatilityScale(atrPct)
	clamp := func(v float64) float64 {
		return util.RoundPlaces(math.Max(MinHybridSpacing, math.Min(v*scale, MaxSpacing)), SpacingPlaces)
	}
	return Spacing{Buy: clamp(buy), Sell: clamp(sell)}
}
