// Package util provides common helpers for price rounding and symbol normalisation.
package util

import (
	"math"

	"github.com/shopspring/decimal"
)

// PricePlaces is the number of decimals exchange-traded funds are quoted in.
const PricePlaces = 3

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// For example, with tick=0.001, 1.2345 becomes 1.235.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(x).Div(t).Round(0).Mul(t).InexactFloat64()
}

// RoundPrice rounds x to PricePlaces decimals, ties away from zero.
func RoundPrice(x float64) float64 {
	return RoundPlaces(x, PricePlaces)
}

// RoundPlaces rounds x to the given number of decimals, ties away from zero.
func RoundPlaces(x float64, places int32) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return decimal.NewFromFloat(x).Round(places).InexactFloat64()
}

// PriceEqual reports whether two quoted prices are the same within one tenth of a tick.
func PriceEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}
