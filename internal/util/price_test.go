package util

import (
	"math"
	"testing"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		tick     float64
		expected float64
	}{
		{
			name:     "basic rounding down",
			x:        1.2344,
			tick:     0.001,
			expected: 1.234,
		},
		{
			name:     "tie rounds away from zero",
			x:        1.2345,
			tick:     0.001,
			expected: 1.235,
		},
		{
			name:     "negative tie rounds away from zero",
			x:        -1.235,
			tick:     0.01,
			expected: -1.24,
		},
		{
			name:     "larger tick size",
			x:        1.27,
			tick:     0.05,
			expected: 1.25,
		},
		{
			name:     "exact multiple",
			x:        1.25,
			tick:     0.05,
			expected: 1.25,
		},
		{
			name:     "zero tick returns input",
			x:        1.23456,
			tick:     0,
			expected: 1.23456,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToTick(tt.x, tt.tick)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("RoundToTick(%v, %v) = %v, expected %v", tt.x, tt.tick, result, tt.expected)
			}
		})
	}
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		x        float64
		expected float64
	}{
		{3.9123, 3.912},
		{3.9125, 3.913},
		{1.0 * (1 - 0.005), 0.995},
		{4.0 * (1 + 0.005), 4.02},
		{0, 0},
	}
	for _, tt := range tests {
		if got := RoundPrice(tt.x); math.Abs(got-tt.expected) > 1e-12 {
			t.Errorf("RoundPrice(%v) = %v, want %v", tt.x, got, tt.expected)
		}
	}
}

func TestRoundPlaces_NaNPassthrough(t *testing.T) {
	if !math.IsNaN(RoundPlaces(math.NaN(), 4)) {
		t.Fatal("expected NaN to pass through")
	}
}

func TestPriceEqual(t *testing.T) {
	if !PriceEqual(3.912, 3.9124) {
		t.Error("expected prices within 0.001 to be equal")
	}
	if PriceEqual(3.912, 3.914) {
		t.Error("expected prices two ticks apart to differ")
	}
}

func TestToStandardSymbol(t *testing.T) {
	tests := map[string]string{
		"510300.XSHG": "510300.SS",
		"159915.XSHE": "159915.SZ",
		"510300.SS":   "510300.SS",
		"":            "",
	}
	for in, want := range tests {
		if got := ToStandardSymbol(in); got != want {
			t.Errorf("ToStandardSymbol(%q) = %q, want %q", in, got, want)
		}
	}
	if !IsShanghai("510300.XSHG") || IsShanghai("159915.SZ") {
		t.Error("IsShanghai misclassified symbols")
	}
}
