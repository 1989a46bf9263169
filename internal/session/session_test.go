package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/vagrid/internal/config"
)

func newCalendar(t *testing.T) *Calendar {
	t.Helper()
	cfg := &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper"},
		Broker:      config.BrokerConfig{Provider: "paper"},
	}
	require.NoError(t, cfg.Validate())
	return New(cfg)
}

func at(c *Calendar, hh, mm, ss int) time.Time {
	// 2025-10-08 is a Wednesday.
	return time.Date(2025, 10, 8, hh, mm, ss, 0, c.Location())
}

func TestWindows(t *testing.T) {
	c := newCalendar(t)
	tests := []struct {
		name                                 string
		hh, mm, ss                           int
		auction, blocking, main, canPlace, fb bool
	}{
		{"pre-open", 9, 14, 59, false, false, false, false, false},
		{"auction start", 9, 15, 0, true, false, false, true, false},
		{"auction last second", 9, 24, 59, true, false, false, true, false},
		{"blocking start", 9, 25, 0, false, true, false, false, false},
		{"blocking end", 9, 29, 59, false, true, false, false, false},
		{"open", 9, 30, 0, false, false, true, true, false},
		{"morning close inclusive", 11, 30, 0, false, false, true, true, false},
		{"lunch", 11, 30, 1, false, false, false, false, false},
		{"afternoon", 13, 0, 0, false, false, true, true, false},
		{"before cutoff", 14, 49, 59, false, false, true, true, false},
		{"cutoff", 14, 50, 0, false, false, true, false, false},
		{"fallback start", 14, 55, 0, false, false, true, false, true},
		{"fallback last second", 14, 56, 59, false, false, true, false, true},
		{"fallback end exclusive", 14, 57, 0, false, false, true, false, false},
		{"close inclusive", 15, 0, 0, false, false, true, false, false},
		{"after close", 15, 0, 1, false, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := at(c, tt.hh, tt.mm, tt.ss)
			assert.Equal(t, tt.auction, c.IsAuction(now), "auction")
			assert.Equal(t, tt.blocking, c.IsBlocking(now), "blocking")
			assert.Equal(t, tt.main, c.IsMainSession(now), "main")
			assert.Equal(t, tt.canPlace, c.CanPlaceLimitOrders(now), "can place")
			assert.Equal(t, tt.fb, c.IsMarketFallback(now), "fallback")
		})
	}
}

func TestIsAuctionRestart(t *testing.T) {
	c := newCalendar(t)
	assert.True(t, c.IsAuctionRestart(at(c, 9, 15, 0)))
	assert.True(t, c.IsAuctionRestart(at(c, 9, 29, 59)))
	assert.False(t, c.IsAuctionRestart(at(c, 9, 30, 0)))
}

func TestIsTradingDay(t *testing.T) {
	c := newCalendar(t)
	assert.True(t, c.IsTradingDay(at(c, 10, 0, 0)))
	sat := time.Date(2025, 10, 11, 10, 0, 0, 0, c.Location())
	assert.False(t, c.IsTradingDay(sat))
}

func TestTimezoneConversion(t *testing.T) {
	c := newCalendar(t)
	// 01:30 UTC is 09:30 in Shanghai.
	utc := time.Date(2025, 10, 8, 1, 30, 0, 0, time.UTC)
	assert.True(t, c.IsMainSession(utc))
	assert.Equal(t, "2025-10-08", c.Date(utc))
}

func TestDailyMoments(t *testing.T) {
	c := newCalendar(t)
	now := at(c, 10, 0, 0)
	assert.Equal(t, at(c, 9, 15, 0), c.AuctionStart(now))
	assert.Equal(t, at(c, 14, 55, 0), c.EndOfDay(now))
	assert.Equal(t, at(c, 15, 0, 0), c.Close(now))
}
