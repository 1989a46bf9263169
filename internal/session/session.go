// Package session answers questions about the A-share trading day: which window a
// moment falls in and whether orders may be sent.
package session

import (
	"time"

	"github.com/eddiefleurent/vagrid/internal/config"
)

// Calendar holds the session windows as minutes after midnight in the exchange zone.
type Calendar struct {
	loc *time.Location

	auctionStart   int
	auctionEnd     int
	morningOpen    int
	morningClose   int
	afternoonOpen  int
	afternoonClose int
	orderCutoff    int
	fallbackStart  int
	fallbackEnd    int
	endOfDay       int
}

// New builds a Calendar from a validated schedule.
func New(cfg *config.Config) *Calendar {
	s := cfg.Schedule
	clock := func(v, fallback string) int {
		m, err := config.ParseClock(v)
		if err != nil {
			m, _ = config.ParseClock(fallback)
		}
		return m
	}
	return &Calendar{
		loc:            cfg.Location(),
		auctionStart:   clock(s.AuctionStart, "09:15"),
		auctionEnd:     clock(s.AuctionEnd, "09:25"),
		morningOpen:    clock(s.MorningOpen, "09:30"),
		morningClose:   clock(s.MorningClose, "11:30"),
		afternoonOpen:  clock(s.AfternoonOpen, "13:00"),
		afternoonClose: clock(s.AfternoonClose, "15:00"),
		orderCutoff:    clock(s.OrderCutoff, "14:50"),
		fallbackStart:  clock(s.FallbackStart, "14:55"),
		fallbackEnd:    clock(s.FallbackEnd, "14:57"),
		endOfDay:       clock(s.EndOfDay, "14:55"),
	}
}

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Local converts t to exchange time.
func (c *Calendar) Local(t time.Time) time.Time { return t.In(c.loc) }

// seconds after midnight in exchange time.
func (c *Calendar) secs(t time.Time) int {
	l := t.In(c.loc)
	return l.Hour()*3600 + l.Minute()*60 + l.Second()
}

func in(s, startMin, endMin int, inclusiveEnd bool) bool {
	start, end := startMin*60, endMin*60
	if inclusiveEnd {
		return s >= start && s <= end
	}
	return s >= start && s < end
}

// IsTradingDay reports whether t falls on a weekday. Exchange holidays are not modelled;
// the broker rejects orders on those days.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch t.In(c.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// IsAuction reports whether t is in the opening call auction (09:15 to before 09:25).
func (c *Calendar) IsAuction(t time.Time) bool {
	return in(c.secs(t), c.auctionStart, c.auctionEnd, false)
}

// IsBlocking reports whether t is in the 09:25-09:30 window in which no orders are sent.
func (c *Calendar) IsBlocking(t time.Time) bool {
	return in(c.secs(t), c.auctionEnd, c.morningOpen, false)
}

// IsMainSession reports whether t is in continuous trading. Both ends are inclusive.
func (c *Calendar) IsMainSession(t time.Time) bool {
	s := c.secs(t)
	return in(s, c.morningOpen, c.morningClose, true) || in(s, c.afternoonOpen, c.afternoonClose, true)
}

// BeforeCutoff reports whether t is before the daily limit-order cutoff.
func (c *Calendar) BeforeCutoff(t time.Time) bool {
	return c.secs(t) < c.orderCutoff*60
}

// CanPlaceLimitOrders reports whether the grid may be (re)placed at t.
func (c *Calendar) CanPlaceLimitOrders(t time.Time) bool {
	if c.IsBlocking(t) {
		return false
	}
	return c.IsAuction(t) || (c.IsMainSession(t) && c.BeforeCutoff(t))
}

// IsAuctionRestart reports whether t is in the auction or blocking window, when a
// restarted process should re-place the grid.
func (c *Calendar) IsAuctionRestart(t time.Time) bool {
	return in(c.secs(t), c.auctionStart, c.morningOpen, false)
}

// IsMarketFallback reports whether t is in the pre-close market fallback window.
func (c *Calendar) IsMarketFallback(t time.Time) bool {
	return in(c.secs(t), c.fallbackStart, c.fallbackEnd, false)
}

// at returns the moment on t's exchange date at the given minutes after midnight.
func (c *Calendar) at(t time.Time, minutes int) time.Time {
	l := t.In(c.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), minutes/60, minutes%60, 0, 0, c.loc)
}

// AuctionStart returns the call auction start on t's date.
func (c *Calendar) AuctionStart(t time.Time) time.Time { return c.at(t, c.auctionStart) }

// EndOfDay returns the end-of-day housekeeping time on t's date.
func (c *Calendar) EndOfDay(t time.Time) time.Time { return c.at(t, c.endOfDay) }

// Close returns the session close on t's date.
func (c *Calendar) Close(t time.Time) time.Time { return c.at(t, c.afternoonClose) }

// Date returns t's exchange date as YYYY-MM-DD.
func (c *Calendar) Date(t time.Time) string { return t.In(c.loc).Format("2006-01-02") }
