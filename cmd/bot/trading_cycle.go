package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/reports"
	"github.com/eddiefleurent/vagrid/internal/strategy"
)

// dailyJob runs at most once per exchange date, on the first cycle inside
// [at, at+window).
type dailyJob struct {
	name     string
	at       func(time.Time) time.Time
	window   time.Duration
	run      func(ctx context.Context, now time.Time)
	lastDate string
}

// TradingCycle schedules the engine: daily jobs, the per-minute cycle and the
// slower periodic tasks.
type TradingCycle struct {
	bot     *Bot
	started bool
	jobs    []*dailyJob
	auction *dailyJob

	lastReload  time.Time
	lastSpacing time.Time
	lastStatus  time.Time
	lastHTML    time.Time
}

// NewTradingCycle creates a new trading cycle handler
func NewTradingCycle(bot *Bot) *TradingCycle {
	tc := &TradingCycle{bot: bot}
	cal := bot.calendar
	tc.auction = &dailyJob{name: "auction", at: cal.AuctionStart, window: 15 * time.Minute, run: tc.auctionOrders}
	tc.jobs = []*dailyJob{
		tc.auction,
		{name: "end_of_day", at: cal.EndOfDay, window: 5 * time.Minute, run: tc.endOfDay},
		{name: "after_close", at: cal.Close, window: 30 * time.Minute, run: tc.afterClose},
	}
	return tc
}

// Run executes one trading cycle
func (tc *TradingCycle) Run(ctx context.Context, now time.Time) {
	b := tc.bot
	cal := b.calendar
	if !cal.IsTradingDay(now) {
		b.logger.WithField("date", cal.Date(now)).Debug("Not a trading day, skipping cycle")
		return
	}

	if !tc.started {
		b.engine.BeforeTradingStart(ctx)
		if cal.IsAuctionRestart(now) {
			tc.auction.lastDate = cal.Date(now)
		}
		tc.started = true
	}

	tc.runDailyJobs(ctx, now)

	if !tc.inSession(now) {
		return
	}

	if due(&tc.lastReload, now, b.config.GetReloadInterval()) {
		tc.reloadSymbols(ctx)
	}
	opts := strategy.CycleOptions{
		UpdateSpacing: due(&tc.lastSpacing, now, b.config.GetSpacingInterval()),
		LogStatus:     due(&tc.lastStatus, now, b.config.GetStatusInterval()),
	}
	b.engine.RunCycle(ctx, opts)

	if due(&tc.lastHTML, now, b.config.GetHTMLInterval()) {
		tc.writeDashboard(ctx, now)
	}
}

// inSession reports whether now is between the call auction and the close.
func (tc *TradingCycle) inSession(now time.Time) bool {
	cal := tc.bot.calendar
	return !now.Before(cal.AuctionStart(now)) && now.Before(cal.Close(now))
}

func (tc *TradingCycle) runDailyJobs(ctx context.Context, now time.Time) {
	date := tc.bot.calendar.Date(now)
	for _, job := range tc.jobs {
		if job.lastDate == date {
			continue
		}
		start := job.at(now)
		if now.Before(start) || !now.Before(start.Add(job.window)) {
			continue
		}
		job.lastDate = date
		tc.bot.logger.WithField("job", job.name).Info("Running daily job")
		job.run(ctx, now)
	}
}

// due reports whether now has entered a new interval slot since *last, and
// records the slot.
func due(last *time.Time, now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	slot := now.Truncate(interval)
	if slot.Equal(*last) {
		return false
	}
	*last = slot
	return true
}

func (tc *TradingCycle) auctionOrders(ctx context.Context, _ time.Time) {
	tc.bot.engine.PlaceAuctionOrders(ctx)
}

func (tc *TradingCycle) endOfDay(ctx context.Context, now time.Time) {
	tc.bot.engine.EndOfDay(ctx)
	tc.writeDashboard(ctx, now)
}

func (tc *TradingCycle) afterClose(ctx context.Context, now time.Time) {
	b := tc.bot
	views := b.engine.Snapshot(ctx)
	if err := reports.AppendDaily(b.config.Reports.Dir, now, views); err != nil {
		b.logger.WithError(err).Error("Failed to append daily report")
	} else {
		b.logger.WithField("symbols", len(views)).Info("Daily report written")
	}
	tc.writeDashboard(ctx, now)

	if b.paper != nil {
		b.paper.RollDay()
		b.logger.Info("Paper broker rolled to the next session")
	}
}

func (tc *TradingCycle) writeDashboard(ctx context.Context, now time.Time) {
	b := tc.bot
	if err := reports.WriteDashboard(b.config.Reports.Dir, b.engine.Snapshot(ctx), now); err != nil {
		b.logger.WithError(err).Warn("Failed to write dashboard")
	}
}

// reloadSymbols applies any change to the symbols file.
func (tc *TradingCycle) reloadSymbols(ctx context.Context) {
	b := tc.bot
	diff, changed, err := b.symbols.Check()
	if err != nil {
		b.logger.WithError(err).WithField("file", b.symbols.Path()).Warn("Symbols reload failed, keeping previous symbols")
		return
	}
	if !changed || diff.Empty() {
		return
	}
	b.logger.WithFields(logrus.Fields{
		"added":   diff.Added,
		"removed": diff.Removed,
		"changed": diff.Changed,
	}).Info("Symbols file changed")

	added := make(config.Symbols, len(diff.Added))
	for _, sym := range diff.Added {
		added[sym] = diff.Symbols[sym]
	}
	b.seedPaper(added)
	b.engine.ApplySymbols(ctx, diff)
}
