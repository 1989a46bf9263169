package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/broker"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/strategy"
)

// FillSink consumes broker fills and exposes symbol views for reconciliation.
type FillSink interface {
	OnTrades(ctx context.Context, trades []models.Trade) int
	Snapshot(ctx context.Context) []strategy.SymbolView
}

var _ FillSink = (*strategy.Engine)(nil)

// Reconciler keeps the engine in sync with the broker: it polls today's fills
// and checks holdings against the base positions.
type Reconciler struct {
	broker        broker.Broker
	sink          FillSink
	logger        logrus.FieldLogger
	interval      time.Duration
	coldStartOnce sync.Once
}

// NewReconciler creates a new fill reconciler
func NewReconciler(b broker.Broker, sink FillSink, logger logrus.FieldLogger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Reconciler{
		broker:   b,
		sink:     sink,
		logger:   logger,
		interval: interval,
	}
}

const tradesFetchTimeout = 8 * time.Second

// ReconcileFills fetches today's trades and hands them to the engine, which
// skips fills it has already seen. It returns the number of new fills.
func (r *Reconciler) ReconcileFills(ctx context.Context) int {
	fetchCtx, cancel := context.WithTimeout(ctx, tradesFetchTimeout)
	defer cancel()
	trades, err := r.broker.GetTrades(fetchCtx)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to get trades for reconciliation")
		return 0
	}
	if len(trades) == 0 {
		return 0
	}

	n := r.sink.OnTrades(ctx, trades)
	if n > 0 {
		r.logger.WithFields(logrus.Fields{
			"new":        n,
			"today":      len(trades),
			"last_order": shortID(trades[len(trades)-1].OrderID),
		}).Info("Fills reconciled")
	}
	return n
}

// ReconcilePositions warns about symbols whose broker holding is below the
// base position, which happens on a cold start without saved state or after
// manual trades.
func (r *Reconciler) ReconcilePositions(ctx context.Context) {
	views := r.sink.Snapshot(ctx)
	short := 0
	for _, v := range views {
		if !v.PositionKnown {
			r.logger.WithField("symbol", v.Symbol).Warn("Position unknown, cannot reconcile")
			continue
		}
		if v.Position.Amount < v.BasePosition {
			short++
			r.logger.WithFields(logrus.Fields{
				"symbol":        v.Symbol,
				"position":      v.Position.Amount,
				"base_position": v.BasePosition,
			}).Warn("Holding is below base position; grid sells stay disabled until it recovers")
		}
	}
	if short > 0 && short == len(views) {
		r.coldStartOnce.Do(func() {
			r.logger.Warnf("COLD START DETECTED: all %d symbols hold less than their base position", short)
		})
	}
}

// Run polls fills until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.ReconcileFills(ctx)
		}
	}
}
