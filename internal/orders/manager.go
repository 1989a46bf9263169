// Package orders wraps the broker with the grid's order rules: cancel-all by
// symbol, limit placement and protected market orders.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/broker"
	"github.com/eddiefleurent/vagrid/internal/metrics"
	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/retry"
	"github.com/eddiefleurent/vagrid/internal/util"
)

// Config contains configuration for the order manager.
type Config struct {
	CallTimeout  time.Duration
	ProtectTicks int
	ProtectRetry bool
	// TickSize returns the price increment for a symbol; nil means 0.001 everywhere.
	TickSize func(symbol string) float64
	Location *time.Location
}

// DefaultConfig is the default configuration for the order manager.
var DefaultConfig = Config{
	CallTimeout:  5 * time.Second,
	ProtectTicks: 2,
	ProtectRetry: true,
}

const defaultTick = 0.001

// Manager places and cancels grid orders.
type Manager struct {
	broker broker.Broker
	retry  *retry.Client
	logger logrus.FieldLogger
	config Config
	now    func() time.Time

	mu          sync.Mutex
	canceledDay string
	canceled    map[string]struct{}
}

// NewManager creates a new order manager instance.
func NewManager(
	b broker.Broker,
	retryClient *retry.Client,
	logger logrus.FieldLogger,
	config ...Config,
) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if cfg.ProtectTicks <= 0 {
		cfg.ProtectTicks = DefaultConfig.ProtectTicks
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if retryClient == nil {
		retryClient = retry.NewClient(logger)
	}

	// Validate required dependencies (fail fast to avoid later panics)
	if b == nil {
		panic("orders.NewManager: broker must not be nil")
	}

	return &Manager{
		broker:   b,
		retry:    retryClient,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
		canceled: make(map[string]struct{}),
	}
}

// SetClock overrides the time source used for the daily cancel cache.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Manager) tick(symbol string) float64 {
	if m.config.TickSize != nil {
		if t := m.config.TickSize(symbol); t > 0 {
			return t
		}
	}
	return defaultTick
}

// limitPrice snaps price to symbol's tick.
func (m *Manager) limitPrice(symbol string, price float64) float64 {
	return util.RoundPrice(util.RoundToTick(price, m.tick(symbol)))
}

// markCanceled records id in today's cache. It returns false if the id was
// already there. The cache resets when the exchange date changes.
func (m *Manager) markCanceled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := m.now().In(m.config.Location).Format("2006-01-02")
	if day != m.canceledDay {
		m.canceledDay = day
		m.canceled = make(map[string]struct{})
	}
	if _, ok := m.canceled[id]; ok {
		return false
	}
	m.canceled[id] = struct{}{}
	return true
}

func (m *Manager) wasCanceled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := m.now().In(m.config.Location).Format("2006-01-02")
	if day != m.canceledDay {
		return false
	}
	_, ok := m.canceled[id]
	return ok
}

// CancelAllForSymbol cancels every open order of symbol. Orders already known to
// be filled, or canceled earlier today, are skipped, and each candidate's status is
// re-queried before the cancel is sent. Errors are logged, not returned. It returns
// the number of cancel requests sent.
func (m *Manager) CancelAllForSymbol(ctx context.Context, symbol string, filled *models.IDSet) int {
	log := m.logger.WithField("symbol", symbol)
	all, err := retry.Value(ctx, m.retry, "get orders", func(ctx context.Context) ([]models.Order, error) {
		return m.broker.GetAllOrders(ctx)
	})
	if err != nil {
		log.WithError(err).Error("cancel all: failed to list orders")
		metrics.IncOrderError(symbol, "list")
		return 0
	}

	count := 0
	for _, o := range all {
		if util.ToStandardSymbol(o.Symbol) != symbol || o.Status != models.StatusOpen {
			continue
		}
		if filled != nil && filled.Has(o.ID) {
			continue
		}
		if m.wasCanceled(o.ID) {
			continue
		}

		current, err := retry.Value(ctx, m.retry, "get order", func(ctx context.Context) (models.Order, error) {
			return m.broker.GetOrder(ctx, o.ID)
		})
		if err != nil {
			log.WithError(err).WithField("order_id", o.ID).Warn("cancel all: status re-query failed, skipping")
			continue
		}
		if current.Status.IsFinal() {
			continue
		}
		if !m.markCanceled(o.ID) {
			continue
		}

		err = m.retry.Do(ctx, "cancel order", func(ctx context.Context) error {
			return m.broker.CancelOrder(ctx, o.ID, symbol)
		})
		if err != nil {
			log.WithError(err).WithField("order_id", o.ID).Error("cancel failed")
			metrics.IncOrderError(symbol, "cancel")
			continue
		}
		metrics.IncCancel(symbol)
		count++
	}

	if count > 0 {
		log.Infof("canceled %d open orders", count)
	}
	return count
}

// PlaceLimit sends a single limit order. Placement is not retried: a timed-out
// request may still have reached the exchange.
func (m *Manager) PlaceLimit(ctx context.Context, symbol string, side models.Side, qty int, price float64) (models.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	price = m.limitPrice(symbol, price)
	o, err := m.broker.PlaceLimitOrder(callCtx, symbol, side, qty, price)
	if err != nil {
		metrics.IncOrderError(symbol, "place")
		return o, err
	}
	metrics.IncOrder(symbol, string(side), "limit")
	m.logger.WithFields(logrus.Fields{
		"symbol": symbol, "side": side, "qty": qty, "price": price, "order_id": o.ID,
	}).Info("limit order placed")
	return o, nil
}

// HasOpenOrderAt reports whether symbol already has a resting order on side at price.
func (m *Manager) HasOpenOrderAt(ctx context.Context, symbol string, side models.Side, price float64) (bool, error) {
	open, err := retry.Value(ctx, m.retry, "get open orders", func(ctx context.Context) ([]models.Order, error) {
		return m.broker.GetOpenOrders(ctx, symbol)
	})
	if err != nil {
		return false, err
	}
	for _, o := range open {
		if o.Side == side && util.PriceEqual(o.Price, m.limitPrice(symbol, price)) {
			return true, nil
		}
	}
	return false, nil
}

// ProtectPrice returns the protect limit for a market order around ref, widened by
// extra ticks.
func (m *Manager) ProtectPrice(symbol string, side models.Side, ref float64, extra int) float64 {
	offset := float64(m.config.ProtectTicks+extra) * m.tick(symbol)
	if side == models.SideSell {
		return util.RoundPrice(ref - offset)
	}
	return util.RoundPrice(ref + offset)
}

// MarketWithProtect sends a market order. Shanghai symbols carry a protect limit
// around ref and, if the first attempt fails, retry once with one extra tick.
// Shenzhen symbols send a plain market order. It reports whether an order was accepted.
func (m *Manager) MarketWithProtect(ctx context.Context, symbol string, side models.Side, qty int, ref float64) bool {
	log := m.logger.WithFields(logrus.Fields{"symbol": symbol, "side": side, "qty": qty})

	if !util.IsShanghai(symbol) {
		if _, err := m.placeMarket(ctx, symbol, side, qty, 0); err != nil {
			log.WithError(err).Error("market order failed")
			return false
		}
		log.Info("market order placed")
		return true
	}

	protect := m.ProtectPrice(symbol, side, ref, 0)
	_, err := m.placeMarket(ctx, symbol, side, qty, protect)
	if err == nil {
		log.WithField("protect", protect).Info("protected market order placed")
		return true
	}
	log.WithError(err).WithField("protect", protect).Warn("protected market order failed")
	if !m.config.ProtectRetry || errors.Is(err, context.Canceled) {
		return false
	}

	protect = m.ProtectPrice(symbol, side, ref, 1)
	if _, err := m.placeMarket(ctx, symbol, side, qty, protect); err != nil {
		log.WithError(err).WithField("protect", protect).Error("protected market order retry failed")
		return false
	}
	log.WithField("protect", protect).Info("protected market order placed on retry")
	return true
}

func (m *Manager) placeMarket(ctx context.Context, symbol string, side models.Side, qty int, protect float64) (models.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()
	o, err := m.broker.PlaceMarketOrder(callCtx, symbol, side, qty, protect)
	if err != nil {
		metrics.IncOrderError(symbol, "market")
		return o, fmt.Errorf("market %s %s %d: %w", side, symbol, qty, err)
	}
	metrics.IncOrder(symbol, string(side), "market")
	return o, nil
}
