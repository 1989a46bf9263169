package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/models"
	"github.com/eddiefleurent/vagrid/internal/util"
)

// Feed produces the next simulated price for a symbol given the last one.
type Feed interface {
	Next(symbol string, last float64) float64
}

type paperPosition struct {
	amount   int
	sellable int
	cost     float64 // average cost per share
}

// PaperBroker is an in-memory exchange used for paper trading and tests.
// Resting limit orders fill when a price update crosses them. Shares bought
// today only become sellable after RollDay.
type PaperBroker struct {
	mu        sync.Mutex
	logger    logrus.FieldLogger
	now       func() time.Time
	feed      Feed
	prices    map[string]float64
	positions map[string]*paperPosition
	orders    map[string]*models.Order
	orderSeq  []string
	trades    []models.Trade
	bars      map[string][]models.Bar
}

// Ensure PaperBroker implements Broker at compile time.
var _ Broker = (*PaperBroker)(nil)

// NewPaperBroker creates an empty paper broker.
func NewPaperBroker(logger logrus.FieldLogger) *PaperBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PaperBroker{
		logger:    logger,
		now:       time.Now,
		prices:    make(map[string]float64),
		positions: make(map[string]*paperPosition),
		orders:    make(map[string]*models.Order),
		bars:      make(map[string][]models.Bar),
	}
}

// SetClock overrides the time source used for order and trade timestamps.
func (p *PaperBroker) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now != nil {
		p.now = now
	}
}

// SetFeed installs a price generator consulted on every GetSnapshot.
func (p *PaperBroker) SetFeed(f Feed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feed = f
}

// SetPrice sets the last price of symbol and fills any resting orders it crosses.
func (p *PaperBroker) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setPriceLocked(util.ToStandardSymbol(symbol), price)
}

// SetPosition seeds a holding. All seeded shares are sellable.
func (p *PaperBroker) SetPosition(symbol string, amount int, cost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[util.ToStandardSymbol(symbol)] = &paperPosition{amount: amount, sellable: amount, cost: cost}
}

// SeedHistory replaces the daily bars returned for symbol.
func (p *PaperBroker) SeedHistory(symbol string, bars []models.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]models.Bar, len(bars))
	copy(cp, bars)
	p.bars[util.ToStandardSymbol(symbol)] = cp
}

// RollDay starts a new session: resting orders expire, today's buys become
// sellable and the trade list is cleared.
func (p *PaperBroker) RollDay() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = make(map[string]*models.Order)
	p.orderSeq = nil
	p.trades = nil
	for _, pos := range p.positions {
		pos.sellable = pos.amount
	}
}

func (p *PaperBroker) setPriceLocked(symbol string, price float64) {
	if price <= 0 {
		return
	}
	price = util.RoundPrice(price)
	p.prices[symbol] = price
	for _, id := range p.orderSeq {
		o := p.orders[id]
		if o.Symbol != symbol || (o.Status != models.StatusOpen && o.Status != models.StatusPartial) {
			continue
		}
		if (o.Side == models.SideBuy && price <= o.Price) || (o.Side == models.SideSell && price >= o.Price) {
			p.fillLocked(o, o.Price)
		}
	}
}

// fillLocked executes the remainder of o at price.
func (p *PaperBroker) fillLocked(o *models.Order, price float64) {
	qty := o.Quantity - o.Filled
	if qty <= 0 {
		return
	}
	if err := o.TransitionTo(models.StatusFilled); err != nil {
		p.logger.WithError(err).WithField("order_id", o.ID).Warn("paper fill skipped")
		return
	}
	pos := p.positions[o.Symbol]
	if pos == nil {
		pos = &paperPosition{}
		p.positions[o.Symbol] = pos
	}
	switch o.Side {
	case models.SideBuy:
		total := pos.cost*float64(pos.amount) + price*float64(qty)
		pos.amount += qty
		if pos.amount > 0 {
			pos.cost = total / float64(pos.amount)
		}
	case models.SideSell:
		pos.amount -= qty
		pos.sellable -= qty
		if pos.amount == 0 {
			pos.cost = 0
		}
	}
	o.Filled = o.Quantity
	p.trades = append(p.trades, models.Trade{
		Time:     p.now(),
		OrderID:  o.ID,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Status:   models.StatusFilled,
		Price:    price,
		Quantity: qty,
	})
	p.logger.WithFields(logrus.Fields{
		"symbol": o.Symbol, "side": o.Side, "qty": qty, "price": price, "order_id": o.ID,
	}).Info("paper fill")
}

// reservedSellLocked returns shares committed to resting sell orders.
func (p *PaperBroker) reservedSellLocked(symbol string) int {
	n := 0
	for _, o := range p.orders {
		if o.Symbol == symbol && o.Side == models.SideSell &&
			(o.Status == models.StatusOpen || o.Status == models.StatusPartial) {
			n += o.Quantity - o.Filled
		}
	}
	return n
}

func (p *PaperBroker) newOrderLocked(symbol string, side models.Side, qty int, price float64) (*models.Order, error) {
	if qty <= 0 || qty%100 != 0 {
		return nil, fmt.Errorf("%w: quantity %d must be a positive multiple of 100", ErrOrderRejected, qty)
	}
	if side == models.SideSell {
		sellable := 0
		if pos := p.positions[symbol]; pos != nil {
			sellable = pos.sellable
		}
		if sellable-p.reservedSellLocked(symbol) < qty {
			return nil, fmt.Errorf("%w: insufficient sellable shares for %s", ErrOrderRejected, symbol)
		}
	}
	o := &models.Order{
		CreatedAt: p.now(),
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Status:    models.StatusNew,
		Price:     price,
		Quantity:  qty,
	}
	p.orders[o.ID] = o
	p.orderSeq = append(p.orderSeq, o.ID)
	return o, nil
}

// GetSnapshot advances the feed, if any, and returns the last prices.
func (p *PaperBroker) GetSnapshot(ctx context.Context, symbols []string) (map[string]models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.Snapshot, len(symbols))
	for _, s := range symbols {
		sym := util.ToStandardSymbol(s)
		if p.feed != nil {
			p.setPriceLocked(sym, p.feed.Next(sym, p.prices[sym]))
		}
		if px := p.prices[sym]; px > 0 {
			out[sym] = models.Snapshot{Time: p.now(), Symbol: sym, Price: px}
		}
	}
	return out, nil
}

// GetDailyBars returns the last count seeded bars.
func (p *PaperBroker) GetDailyBars(ctx context.Context, symbol string, count int) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	bars := p.bars[util.ToStandardSymbol(symbol)]
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	out := make([]models.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// GetPosition returns the simulated holding.
func (p *PaperBroker) GetPosition(ctx context.Context, symbol string) (models.Position, error) {
	if err := ctx.Err(); err != nil {
		return models.Position{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := util.ToStandardSymbol(symbol)
	pos := p.positions[sym]
	if pos == nil {
		return models.Position{Symbol: sym}, nil
	}
	return models.Position{Symbol: sym, Amount: pos.amount, Sellable: pos.sellable, CostBasis: pos.cost}, nil
}

// GetAllOrders returns today's orders in placement order.
func (p *PaperBroker) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Order, 0, len(p.orderSeq))
	for _, id := range p.orderSeq {
		out = append(out, *p.orders[id])
	}
	return out, nil
}

// GetOpenOrders returns symbol's resting orders.
func (p *PaperBroker) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	all, err := p.GetAllOrders(ctx)
	if err != nil {
		return nil, err
	}
	sym := util.ToStandardSymbol(symbol)
	var out []models.Order
	for _, o := range all {
		if o.Symbol == sym && (o.Status == models.StatusOpen || o.Status == models.StatusPartial) {
			out = append(out, o)
		}
	}
	return out, nil
}

// GetOrder returns a single order.
func (p *PaperBroker) GetOrder(ctx context.Context, id string) (models.Order, error) {
	if err := ctx.Err(); err != nil {
		return models.Order{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	return *o, nil
}

// PlaceLimitOrder rests a limit order, filling it at once if it is marketable.
func (p *PaperBroker) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side,
	qty int, price float64) (models.Order, error) {
	if err := ctx.Err(); err != nil {
		return models.Order{}, err
	}
	if price <= 0 {
		return models.Order{}, fmt.Errorf("%w: price must be positive", ErrOrderRejected)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := util.ToStandardSymbol(symbol)
	o, err := p.newOrderLocked(sym, side, qty, util.RoundPrice(price))
	if err != nil {
		return models.Order{}, err
	}
	if err := o.TransitionTo(models.StatusOpen); err != nil {
		return models.Order{}, err
	}
	if last := p.prices[sym]; last > 0 {
		if (side == models.SideBuy && last <= o.Price) || (side == models.SideSell && last >= o.Price) {
			p.fillLocked(o, last)
		}
	}
	return *o, nil
}

// PlaceMarketOrder fills at the last price unless that breaches the protect limit.
func (p *PaperBroker) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side,
	qty int, protect float64) (models.Order, error) {
	if err := ctx.Err(); err != nil {
		return models.Order{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	sym := util.ToStandardSymbol(symbol)
	last := p.prices[sym]
	if last <= 0 {
		return models.Order{}, fmt.Errorf("%s: %w", sym, ErrNoPrice)
	}
	if protect > 0 {
		if (side == models.SideBuy && last > protect) || (side == models.SideSell && last < protect) {
			return models.Order{}, fmt.Errorf("%w: last %.3f outside protect %.3f", ErrOrderRejected, last, protect)
		}
	}
	o, err := p.newOrderLocked(sym, side, qty, protect)
	if err != nil {
		return models.Order{}, err
	}
	p.fillLocked(o, last)
	return *o, nil
}

// CancelOrder cancels a resting order.
func (p *PaperBroker) CancelOrder(ctx context.Context, id, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrOrderNotFound)
	}
	to := models.StatusCanceled
	if o.Filled > 0 {
		to = models.StatusPartCanceled
	}
	if o.Status.IsFinal() {
		return fmt.Errorf("%w: order %s is %s", ErrOrderRejected, id, o.Status)
	}
	if err := o.TransitionTo(to); err != nil {
		return fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
	return nil
}

// GetTrades returns today's fills, oldest first.
func (p *PaperBroker) GetTrades(ctx context.Context) ([]models.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Trade, len(p.trades))
	copy(out, p.trades)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
