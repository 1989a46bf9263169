// Package broker defines the trading backend used by the grid engine and its
// implementations: an HTTP bridge to the broker terminal, an in-process paper
// broker, and a circuit breaker wrapper.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/vagrid/internal/models"
)

// Broker defines the interface for interacting with a brokerage.
// Symbols are always in the standard .SS/.SZ form.
type Broker interface {
	// Market data
	GetSnapshot(ctx context.Context, symbols []string) (map[string]models.Snapshot, error)
	GetDailyBars(ctx context.Context, symbol string, count int) ([]models.Bar, error)

	// Account
	GetPosition(ctx context.Context, symbol string) (models.Position, error)

	// Orders
	GetAllOrders(ctx context.Context) ([]models.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	GetOrder(ctx context.Context, id string) (models.Order, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, qty int, price float64) (models.Order, error)
	// PlaceMarketOrder sends a market order. A positive protect price caps a buy
	// (floors a sell); zero sends a plain market order.
	PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty int, protect float64) (models.Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error

	// Executions reported today.
	GetTrades(ctx context.Context) ([]models.Trade, error)
}

var (
	// ErrOrderNotFound is returned when an order id is unknown to the broker.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderRejected is returned when the broker refuses an order.
	ErrOrderRejected = errors.New("order rejected")
	// ErrNoPrice is returned when no quote is available for a symbol.
	ErrNoPrice = errors.New("no price available")
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// isPermanentAPIError checks if an error is a client-side rejection rather than a broker fault.
func isPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// Consider 4xx errors as permanent (except 429 Too Many Requests which is retryable)
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return errors.Is(err, ErrOrderRejected) || errors.Is(err, ErrOrderNotFound)
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
	Logger       logrus.FieldLogger
}

// DefaultCircuitBreakerSettings trips after 5 calls with 60% failures and lets a trial call through after 30s.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker, logger logrus.FieldLogger) *CircuitBreakerBroker {
	s := DefaultCircuitBreakerSettings()
	s.Logger = logger
	return NewCircuitBreakerBrokerWithSettings(broker, s)
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
// Order rejections (4xx) do not count as failures.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	logger := settings.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanentAPIError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// State returns the breaker state.
func (c *CircuitBreakerBroker) State() gobreaker.State {
	return c.breaker.State()
}

// GetSnapshot wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetSnapshot(ctx context.Context, symbols []string) (map[string]models.Snapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]models.Snapshot, error) {
		return b.GetSnapshot(ctx, symbols)
	})
}

// GetDailyBars wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetDailyBars(ctx context.Context, symbol string, count int) ([]models.Bar, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.Bar, error) {
		return b.GetDailyBars(ctx, symbol, count)
	})
}

// GetPosition wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetPosition(ctx context.Context, symbol string) (models.Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.Position, error) {
		return b.GetPosition(ctx, symbol)
	})
}

// GetAllOrders wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.Order, error) {
		return b.GetAllOrders(ctx)
	})
}

// GetOpenOrders wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.Order, error) {
		return b.GetOpenOrders(ctx, symbol)
	})
}

// GetOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.Order, error) {
		return b.GetOrder(ctx, id)
	})
}

// PlaceLimitOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side,
	qty int, price float64) (models.Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.Order, error) {
		return b.PlaceLimitOrder(ctx, symbol, side, qty, price)
	})
}

// PlaceMarketOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side,
	qty int, protect float64) (models.Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.Order, error) {
		return b.PlaceMarketOrder(ctx, symbol, side, qty, protect)
	})
}

// CancelOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) CancelOrder(ctx context.Context, id, symbol string) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrder(ctx, id, symbol)
	})
	return err
}

// GetTrades wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetTrades(ctx context.Context) ([]models.Trade, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.Trade, error) {
		return b.GetTrades(ctx)
	})
}
