// Package models provides the data structures shared by the broker, strategy and storage layers.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Side is the direction of an order or trade.
type Side string

const (
	// SideBuy buys shares.
	SideBuy Side = "BUY"
	// SideSell sells shares.
	SideSell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderStatus is the normalised lifecycle state of a broker order.
type OrderStatus string

const (
	StatusNew           OrderStatus = "new"            // accepted locally, not yet reported to the exchange
	StatusOpen          OrderStatus = "open"           // reported, resting on the book
	StatusPendingCancel OrderStatus = "pending_cancel" // cancel requested
	StatusPartCanceled  OrderStatus = "part_canceled"  // partially filled, remainder canceled
	StatusCanceled      OrderStatus = "canceled"
	StatusPartial       OrderStatus = "partial" // partially filled, still resting
	StatusFilled        OrderStatus = "filled"
	StatusRejected      OrderStatus = "rejected"
)

// statusCodes maps the numeric status codes used by A-share broker terminals.
var statusCodes = map[string]OrderStatus{
	"0": StatusNew,
	"1": StatusNew,
	"2": StatusOpen,
	"3": StatusPendingCancel,
	"4": StatusPendingCancel,
	"5": StatusPartCanceled,
	"6": StatusCanceled,
	"7": StatusPartial,
	"8": StatusFilled,
	"9": StatusRejected,
}

// ParseOrderStatus accepts either a terminal status code ("2", "8", ...) or a status name.
func ParseOrderStatus(s string) (OrderStatus, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if st, ok := statusCodes[s]; ok {
		return st, nil
	}
	switch OrderStatus(s) {
	case StatusNew, StatusOpen, StatusPendingCancel, StatusPartCanceled,
		StatusCanceled, StatusPartial, StatusFilled, StatusRejected:
		return OrderStatus(s), nil
	case "cancelled":
		return StatusCanceled, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsFinal reports whether an order in this status can no longer be canceled by us.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case StatusPendingCancel, StatusPartCanceled, StatusCanceled, StatusFilled, StatusRejected:
		return true
	default:
		return false
	}
}

// ValidTransitions lists the status changes an order may go through.
var ValidTransitions = map[OrderStatus][]OrderStatus{
	StatusNew:           {StatusOpen, StatusRejected, StatusFilled},
	StatusOpen:          {StatusPartial, StatusFilled, StatusPendingCancel, StatusCanceled},
	StatusPartial:       {StatusFilled, StatusPendingCancel, StatusPartCanceled},
	StatusPendingCancel: {StatusCanceled, StatusPartCanceled, StatusFilled},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Order is a normalised broker order.
type Order struct {
	CreatedAt time.Time   `json:"created_at"`
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Status    OrderStatus `json:"status"`
	Price     float64     `json:"price"`    // 0 for market orders without a protect limit
	Quantity  int         `json:"quantity"` // always positive
	Filled    int         `json:"filled"`
}

// Amount returns the signed order quantity (positive buy, negative sell).
func (o Order) Amount() int {
	return o.Side.Sign() * o.Quantity
}

// TransitionTo moves the order to a new status, rejecting illegal changes.
func (o *Order) TransitionTo(to OrderStatus) error {
	if o.Status == to {
		return nil
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("invalid order transition %s -> %s", o.Status, to)
	}
	o.Status = to
	return nil
}

// Trade is an execution report for an order.
type Trade struct {
	Time     time.Time   `json:"time"`
	OrderID  string      `json:"order_id"`
	Symbol   string      `json:"symbol"`
	Side     Side        `json:"side"`
	Status   OrderStatus `json:"status"`
	Price    float64     `json:"price"`
	Quantity int         `json:"quantity"`
}

// Amount returns the signed executed quantity.
func (t Trade) Amount() int {
	return t.Side.Sign() * t.Quantity
}

// Position is the broker's view of a holding.
type Position struct {
	Symbol    string  `json:"symbol"`
	Amount    int     `json:"amount"`
	Sellable  int     `json:"sellable"` // excludes shares bought today (T+1)
	CostBasis float64 `json:"cost_basis"`
}

// Snapshot is the latest quote for a symbol.
type Snapshot struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
}

// Bar is a single OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}
