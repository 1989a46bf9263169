// Package metrics exposes Prometheus collectors for the grid bot.
//
//	vagrid_orders_total{symbol,side,type}  orders accepted by the broker (type: limit|market)
//	vagrid_order_errors_total{symbol,op}   broker failures by operation (place|cancel|market)
//	vagrid_cancels_total{symbol}           cancel requests sent
//	vagrid_fills_total{symbol,side}        fills processed
//	vagrid_ratchets_total{symbol,direction} base price ratchets (up|down)
//	vagrid_base_price{symbol}              current base price
//	vagrid_base_position{symbol}           VA target base position
//	vagrid_grid_unit{symbol}               grid unit in shares
//	vagrid_spacing{symbol,side}            current grid spacing
//	vagrid_cycle_seconds                   duration of a trading cycle
//
// Collectors are registered on the default registry in init() and served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vagrid_orders_total",
			Help: "Orders accepted by the broker",
		},
		[]string{"symbol", "side", "type"},
	)

	orderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vagrid_order_errors_total",
			Help: "Broker failures by operation",
		},
		[]string{"symbol", "op"},
	)

	cancelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vagrid_cancels_total",
			Help: "Cancel requests sent",
		},
		[]string{"symbol"},
	)

	fillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vagrid_fills_total",
			Help: "Fills processed",
		},
		[]string{"symbol", "side"},
	)

	ratchetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vagrid_ratchets_total",
			Help: "Base price ratchets",
		},
		[]string{"symbol", "direction"},
	)

	basePrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vagrid_base_price",
			Help: "Current grid base price",
		},
		[]string{"symbol"},
	)

	basePosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vagrid_base_position",
			Help: "Value-averaging target base position in shares",
		},
		[]string{"symbol"},
	)

	gridUnit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vagrid_grid_unit",
			Help: "Grid unit in shares",
		},
		[]string{"symbol"},
	)

	spacing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vagrid_spacing",
			Help: "Current grid spacing as a fraction of the base price",
		},
		[]string{"symbol", "side"},
	)

	cycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vagrid_cycle_seconds",
			Help:    "Duration of a trading cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ordersTotal, orderErrors, cancelsTotal, fillsTotal, ratchetsTotal)
	prometheus.MustRegister(basePrice, basePosition, gridUnit, spacing, cycleSeconds)
}

func IncOrder(symbol, side, typ string)   { ordersTotal.WithLabelValues(symbol, side, typ).Inc() }
func IncOrderError(symbol, op string)     { orderErrors.WithLabelValues(symbol, op).Inc() }
func IncCancel(symbol string)             { cancelsTotal.WithLabelValues(symbol).Inc() }
func IncFill(symbol, side string)         { fillsTotal.WithLabelValues(symbol, side).Inc() }
func IncRatchet(symbol, direction string) { ratchetsTotal.WithLabelValues(symbol, direction).Inc() }
func ObserveCycle(seconds float64)        { cycleSeconds.Observe(seconds) }

// SetSpacing publishes the buy and sell spacing of a symbol.
func SetSpacing(symbol string, buy, sell float64) {
	spacing.WithLabelValues(symbol, "buy").Set(buy)
	spacing.WithLabelValues(symbol, "sell").Set(sell)
}

// SetGrid publishes the per-symbol grid parameters.
func SetGrid(symbol string, base float64, basePos, unit int) {
	basePrice.WithLabelValues(symbol).Set(base)
	basePosition.WithLabelValues(symbol).Set(float64(basePos))
	gridUnit.WithLabelValues(symbol).Set(float64(unit))
}

// Forget drops every series for a symbol removed from the configuration.
func Forget(symbol string) {
	match := prometheus.Labels{"symbol": symbol}
	for _, v := range []*prometheus.GaugeVec{basePrice, basePosition, gridUnit, spacing} {
		v.DeletePartialMatch(match)
	}
}
