package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Signal intake
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_signals_total",
			Help: "Signals processed by the admission filter, by outcome",
		},
		[]string{"outcome"},
	)

	fetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_fetch_errors_total",
			Help: "Failed signal or price fetches, by source",
		},
		[]string{"source"},
	)

	// Position lifecycle
	positionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_positions_opened_total",
			Help: "Virtual positions opened",
		},
		[]string{"symbol", "direction"},
	)

	positionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_positions_closed_total",
			Help: "Virtual positions closed, by result",
		},
		[]string{"symbol", "result"},
	)

	realizedPnL = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autotrader_realized_pnl",
			Help:    "Distribution of realized pnl per closed position",
			Buckets: []float64{-100, -50, -20, -10, -5, -1, 0, 1, 5, 10, 20, 50, 100},
		},
	)

	// Ledger
	balanceGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autotrader_virtual_balance",
		Help: "Current virtual balance",
	})

	winRateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autotrader_win_rate_percent",
		Help: "Running win rate over settled trades",
	})

	activePositionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autotrader_active_positions",
		Help: "Open virtual positions",
	})

	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autotrader_current_price",
			Help: "Last repriced value of an open position's symbol",
		},
		[]string{"symbol"},
	)

	engineEnabled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autotrader_engine_enabled",
		Help: "1 while the engine is enabled",
	})
)

func init() {
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(fetchErrorsTotal)
	prometheus.MustRegister(positionsOpened)
	prometheus.MustRegister(positionsClosed)
	prometheus.MustRegister(realizedPnL)
	prometheus.MustRegister(balanceGauge)
	prometheus.MustRegister(winRateGauge)
	prometheus.MustRegister(activePositionsGauge)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(engineEnabled)
}

// MetricsHandler serves the Prometheus metrics endpoint
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSignal counts one admission decision
func RecordSignal(outcome string) {
	signalsTotal.WithLabelValues(outcome).Inc()
}

// RecordFetchError counts a failed upstream call
func RecordFetchError(source string) {
	fetchErrorsTotal.WithLabelValues(source).Inc()
}

// RecordOpen counts an opened position
func RecordOpen(symbol, direction string) {
	positionsOpened.WithLabelValues(symbol, direction).Inc()
}

// RecordClose counts a closed position and observes its pnl
func RecordClose(symbol string, pnl float64) {
	result := "loss"
	if pnl > 0 {
		result = "win"
	}
	positionsClosed.WithLabelValues(symbol, result).Inc()
	realizedPnL.Observe(pnl)
}

// UpdateLedger refreshes the ledger gauges
func UpdateLedger(balance, winRate float64, active int) {
	balanceGauge.Set(balance)
	winRateGauge.Set(winRate)
	activePositionsGauge.Set(float64(active))
}

// UpdatePrice updates the current price metric
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// SetEngineEnabled flips the engine state gauge
func SetEngineEnabled(enabled bool) {
	if enabled {
		engineEnabled.Set(1)
		return
	}
	engineEnabled.Set(0)
}
