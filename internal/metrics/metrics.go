// Package metrics 服务指标
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	fillsTotal      *prometheus.CounterVec
	settleErrors    prometheus.Counter
	cancelConflicts prometheus.Counter
	eventsDropped   prometheus.Counter
	submitLatency   prometheus.Histogram
	bookDepth       *prometheus.GaugeVec
	wsClients       prometheus.Gauge
)

// Init 初始化私有注册表，幂等
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		ordersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_orders_submitted_total",
			Help: "Orders accepted by the admission gate",
		}, []string{"side"})

		ordersRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_orders_rejected_total",
			Help: "Orders rejected at admission",
		}, []string{"reason"})

		fillsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_fills_total",
			Help: "Fills produced by the matching loop",
		}, []string{"product"})

		settleErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_settle_errors_total",
			Help: "Fill settlement persistence failures",
		})

		cancelConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_cancel_conflicts_total",
			Help: "Cancellations lost to a concurrent fill",
		})

		eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trading_events_dropped_total",
			Help: "Engine events dropped due to a full event channel",
		})

		submitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trading_submit_latency_seconds",
			Help:    "Submit handling latency inside the product actor",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		})

		bookDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trading_book_depth_levels",
			Help: "Aggregated price levels per side",
		}, []string{"product", "side"})

		wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trading_ws_clients",
			Help: "Connected websocket clients",
		})

		registry.MustRegister(
			ordersSubmitted, ordersRejected, fillsTotal, settleErrors,
			cancelConflicts, eventsDropped, submitLatency, bookDepth, wsClients,
		)
	})
}

// Handler 指标端点
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func IncOrdersSubmitted(side int) {
	if ordersSubmitted == nil {
		return
	}
	ordersSubmitted.WithLabelValues(sideLabel(side)).Inc()
}

func IncOrdersRejected(reason string) {
	if ordersRejected == nil {
		return
	}
	ordersRejected.WithLabelValues(reason).Inc()
}

func IncFills(productID int64) {
	if fillsTotal == nil {
		return
	}
	fillsTotal.WithLabelValues(strconv.FormatInt(productID, 10)).Inc()
}

func IncSettleErrors() {
	if settleErrors == nil {
		return
	}
	settleErrors.Inc()
}

func IncCancelConflicts() {
	if cancelConflicts == nil {
		return
	}
	cancelConflicts.Inc()
}

func IncEventsDropped() {
	if eventsDropped == nil {
		return
	}
	eventsDropped.Inc()
}

func ObserveSubmitLatency(seconds float64) {
	if submitLatency == nil {
		return
	}
	submitLatency.Observe(seconds)
}

func SetBookDepth(productID int64, bidLevels, askLevels int) {
	if bookDepth == nil {
		return
	}
	product := strconv.FormatInt(productID, 10)
	bookDepth.WithLabelValues(product, "bid").Set(float64(bidLevels))
	bookDepth.WithLabelValues(product, "ask").Set(float64(askLevels))
}

func SetWSClients(n int) {
	if wsClients == nil {
		return
	}
	wsClients.Set(float64(n))
}

func sideLabel(side int) string {
	switch side {
	case 1:
		return "buy"
	case 2:
		return "sell"
	default:
		return "unknown"
	}
}
