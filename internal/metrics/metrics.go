package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StateCounter returns entity counts grouped by state.
type StateCounter interface {
	CountByState(ctx context.Context) (map[string]int64, error)
}

// ManagerStatusProvider reports whether the PBX manager session is up.
type ManagerStatusProvider interface {
	Connected() bool
}

// Collector is a prometheus.Collector that gathers SecureBridge metrics at
// scrape time. Any provider may be nil if unavailable.
type Collector struct {
	orders    StateCounter
	calls     StateCounter
	manager   ManagerStatusProvider
	startTime time.Time

	ordersDesc           *prometheus.Desc
	callsDesc            *prometheus.Desc
	managerConnectedDesc *prometheus.Desc
	uptimeDesc           *prometheus.Desc
}

// NewCollector creates a new metrics collector.
func NewCollector(orders, calls StateCounter, manager ManagerStatusProvider, startTime time.Time) *Collector {
	return &Collector{
		orders:    orders,
		calls:     calls,
		manager:   manager,
		startTime: startTime,

		ordersDesc: prometheus.NewDesc(
			"securebridge_orders",
			"Number of orders by current state",
			[]string{"state"}, nil,
		),
		callsDesc: prometheus.NewDesc(
			"securebridge_calls",
			"Number of calls by current state",
			[]string{"state"}, nil,
		),
		managerConnectedDesc: prometheus.NewDesc(
			"securebridge_manager_connected",
			"Whether the Asterisk manager session is authenticated (1) or down (0)",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"securebridge_uptime_seconds",
			"Seconds since the SecureBridge process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ordersDesc
	ch <- c.callsDesc
	ch <- c.managerConnectedDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Order gauges, one per occupied state.
	if c.orders != nil {
		counts, err := c.orders.CountByState(ctx)
		if err != nil {
			slog.Error("metrics: failed to count orders", "error", err)
		} else {
			for state, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.ordersDesc, prometheus.GaugeValue, float64(n), state,
				)
			}
		}
	}

	// Call gauges.
	if c.calls != nil {
		counts, err := c.calls.CountByState(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls", "error", err)
		} else {
			for state, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.callsDesc, prometheus.GaugeValue, float64(n), state,
				)
			}
		}
	}

	// Manager session gauge.
	if c.manager != nil {
		val := 0.0
		if c.manager.Connected() {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.managerConnectedDesc, prometheus.GaugeValue, val,
		)
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
