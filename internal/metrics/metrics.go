// Package metrics exposes Prometheus instrumentation for the monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts cycle invocations by terminal status.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_cycles_total",
		Help: "Monitoring cycle invocations by outcome status.",
	}, []string{"status"})

	// ScrapeFailures counts classified scrape failures.
	ScrapeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_scrape_failures_total",
		Help: "Scrape failures by classification (credential or target).",
	}, []string{"kind"})

	// NotificationsSent counts successful Telegram deliveries.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_notifications_sent_total",
		Help: "Telegram messages delivered successfully.",
	})

	// NotificationsFailed counts failed Telegram deliveries.
	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_notifications_failed_total",
		Help: "Telegram deliveries that failed.",
	})

	// LastAdjustedCount tracks the most recent adjusted item count.
	LastAdjustedCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_last_adjusted_count",
		Help: "Adjusted item count from the most recent completed cycle.",
	})
)
