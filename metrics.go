package mailsentry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSMTPProbe = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsentry_smtp_probe_duration_seconds",
			Help:    "SMTP probes by result, success or the failure class.",
			Buckets: []float64{0.01, 0.05, 0.100, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"result"},
	)
	metricCheck = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsentry_check_duration_seconds",
			Help:    "Diagnostics runs by result: ok, invalid, resolution or closed.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"result"},
	)
	metricPoolTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsentry_pool_tasks_total",
			Help: "Tasks handled by the worker pool: ok, panic, skipped or rejected.",
		},
		[]string{"result"},
	)
	metricPoolQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsentry_pool_queued_tasks",
			Help: "Tasks waiting for a worker.",
		},
	)
)
