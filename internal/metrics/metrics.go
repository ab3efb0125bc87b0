package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TierFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashdata_tier_fetch_total",
		Help: "Fetch attempts per adapter tier and outcome",
	}, []string{"tier", "outcome"})

	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashdata_task_runs_total",
		Help: "Task executions by final state",
	}, []string{"state"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashdata_task_duration_seconds",
		Help:    "Wall time of executed tasks",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	ExcerptRows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dashdata_excerpt_rows",
		Help: "Rows in the last excerpt written",
	})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashdata_api_requests_total",
		Help: "Boundary API requests by endpoint and data source",
	}, []string{"endpoint", "source"})
)
