// Package metrics provides Prometheus instrumentation for the conversion
// server. All metrics are prefixed with "convert_" and registered with the
// default registry via promauto; expose them with promhttp.Handler().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_connections_active",
			Help: "Number of live client connections",
		},
	)

	TasksStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convert_tasks_started_total",
			Help: "Total number of conversion tasks started",
		},
	)

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_tasks_finished_total",
			Help: "Total number of conversion tasks finished, by terminal status",
		},
		[]string{"status"},
	)

	UploadsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convert_uploads_started_total",
			Help: "Total number of upload sessions opened",
		},
	)

	UploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convert_upload_bytes_total",
			Help: "Total bytes received through chunked uploads",
		},
	)
)
