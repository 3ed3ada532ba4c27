// Package metrics exposes Prometheus collectors for the proxy.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	LinesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dxproxy_lines_received_total",
			Help: "Total number of lines received from the cluster",
		},
	)

	LinesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dxproxy_lines_rejected_total",
			Help: "Total number of spot lines that failed to parse",
		},
	)

	SpotsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dxproxy_spots_accepted_total",
			Help: "Total number of spots stored",
		},
	)

	SpotsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dxproxy_spots_duplicate_total",
			Help: "Total number of spots discarded as duplicates",
		},
	)

	SpotsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dxproxy_spots_evicted_total",
			Help: "Total number of spots removed by the retention sweep",
		},
	)

	SpotsHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dxproxy_spots_held",
			Help: "Number of spots currently held in memory",
		},
	)

	SpotsByBand = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxproxy_spots_by_band_total",
			Help: "Total number of stored spots by band",
		},
		[]string{"band"},
	)

	// Cluster connection metrics
	ClusterConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dxproxy_cluster_connected",
			Help: "Whether the proxy holds a live cluster connection (1 = connected)",
		},
	)

	ClusterNodeIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dxproxy_cluster_node_index",
			Help: "Registry index of the node currently targeted",
		},
	)

	ClusterConnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dxproxy_cluster_connects_total",
			Help: "Total number of successful cluster connections",
		},
	)

	ClusterDisconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dxproxy_cluster_disconnects_total",
			Help: "Total number of cluster disconnects and failed connection attempts",
		},
	)

	ClusterFailovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dxproxy_cluster_failovers_total",
			Help: "Total number of rotations to the next cluster node",
		},
	)

	// Sink metrics
	SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxproxy_sink_errors_total",
			Help: "Total number of failed spot deliveries by sink",
		},
		[]string{"sink"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxproxy_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dxproxy_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(LinesReceived)
	prometheus.MustRegister(LinesRejected)
	prometheus.MustRegister(SpotsAccepted)
	prometheus.MustRegister(SpotsDuplicate)
	prometheus.MustRegister(SpotsEvicted)
	prometheus.MustRegister(SpotsHeld)
	prometheus.MustRegister(SpotsByBand)
	prometheus.MustRegister(ClusterConnected)
	prometheus.MustRegister(ClusterNodeIndex)
	prometheus.MustRegister(ClusterConnects)
	prometheus.MustRegister(ClusterDisconnects)
	prometheus.MustRegister(ClusterFailovers)
	prometheus.MustRegister(SinkErrors)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetConnected records the cluster connection flag
func SetConnected(connected bool) {
	if connected {
		ClusterConnected.Set(1)
		return
	}
	ClusterConnected.Set(0)
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds on the observer
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
