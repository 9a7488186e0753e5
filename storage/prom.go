package storage

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter publishes live create counts while a run is in
// progress
type PrometheusExporter struct {
	registry *prometheus.Registry
	mu       sync.Mutex
	server   *http.Server

	// Metrics
	createdCounter *prometheus.CounterVec
	bucketGauge    *prometheus.GaugeVec
	elapsedGauge   *prometheus.GaugeVec
	workersGauge   prometheus.Gauge
	cpuGauge       *prometheus.GaugeVec
	memoryGauge    *prometheus.GaugeVec
}

// NewPrometheusExporter creates a new Prometheus exporter with its own
// registry
func NewPrometheusExporter() *PrometheusExporter {
	exporter := &PrometheusExporter{
		registry: prometheus.NewRegistry(),
		createdCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "createabunch_files_created_total",
				Help: "Files created, counted when a second's count is flushed",
			},
			[]string{"rank"},
		),
		bucketGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "createabunch_bucket_creates",
				Help: "Creates flushed into the most recent one-second bucket",
			},
			[]string{"rank"},
		),
		elapsedGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "createabunch_elapsed_seconds",
				Help: "Index of the most recent one-second bucket",
			},
			[]string{"rank"},
		),
		workersGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "createabunch_workers",
				Help: "Workers in the group",
			},
		),
		cpuGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "createabunch_cpu_utilization",
				Help: "CPU utilization percentage",
			},
			[]string{"host"},
		),
		memoryGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "createabunch_memory_utilization",
				Help: "Memory utilization percentage",
			},
			[]string{"host"},
		),
	}

	exporter.registry.MustRegister(
		exporter.createdCounter,
		exporter.bucketGauge,
		exporter.elapsedGauge,
		exporter.workersGauge,
		exporter.cpuGauge,
		exporter.memoryGauge,
	)

	return exporter
}

// Registry returns the registry holding the exporter's metrics
func (pe *PrometheusExporter) Registry() *prometheus.Registry {
	return pe.registry
}

// StartServer serves /metrics on addr until Shutdown
func (pe *PrometheusExporter) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(pe.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	pe.mu.Lock()
	pe.server = server
	pe.mu.Unlock()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the metrics server, if one was started
func (pe *PrometheusExporter) Shutdown(ctx context.Context) error {
	pe.mu.Lock()
	server := pe.server
	pe.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// Flushed records a count flushed into a worker's log
func (pe *PrometheusExporter) Flushed(rank, index int, count uint64) {
	label := strconv.Itoa(rank)
	pe.createdCounter.WithLabelValues(label).Add(float64(count))
	pe.bucketGauge.WithLabelValues(label).Set(float64(count))
	pe.elapsedGauge.WithLabelValues(label).Set(float64(index))
}

// UpdateWorkers records the group size
func (pe *PrometheusExporter) UpdateWorkers(n int) {
	pe.workersGauge.Set(float64(n))
}

// UpdateHostStats updates host utilization metrics
func (pe *PrometheusExporter) UpdateHostStats(host string, cpuUtilization, memoryUsage float64) {
	pe.cpuGauge.WithLabelValues(host).Set(cpuUtilization)
	pe.memoryGauge.WithLabelValues(host).Set(memoryUsage)
}
