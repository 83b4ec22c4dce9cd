// Package metrics exposes Prometheus counters for filesystem activity.
//
// Every method is safe to call on a nil *Metrics so callers that do not
// care about metrics can pass nil.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"histfs/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	logger = logging.GetLogger().WithPrefix("metrics")
)

// Byte counter directions.
const (
	DirectionRead    = "read"
	DirectionWritten = "written"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Bytes             *prometheus.CounterVec
	Snapshots         prometheus.Counter
	SnapshotConflicts prometheus.Counter
}

// New creates a metrics collector on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "histfs_operations_total",
				Help: "Content operations by kind and result",
			},
			[]string{"op", "result"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "histfs_operation_duration_seconds",
				Help:    "Content operation latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"op"},
		),
		Bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "histfs_bytes_total",
				Help: "Plaintext bytes moved through the read and write paths",
			},
			[]string{"direction"},
		),
		Snapshots: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "histfs_snapshots_total",
				Help: "Version snapshots created",
			},
		),
		SnapshotConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "histfs_snapshot_conflicts_total",
				Help: "Snapshot numbers found already taken during allocation",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation records the outcome and latency of one operation.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// AddBytes adds n to the byte counter for direction.
func (m *Metrics) AddBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Bytes.WithLabelValues(direction).Add(float64(n))
}

// SnapshotCreated counts one completed snapshot.
func (m *Metrics) SnapshotCreated() {
	if m == nil {
		return
	}
	m.Snapshots.Inc()
}

// SnapshotConflict counts one candidate number lost to another creator.
func (m *Metrics) SnapshotConflict() {
	if m == nil {
		return
	}
	m.SnapshotConflicts.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown: %v", err)
		}
	}()

	logger.Info("Serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
