// Package telemetry exposes live run counters in the Prometheus text format.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/session"
)

const namespace = "surge"

// Exporter serves the counters of one run on /metrics.
//
// Every metric reads the Aggregator or Pool at scrape time, so nothing has
// to be pushed from the hot path.
type Exporter struct {
	registry *prometheus.Registry
	logger   zerolog.Logger

	server   *http.Server
	listener net.Listener
	errCh    chan error
}

// NewExporter registers the run metrics on a private registry. runID is
// attached to every series as a constant label.
func NewExporter(agg *metrics.Aggregator, pool *session.Pool, runID string, logger zerolog.Logger) (*Exporter, error) {
	if agg == nil || pool == nil {
		return nil, errors.New("telemetry: aggregator and pool are required")
	}

	labels := prometheus.Labels{"run_id": runID}
	counter := func(name, help string, fn func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(fn()) })
	}
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, fn)
	}

	reg := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		counter("messages_published_total", "Messages handed to the broker.", agg.Published),
		counter("publish_errors_total", "Publishes the transport rejected.", agg.PublishErrors),
		counter("messages_received_total", "Messages delivered to subscribers, malformed included.", agg.Received),
		counter("messages_malformed_total", "Deliveries that failed to decode.", agg.Malformed),
		counter("connect_failures_total", "Sessions that never reached the connected state.", agg.ConnectFailures),
		gauge("sessions_active", "Sessions currently connected.", func() float64 {
			return float64(pool.Len())
		}),
		gauge("sessions_peak", "Highest number of sessions connected at once.", func() float64 {
			return float64(pool.Peak())
		}),
		gauge("latency_p95_seconds", "Running 95th percentile of end-to-end latency.", func() float64 {
			return agg.Live().P95.Seconds()
		}),
		gauge("latency_p50_seconds", "Running median of end-to-end latency.", func() float64 {
			return agg.Live().P50.Seconds()
		}),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	return &Exporter{
		registry: reg,
		logger:   logger.With().Str("component", "telemetry").Logger(),
	}, nil
}

// Registry returns the registry the run metrics live on.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler returns the /metrics handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Start begins serving on addr. It returns once the listener is bound.
func (e *Exporter) Start(addr string) error {
	if e.server != nil {
		return errors.New("telemetry: exporter already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("telemetry: failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	e.listener = ln
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	e.errCh = make(chan error, 1)

	go func() {
		err := e.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		e.errCh <- err
	}()

	e.logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (e *Exporter) Addr() string {
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// Shutdown stops the server, waiting for in-flight scrapes up to ctx.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	if err := e.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return <-e.errCh
}
