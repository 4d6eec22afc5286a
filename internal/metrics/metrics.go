// Package metrics exposes worker counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quark_mirror"

// Job outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeRequeued  = "requeued"
	OutcomeDead      = "dead"
	OutcomeDropped   = "dropped"
)

// Metrics holds the worker's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry        *prometheus.Registry
	jobs            *prometheus.CounterVec
	requeues        prometheus.Counter
	deadLetters     *prometheus.CounterVec
	dirCacheLookups *prometheus.CounterVec
	credentialValid prometheus.Gauge
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Transfer jobs handled, by outcome.",
		}, []string{"outcome"}),
		requeues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requeues_total",
			Help:      "Jobs pushed back onto the transfer queue after a network failure.",
		}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Jobs moved to the dead-letter list, by error class.",
		}, []string{"reason"}),
		dirCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dircache_lookups_total",
			Help:      "Destination directory cache lookups, by result.",
		}, []string{"result"}),
		credentialValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credential_valid",
			Help:      "1 when the last credential validation succeeded.",
		}),
	}

	m.registry.MustRegister(m.Collectors()...)

	return m
}

// Collectors returns all metrics as collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}

	return []prometheus.Collector{m.jobs, m.requeues, m.deadLetters, m.dirCacheLookups, m.credentialValid}
}

// JobDone counts a job by outcome.
func (m *Metrics) JobDone(outcome string) {
	if m == nil {
		return
	}

	m.jobs.WithLabelValues(outcome).Inc()
}

// Requeued counts a retry push.
func (m *Metrics) Requeued() {
	if m == nil {
		return
	}

	m.requeues.Inc()
}

// DeadLettered counts a dead-letter push. reason is the error class.
func (m *Metrics) DeadLettered(reason string) {
	if m == nil {
		return
	}

	m.deadLetters.WithLabelValues(reason).Inc()
}

// DirCacheLookup counts a destination directory cache hit or miss.
func (m *Metrics) DirCacheLookup(hit bool) {
	if m == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	m.dirCacheLookups.WithLabelValues(result).Inc()
}

// SetCredentialValid records the latest validation result.
func (m *Metrics) SetCredentialValid(valid bool) {
	if m == nil {
		return
	}

	v := 0.0
	if valid {
		v = 1
	}

	m.credentialValid.Set(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled. An empty addr
// returns immediately.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" || m == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listening on %s: %w", addr, err)
	}

	logger.Info("metrics listener started", slog.String("addr", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics: shutting down: %w", err)
		}

		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics: serving: %w", err)
	}
}
