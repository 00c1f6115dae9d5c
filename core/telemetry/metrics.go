// Package telemetry wires process-wide metrics and tracing.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/featurebot/core/logger"
)

// Metrics holds the bot-level collectors and the registry they live in.
type Metrics struct {
	Registry *prometheus.Registry

	// Updates counts inbound updates by kind (message, callback, inline, ...).
	Updates *prometheus.CounterVec
	// Blocked counts updates rejected by the admission gate.
	Blocked prometheus.Counter
	// Dispatches counts routed callback tokens by kind.
	Dispatches *prometheus.CounterVec
}

// NewMetrics creates a registry with the Go and process collectors plus the bot counters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Updates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "featurebot_updates_total",
			Help: "Inbound Telegram updates by kind.",
		}, []string{"kind"}),
		Blocked: f.NewCounter(prometheus.CounterOpts{
			Name: "featurebot_admission_blocked_total",
			Help: "Updates rejected by the admission gate.",
		}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "featurebot_dispatch_total",
			Help: "Callback tokens routed by kind.",
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is done. An empty addr returns immediately.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.App.Info("metrics listening",
			slog.String("event", "telemetry.metrics"),
			slog.String("addr", addr),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
