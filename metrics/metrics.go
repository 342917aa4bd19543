// Package metrics exposes a Prometheus-compatible metrics listener backed by
// VictoriaMetrics/metrics. Counters are registered by the packages that own
// them; this package only serves the scrape endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsServer serves /metrics on a dedicated listener, separate from the API.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given namespace and listen address.
// An empty listen address is allowed; ListenAndServe then becomes a no-op.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	if namespace == "" {
		return nil, fmt.Errorf("metrics namespace must not be empty")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	if m.srv.Addr == "" {
		return nil
	}
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// GetOrCreateCounter returns a process-wide counter by name.
// Name format follows the VictoriaMetrics convention, e.g.
// `requests_total{path="/internal/sign"}`.
func GetOrCreateCounter(name string) *metrics.Counter {
	return metrics.GetOrCreateCounter(name)
}
