// Copyright 2025 Certen Protocol
//
// Package server exposes the proof-asset registry's HTTP surface
// (spec.md §6): registration, re-verification, status-list updates, and
// audit-log retrieval, wired atop pkg/registry.Orchestrator and
// pkg/auth.Authenticator.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/certen/proof-asset-registry/pkg/audit"
	"github.com/certen/proof-asset-registry/pkg/auth"
	"github.com/certen/proof-asset-registry/pkg/database"
	"github.com/certen/proof-asset-registry/pkg/registry"
)

// AssetReader is the read side of ProofAsset storage the HTTP layer needs
// beyond what the orchestrator already exposes for mutation.
type AssetReader interface {
	Get(ctx context.Context, assetID uuid.UUID) (*database.ProofAsset, error)
	List(ctx context.Context, limit, offset int) ([]*database.ProofAsset, error)
	Recent(ctx context.Context, limit int) ([]*database.ProofAsset, error)
}

// StatusListReader is the read side of StatusList storage.
type StatusListReader interface {
	Get(ctx context.Context, url string) (*database.StatusList, error)
}

// AuditReader is the read side of the audit log.
type AuditReader interface {
	ForAsset(ctx context.Context, assetID uuid.UUID) ([]audit.Event, error)
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Server holds the registry's HTTP-facing collaborators.
type Server struct {
	Orchestrator *registry.Orchestrator
	Auth         *auth.Authenticator
	Assets       AssetReader
	StatusLists  StatusListReader
	Audit        AuditReader
	ExportWindow int
	Logger       zerolog.Logger
	Metrics      *Metrics
}

// New builds a Server. logger defaults to the package-level zerolog logger
// if the zero value is passed.
func New(orc *registry.Orchestrator, authenticator *auth.Authenticator, assets AssetReader, statusLists StatusListReader, auditReader AuditReader, exportWindow int) *Server {
	if exportWindow <= 0 {
		exportWindow = audit.DefaultExportWindow
	}
	return &Server{
		Orchestrator: orc,
		Auth:         authenticator,
		Assets:       assets,
		StatusLists:  statusLists,
		Audit:        auditReader,
		ExportWindow: exportWindow,
		Logger:       log.Logger,
		Metrics:      NewMetrics(),
	}
}

// Metrics is the HTTP layer's Prometheus instrumentation.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics registers the registry's HTTP metrics against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "par",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled by the registry, by route and status class.",
		}, []string{"route", "method", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "par",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	prometheus.MustRegister(m.Requests, m.Duration)
	return m
}

// Handler builds the registry's top-level http.Handler: the routed mux
// wrapped in request logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := s.routes()
	return withTrace(s.withObservability(mux))
}

// withObservability wraps h with structured request logging (zerolog) and
// Prometheus request counters/latency histograms, in the teacher's
// middleware-as-decorator idiom.
func (s *Server) withObservability(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		h.ServeHTTP(sw, r)

		// The mux records the matched pattern on r while routing it.
		route := routeLabel(r)
		elapsed := time.Since(start)
		s.Metrics.Requests.WithLabelValues(route, r.Method, statusClass(sw.status)).Inc()
		s.Metrics.Duration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())

		s.Logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", elapsed).
			Str("traceId", traceIDFromContext(r.Context())).
			Msg("http request")
	})
}

// MetricsHandler exposes the Prometheus exposition endpoint, served on a
// separate listener from the main API per the teacher's convention of
// isolating metrics from application traffic.
func MetricsHandler() http.Handler { return promhttp.Handler() }

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// routeLabel reduces a path to a low-cardinality route label for metrics,
// collapsing path parameters.
func routeLabel(r *http.Request) string {
	if p := r.Pattern; p != "" {
		return p
	}
	return r.URL.Path
}
