package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	httpMeter              = otel.Meter("flowly/http")
	httpRequestDuration, _ = httpMeter.Float64Histogram("http.server.route.duration",
		metric.WithDescription("HTTP request duration in seconds, per route template"),
		metric.WithUnit("s"),
	)
	httpRequestTotal, _ = httpMeter.Int64Counter("http.server.route.total",
		metric.WithDescription("Total HTTP requests per route template"),
	)
)

// RouteMetrics records per-route metrics keyed by the mux path template, so
// ids in the path do not explode cardinality. It also names the active span
// after the route. Use it as router middleware.
func RouteMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		span := trace.SpanFromContext(r.Context())
		span.SetName(r.Method + " " + route)
		span.SetAttributes(attribute.String("http.route", route))

		start := time.Now()
		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		status := wrapped.status
		if status == 0 {
			status = http.StatusOK
		}

		attrs := metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		httpRequestDuration.Record(r.Context(), time.Since(start).Seconds(), attrs)
		httpRequestTotal.Add(r.Context(), 1, attrs)
	})
}
