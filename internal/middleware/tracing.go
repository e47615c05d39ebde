package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request. Once chi has routed the request
// the span is named after the route pattern, e.g. "GET /api/v1/purchases/{id}";
// unrouted requests keep operation.
func Tracing(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		// otelhttp renames the span only when chi set the pattern on its own
		// request; routes behind middleware that rewrites the context are
		// named here instead.
		named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if name := routeName(r); name != "" {
				trace.SpanFromContext(r.Context()).SetName(name)
			}
		})
		return otelhttp.NewHandler(named, operation, otelhttp.WithSpanNameFormatter(spanName))
	}
}

func spanName(operation string, r *http.Request) string {
	if name := routeName(r); name != "" {
		return name
	}
	return operation
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

func routeName(r *http.Request) string {
	if p := routePattern(r); p != "" {
		return r.Method + " " + p
	}
	return ""
}
