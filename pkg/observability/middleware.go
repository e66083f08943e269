package observability

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps an http.Handler, most usefully the route mux, with a
// server span and the RED instruments. The span is renamed after the mux has
// matched so it carries the route pattern, never a share token from the raw
// path.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := p.StartSpan(r.Context(), r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		// The mux stamps the matched pattern onto the request it serves, so
		// hold the copy to read it back.
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		attrs := []attribute.KeyValue{
			AttrHTTPRoute.String(route),
			AttrHTTPMethod.String(r.Method),
		}

		span.SetName(route)
		span.SetAttributes(append(attrs, AttrHTTPStatus.Int(rec.status))...)
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}

		p.RecordRequest(ctx, attrs...)
		p.RecordDuration(ctx, time.Since(start), attrs...)
		if rec.status >= http.StatusInternalServerError {
			p.RecordError(ctx, fmt.Errorf("http %d", rec.status), attrs...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
