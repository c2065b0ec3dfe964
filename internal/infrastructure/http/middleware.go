package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/prontopos/pronto-core/internal/observability"
	"github.com/prontopos/pronto-core/internal/observability/logctx"
)

const headerRequestID = "X-Request-ID"

type routeKey struct{}

// contextWithRoute stores the stable route template so metrics and logs keep
// low-cardinality labels.
func contextWithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withObservability chains trace extraction, a request-scoped logger, RED
// metrics, and one access log line around the handler.
func (h *Handler) withObservability(route string, next http.HandlerFunc) http.HandlerFunc {
	prop := otel.GetTextMapPropagator()

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := contextWithRoute(prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)), route)

		rid := r.Header.Get(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(headerRequestID, rid)

		ctx, span := h.tel.Tracer().Start(ctx, route,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()

		fields := []observability.Field{observability.F("request_id", rid)}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		reqLogger := h.log.With(fields...)
		ctx = logctx.With(ctx, reqLogger)

		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(lrw, r.WithContext(ctx))

		statusLabel := strconv.Itoa(lrw.status)
		h.tel.Metrics().Counter(observability.MHTTPRequests).Add(1,
			observability.L("method", r.Method),
			observability.L("route", route),
			observability.L("status", statusLabel),
		)
		h.tel.Metrics().Histogram(observability.MHTTPRequestDuration).Observe(time.Since(start).Seconds(),
			observability.L("method", r.Method),
			observability.L("route", route),
			observability.L("status", statusLabel),
		)

		reqLogger.Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", route),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	}
}
