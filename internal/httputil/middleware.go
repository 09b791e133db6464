package httputil

import (
	"net/http"
	"time"

	"github.com/fpang/image-analysis-pipeline/internal/metrics"
)

// WithCORS adds permissive CORS headers to every response and answers
// preflight requests directly. methods is the Access-Control-Allow-Methods
// value, e.g. "OPTIONS,GET,POST,DELETE".
func WithCORS(methods string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", CORSAllowHeaders)
		h.Set("Access-Control-Allow-Methods", methods)
		if r.Method == http.MethodOptions {
			RespondJSON(w, http.StatusOK, map[string]string{})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// WithMetrics emits RequestLatencyMs and RequestCount per request, plus
// RequestErrors for 5xx responses. endpoint maps a request to a
// low-cardinality Endpoint dimension.
func WithMetrics(endpoint func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		rec := metrics.New().
			Dimension("Endpoint", endpoint(r)).
			Duration(metrics.MetricRequestLatency, time.Since(start)).
			Count(metrics.MetricRequestCount).
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Property("path", r.URL.Path)
		if sr.statusCode >= http.StatusInternalServerError {
			rec.Count(metrics.MetricRequestErrors)
		}
		rec.Flush()
	})
}
