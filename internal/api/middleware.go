package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"stockhero/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// VerdictHeader carries the verdict of a pipeline run triggered over HTTP
const VerdictHeader = "X-Pipeline-Verdict"

const (
	triggerRoute = "/api/update-stock"
	metricsRoute = "/metrics"
)

// statusRecorder captures the status code and body size written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// triggerOutcome names what an update-stock request led to: the run verdict when a
// run happened, otherwise why it did not
func triggerOutcome(status int, verdict string) string {
	switch {
	case verdict != "":
		return verdict
	case status == http.StatusConflict:
		return "rejected"
	case status == http.StatusBadRequest:
		return "bad_request"
	default:
		return "error"
	}
}

// Instrument records HTTP metrics and one log line per request. Pipeline triggers
// also count their outcome.
func Instrument(logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = observability.OrDefault(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			duration := time.Since(start)

			metrics := observability.GetMetrics()
			metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), duration, rec.size)

			attrs := []any{
				"method", r.Method,
				"route", route,
				"status", rec.status,
				"duration_ms", duration.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			}
			switch route {
			case triggerRoute:
				outcome := triggerOutcome(rec.status, rec.Header().Get(VerdictHeader))
				metrics.RecordTrigger("http", outcome)
				logger.Info("pipeline triggered", append(attrs, "outcome", outcome, "date", r.URL.Query().Get("date"))...)
			case metricsRoute:
				logger.Debug("http request", attrs...)
			default:
				logger.Info("http request", attrs...)
			}
		})
	}
}

// CORSMiddleware returns CORS middleware with the specified allowed origins
func CORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", VerdictHeader)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
