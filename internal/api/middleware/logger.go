package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harborgrid-justin/black-cross-sub000/internal/metrics"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// Logger logs every request and records its latency under the matched route
// pattern, so /records/{id}/edges is one series no matter the id. Probe
// endpoints log at debug; server errors at error.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				elapsed := time.Since(start)
				status := ww.Status()
				if status == 0 {
					// hijacked websocket or handler that never wrote
					status = http.StatusSwitchingProtocols
				}
				route := routePattern(r)
				metrics.HTTPRequests.
					WithLabelValues(r.Method, route, strconv.Itoa(status/100)+"xx").
					Observe(elapsed.Seconds())

				event := log.Info()
				switch {
				case status >= http.StatusInternalServerError:
					event = log.Error()
				case isProbe(r.URL.Path):
					event = log.Debug()
				}
				event.
					Str("method", r.Method).
					Str("route", route).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", elapsed).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func isProbe(path string) bool {
	switch path {
	case "/health", "/ready", "/metrics":
		return true
	}
	return false
}
