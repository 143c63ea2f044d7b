package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// RequestLogger emits one structured line per completed request with the
// status, duration, and tenant header. The request id comes from chi's
// RequestID middleware, which runs earlier in the chain.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	httpLog := logger.Component("http")

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(r.Context()),
				"remote_ip", r.RemoteAddr,
			}
			if practiceID := r.Header.Get("X-Practice-Id"); practiceID != "" {
				fields = append(fields, "practice_id", practiceID)
			}
			httpLog.Info("request completed", fields...)
		}
		return http.HandlerFunc(fn)
	}
}
