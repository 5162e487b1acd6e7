package logging

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// SlogMiddleWare returns a middleware that writes one access-log line per
// request and turns panics into 500 responses with a logged stack trace.
func SlogMiddleWare(l *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				if rec := recover(); rec != nil {
					l.Error("request panic",
						"request_id", GetRequestID(r),
						"recover_info", rec,
						"debug_stack", string(debug.Stack()))
					http.Error(ww, http.StatusText(http.StatusInternalServerError),
						http.StatusInternalServerError)
				}
				l.Info("request",
					"request_id", GetRequestID(r),
					"method", r.Method,
					"url", r.URL.Path,
					"proto", r.Proto,
					"remote_ip", r.RemoteAddr,
					"user_agent", r.Header.Get("User-Agent"),
					"status", ww.Status(),
					"bytes_out", ww.BytesWritten(),
					"latency_ms", float64(time.Since(start).Microseconds())/1000.0)
			}()
			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// GetRequestID returns the chi request ID, or "-" when none is set.
func GetRequestID(r *http.Request) string {
	if id, ok := r.Context().Value(middleware.RequestIDKey).(string); ok {
		return id
	}
	return "-"
}
