package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"firehouse/internal/ecode"
	"firehouse/internal/logging"
)

const traceHeader = "X-Request-ID"

// WithRecover wraps an http.Handler and recovers from panics,
// returning a JSON 500 instead of crashing the server.
func WithRecover(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error(r.Context(), "panic recovered", "panic", rec, "method", r.Method, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(ecode.New("internal", "Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// WithTrace gives every request a trace id, taken from X-Request-ID when
// the client sent one, and logs the request once it is served.
func WithTrace(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(traceHeader); id != "" {
			ctx = logging.WithTraceID(ctx, id)
		}
		ctx, id := logging.EnsureTraceID(ctx)
		w.Header().Set(traceHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		log.Info(ctx, "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String())
	})
}
