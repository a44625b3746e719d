package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/probelab/dataprobe/internal/api/response"
)

// Recovery converts a handler panic into the standard 500 error envelope.
// A panic while processing one task request must never take the server down
// with other tasks in flight.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
