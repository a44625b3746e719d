package handler

import (
	"context"
	"net/http"

	"github.com/probelab/dataprobe/internal/api/response"
)

// Pinger reports whether one backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. Each
// dependency is pinged independently; any failure degrades the whole check.
func NewHealthHandler(db, cache, objects Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"storage":  "ok",
		}
		degraded := false

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
			degraded = true
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
			degraded = true
		}
		if err := objects.Ping(r.Context()); err != nil {
			checks["storage"] = "degraded"
			degraded = true
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}
		response.JSON(w, map[string]any{"status": "ok", "checks": checks})
	}
}
