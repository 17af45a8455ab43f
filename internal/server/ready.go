// Package server contains HTTP handlers for the credential core.
// This file implements the readiness check endpoint.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

// readyHandler reports whether the service can serve traffic. With the
// PostgreSQL backend this pings the database; the memory backend is always
// ready. Returns 503 when a check fails.
func (h *Handler) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if db, ok := h.store.(interface{ DB() *sql.DB }); ok {
		if err := db.DB().PingContext(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "SIGNATURA_UNAVAILABLE", "database not ready", correlationIDFrom(r.Context()), nil)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
