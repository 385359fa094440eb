package handlers

import (
	"net/http"
	"strconv"

	"github.com/iot-resource-manager/backend/internal/api/middleware"
	"github.com/iot-resource-manager/backend/internal/storage"
)

// ListAuditLogs returns the newest audit entries. Admin only. The limit
// query parameter caps the result, default 100, max 1000.
func ListAuditLogs(audits *storage.AuditRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				middleware.WriteError(w, http.StatusBadRequest, "validation_error", "Limit must be a positive integer")
				return
			}
			limit = n
		}
		if limit > 1000 {
			limit = 1000
		}

		entries, err := audits.List(r.Context(), limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to list audit entries")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
