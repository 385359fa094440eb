package handlers

import (
	"net/http"

	"github.com/iot-resource-manager/backend/internal/api/middleware"
	"github.com/iot-resource-manager/backend/internal/export"
	"github.com/iot-resource-manager/backend/internal/storage"
)

// ExportReservations downloads the reservation history as CSV or PDF.
// Admin only. Takes the same filter parameters as the list endpoint.
func ExportReservations(reservations *storage.ReservationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseReservationFilter(r)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "validation_error", "Invalid time filter, expected RFC 3339")
			return
		}

		list, err := reservations.List(r.Context(), filter, middleware.Principal(r))
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to list reservations")
			return
		}

		format := r.URL.Query().Get("format")
		if format == "" {
			format = "csv"
		}

		switch format {
		case "csv":
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", "attachment; filename=reservations.csv")
			if err := export.WriteCSV(w, list); err != nil {
				middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to render export")
			}
		case "pdf":
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Disposition", "attachment; filename=reservations.pdf")
			if err := export.WritePDF(w, list); err != nil {
				middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to render export")
			}
		default:
			middleware.WriteError(w, http.StatusBadRequest, "validation_error", "Unsupported export format")
		}
	}
}
