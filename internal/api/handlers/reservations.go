package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iot-resource-manager/backend/internal/api/middleware"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// parseReservationFilter reads list query parameters. Bad time values are
// reported rather than ignored.
func parseReservationFilter(r *http.Request) (models.ReservationFilter, error) {
	var filter models.ReservationFilter
	q := r.URL.Query()

	if v := q.Get("resource_id"); v != "" {
		filter.ResourceID = &v
	}
	if v := q.Get("user_id"); v != "" {
		filter.UserID = &v
	}
	if v := q.Get("status"); v != "" {
		status := models.ReservationStatus(v)
		filter.Status = &status
	}
	if v := q.Get("start_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.StartFrom = &t
	}
	if v := q.Get("start_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.StartTo = &t
	}
	return filter, nil
}

// ListReservations returns reservations matching the query filters. Admins
// see everything; other users see their own plus those on permitted
// resources.
func ListReservations(reservations *storage.ReservationRepository) http.HandlerFunc {
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
		writeJSON(w, http.StatusOK, list)
	}
}

// GetReservation returns one reservation. Visible to its owner, to admins
// and to users permitted on the resource.
func GetReservation(reservations *storage.ReservationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := middleware.Principal(r)
		id := mux.Vars(r)["id"]

		res, err := reservations.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to load reservation")
			return
		}
		if res == nil {
			middleware.WriteError(w, http.StatusNotFound, "not_found", "Reservation not found")
			return
		}
		if res.UserID != user.ID && !user.CanAccessResource(res.ResourceID) {
			middleware.WriteError(w, http.StatusNotFound, "not_found", "Reservation not found")
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

// ReservationStats returns aggregate reservation statistics. Admin only.
func ReservationStats(reservations *storage.ReservationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := reservations.Stats(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to compute statistics")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
