package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iot-resource-manager/backend/internal/api/middleware"
	"github.com/iot-resource-manager/backend/internal/reservation"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// ResourceRequest is the create/update payload for a resource.
type ResourceRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Type        string  `json:"type"`
	Location    *string `json:"location"`
	Capacity    *int    `json:"capacity"`
	Status      string  `json:"status"`
}

// ListResources returns the resources visible to the caller. Non-admin
// users only see resources they hold a permission for.
func ListResources(resources *storage.ResourceRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := middleware.Principal(r)

		all, err := resources.List(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to list resources")
			return
		}

		visible := make([]models.Resource, 0, len(all))
		for _, res := range all {
			if user.CanAccessResource(res.ID) {
				visible = append(visible, res)
			}
		}

		writeJSON(w, http.StatusOK, visible)
	}
}

// GetResource returns one resource by id, subject to the same visibility
// rule as the list.
func GetResource(resources *storage.ResourceRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := middleware.Principal(r)
		id := mux.Vars(r)["id"]

		res, err := resources.GetByID(r.Context(), resources.DB(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to load resource")
			return
		}
		if res == nil || !user.CanAccessResource(id) {
			// Hidden resources read as absent so permissions do not leak
			// their existence.
			middleware.WriteError(w, http.StatusNotFound, "not_found", "Resource not found")
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

// CreateResource registers a new resource. Admin only.
func CreateResource(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResourceRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res := &models.Resource{
			Name:        req.Name,
			Description: req.Description,
			Type:        req.Type,
			Location:    req.Location,
			Capacity:    req.Capacity,
			Status:      models.ResourceStatus(req.Status),
		}
		created, err := manager.CreateResource(r.Context(), middleware.Principal(r), res)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdateResource applies admin edits to a resource.
func UpdateResource(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResourceRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res := &models.Resource{
			ID:          mux.Vars(r)["id"],
			Name:        req.Name,
			Description: req.Description,
			Type:        req.Type,
			Location:    req.Location,
			Capacity:    req.Capacity,
			Status:      models.ResourceStatus(req.Status),
		}
		updated, err := manager.UpdateResource(r.Context(), middleware.Principal(r), res)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// DeleteResource removes a resource. Admin only.
func DeleteResource(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.DeleteResource(r.Context(), middleware.Principal(r), mux.Vars(r)["id"]); err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ReserveRequest is the payload for claiming a resource.
type ReserveRequest struct {
	StartTime       *time.Time `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	UserID          string     `json:"user_id"`
	Notes           *string    `json:"notes"`
}

// ReserveResource creates a reservation on the resource for the caller, or
// for another user when an admin supplies user_id.
func ReserveResource(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReserveRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := manager.CreateReservation(r.Context(), middleware.Principal(r), reservation.CreateParams{
			ResourceID:   mux.Vars(r)["id"],
			StartTime:    req.StartTime,
			Duration:     time.Duration(req.DurationMinutes) * time.Minute,
			TargetUserID: req.UserID,
			Notes:        req.Notes,
		})
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// ReleaseRequest is the payload for releasing a resource.
type ReleaseRequest struct {
	Notes *string `json:"notes"`
	Force bool    `json:"force"`
}

// ReleaseResource ends the caller's open reservation on the resource. With
// force set, an admin releases whichever reservation holds the resource.
func ReleaseResource(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReleaseRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := manager.ReleaseReservation(r.Context(), middleware.Principal(r), reservation.ReleaseParams{
			ResourceID: mux.Vars(r)["id"],
			Notes:      req.Notes,
			Force:      req.Force,
		})
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
