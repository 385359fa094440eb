package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iot-resource-manager/backend/internal/api/middleware"
	"github.com/iot-resource-manager/backend/internal/reservation"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// UserRequest is the create/update payload for a user account.
type UserRequest struct {
	Username string  `json:"username"`
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Role     string  `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// Me returns the authenticated user's own record.
func Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, middleware.Principal(r))
	}
}

// ListUsers returns all user accounts. Admin only.
func ListUsers(users *storage.UserRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := users.List(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to list users")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// CreateUser registers a user account. Admin only.
func CreateUser(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UserRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		u := &models.User{
			Username: req.Username,
			FullName: req.FullName,
			Email:    req.Email,
			Role:     models.UserRole(req.Role),
			IsActive: true,
		}
		if req.IsActive != nil {
			u.IsActive = *req.IsActive
		}

		created, err := manager.CreateUser(r.Context(), middleware.Principal(r), u)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdateUser applies admin edits to a user account.
func UpdateUser(manager *reservation.Manager, users *storage.UserRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req UserRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		existing, err := users.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to load user")
			return
		}
		if existing == nil {
			middleware.WriteError(w, http.StatusNotFound, "not_found", "User not found")
			return
		}

		// Partial update: absent fields keep their stored values. The
		// username is immutable.
		u := *existing
		if req.FullName != nil {
			u.FullName = req.FullName
		}
		if req.Email != nil {
			u.Email = req.Email
		}
		if req.Role != "" {
			u.Role = models.UserRole(req.Role)
		}
		if req.IsActive != nil {
			u.IsActive = *req.IsActive
		}

		updated, err := manager.UpdateUser(r.Context(), middleware.Principal(r), &u)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// DeleteUser removes a user account. Admin only.
func DeleteUser(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.DeleteUser(r.Context(), middleware.Principal(r), mux.Vars(r)["id"]); err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PermissionsRequest replaces a user's permitted resource set.
type PermissionsRequest struct {
	ResourceIDs []string `json:"resource_ids"`
}

// UpdatePermissions replaces the target user's resource permissions. Admin
// only.
func UpdatePermissions(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PermissionsRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := manager.SyncPermissions(r.Context(), middleware.Principal(r), mux.Vars(r)["id"], req.ResourceIDs); err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
