// Package models contains the domain models for the application.
package models

import (
	"time"
)

// UserRole identifies the access level of a user.
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

// User is a system principal. Credential storage and token issuance live in
// the external identity service; this row carries role, status and the
// per-resource permission set consulted by the access guard.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  *string   `json:"full_name,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Role      UserRole  `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// PermittedResourceIDs is populated from resource_permissions.
	// Only meaningful for non-admin users.
	PermittedResourceIDs []string `json:"permitted_resource_ids"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanAccessResource reports whether the user may see or reserve the resource.
func (u *User) CanAccessResource(resourceID string) bool {
	if u.IsAdmin() {
		return true
	}
	for _, id := range u.PermittedResourceIDs {
		if id == resourceID {
			return true
		}
	}
	return false
}

// ResourcePermission grants a non-admin user access to a single resource.
type ResourcePermission struct {
	UserID     string `json:"user_id"`
	ResourceID string `json:"resource_id"`
}
