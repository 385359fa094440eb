// Package reservation implements the reservation lifecycle engine: request
// validation, conflict detection, state transitions, device actuation and
// the audit trail, plus the background sweeper driving time-based
// transitions.
package reservation

import (
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// Guard is the authorization check consulted before any mutating operation.
type Guard struct{}

// CanAccess reports whether the user may see or reserve the resource:
// admins always, others only with an explicit resource permission.
func (Guard) CanAccess(user *models.User, resourceID string) bool {
	if user == nil {
		return false
	}
	return user.CanAccessResource(resourceID)
}

// CanActFor reports whether the user may create a reservation on behalf of
// the target user: always for themselves (or an unset target), otherwise
// only admins.
func (Guard) CanActFor(user *models.User, targetUserID string) bool {
	if user == nil {
		return false
	}
	if targetUserID == "" || targetUserID == user.ID {
		return true
	}
	return user.IsAdmin()
}
