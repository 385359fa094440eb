package models

import (
	"time"
)

// Audit actions recorded by the reservation manager and admin operations.
const (
	AuditReservationCreated   = "reservation_created"
	AuditReservationReleased  = "reservation_released"
	AuditReservationActivated = "reservation_activated"
	AuditReservationExpired   = "reservation_expired"
	AuditReservationCancelled = "reservation_cancelled"
	AuditResourceCreated      = "resource_created"
	AuditResourceUpdated      = "resource_updated"
	AuditResourceDeleted      = "resource_deleted"
	AuditDeviceCreated        = "device_created"
	AuditDeviceUpdated        = "device_updated"
	AuditDeviceDeleted        = "device_deleted"
	AuditUserCreated          = "user_created"
	AuditUserUpdated          = "user_updated"
	AuditUserDeleted          = "user_deleted"
	AuditPermissionsUpdated   = "permissions_updated"
)

// Audit results.
const (
	AuditResultSuccess = "success"
	AuditResultDenied  = "denied"
	AuditResultError   = "error"
)

// AuditLogEntry is an immutable record of a state-affecting action.
// UserID is nil for system-triggered actions (sweeper transitions).
type AuditLogEntry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        *string        `json:"user_id,omitempty"`
	Action        string         `json:"action"`
	ResourceID    *string        `json:"resource_id,omitempty"`
	DeviceID      *string        `json:"device_id,omitempty"`
	ReservationID *string        `json:"reservation_id,omitempty"`
	Result        string         `json:"result"`
	Details       map[string]any `json:"details,omitempty"`
}
