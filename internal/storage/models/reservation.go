package models

import (
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
//
// scheduled -> active -> (completed | expired)
// scheduled -> cancelled
//
// completed, expired and cancelled are terminal; a reservation in a terminal
// state is immutable.
type ReservationStatus string

const (
	ReservationScheduled ReservationStatus = "scheduled"
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// IsTerminal reports whether the status admits no further transition.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case ReservationCompleted, ReservationCancelled, ReservationExpired:
		return true
	}
	return false
}

// Reservation is a time-bounded claim on a resource by a user. The interval
// is half-open: [StartTime, ExpiresAt). Touching boundaries do not conflict.
type Reservation struct {
	ID              string            `json:"id"`
	ResourceID      string            `json:"resource_id"`
	UserID          string            `json:"user_id"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	ExpiresAt       time.Time         `json:"expires_at"`
	Status          ReservationStatus `json:"status"`
	Notes           *string           `json:"notes,omitempty"`
	ReleasedByAdmin bool              `json:"released_by_admin"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`

	// ResourceName and Username are populated on list/get queries.
	ResourceName *string `json:"resource_name,omitempty"`
	Username     *string `json:"username,omitempty"`
}

// ReservationFilter narrows reservation list queries.
type ReservationFilter struct {
	ResourceID *string
	UserID     *string
	Status     *ReservationStatus
	StartFrom  *time.Time
	StartTo    *time.Time
}
