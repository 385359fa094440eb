package models

import (
	"time"
)

// ResourceStatus is the derived availability of a resource. It always equals
// the status implied by the latest non-terminal reservation, except for
// maintenance which is set only by explicit admin action.
type ResourceStatus string

const (
	ResourceAvailable   ResourceStatus = "available"
	ResourceReserved    ResourceStatus = "reserved"
	ResourceMaintenance ResourceStatus = "maintenance"
)

// Resource is a shared physical asset that can be reserved, optionally wired
// to a simulated actuator or sensor.
type Resource struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Type        string         `json:"type"`
	Location    *string        `json:"location,omitempty"`
	Capacity    *int           `json:"capacity,omitempty"`
	Status      ResourceStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	// DeviceID is populated from the devices table when a device is linked.
	DeviceID *string `json:"device_id,omitempty"`
}
