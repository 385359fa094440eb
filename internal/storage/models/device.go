package models

import (
	"time"
)

// DeviceType is a closed set of device variants. Command eligibility per
// variant is defined by the capability table in the device package.
type DeviceType string

const (
	DeviceLock   DeviceType = "lock"
	DeviceSensor DeviceType = "sensor"
	DeviceOther  DeviceType = "other"
)

// Device is a simulated IoT actuator or sensor. Status and the reported
// values are written exclusively by the device agent's status reports.
type Device struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Type           DeviceType `json:"type"`
	Status         string     `json:"status"`
	NumericValue   *float64   `json:"numeric_value,omitempty"`
	TextValue      *string    `json:"text_value,omitempty"`
	ResourceID     *string    `json:"resource_id,omitempty"`
	LastReportedAt *time.Time `json:"last_reported_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CommandAction is an instruction the device agent executes on a device.
type CommandAction string

const (
	ActionLock       CommandAction = "lock"
	ActionUnlock     CommandAction = "unlock"
	ActionRead       CommandAction = "read"
	ActionActivate   CommandAction = "activate"
	ActionDeactivate CommandAction = "deactivate"
)

// DeviceCommand is one entry in a device's FIFO command queue. A command is
// delivered to the agent at most once: fetching implies marking consumed.
type DeviceCommand struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	Action     CommandAction  `json:"action"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ConsumedAt *time.Time     `json:"consumed_at,omitempty"`
}
