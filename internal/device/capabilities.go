// Package device implements the per-device command queue and the closed
// capability table mapping device variants to the commands they accept.
package device

import (
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// capabilities maps each device variant to the actions it accepts. The set
// is closed: unknown variants accept nothing.
var capabilities = map[models.DeviceType][]models.CommandAction{
	models.DeviceLock:   {models.ActionLock, models.ActionUnlock},
	models.DeviceSensor: {models.ActionRead, models.ActionActivate, models.ActionDeactivate},
	models.DeviceOther:  {models.ActionActivate, models.ActionDeactivate},
}

// Supports reports whether a device variant accepts the given action.
func Supports(deviceType models.DeviceType, action models.CommandAction) bool {
	for _, a := range capabilities[deviceType] {
		if a == action {
			return true
		}
	}
	return false
}

// KnownType reports whether the device variant is part of the closed set.
func KnownType(deviceType models.DeviceType) bool {
	_, ok := capabilities[deviceType]
	return ok
}

// Actions returns the actions a device variant accepts.
func Actions(deviceType models.DeviceType) []models.CommandAction {
	return capabilities[deviceType]
}
