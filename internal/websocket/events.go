package websocket

import (
	"go.uber.org/zap"

	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// EventBroadcaster publishes typed change notifications to all connected
// subscribers. Payloads carry ids and the new status only; subscribers
// re-query full state.
type EventBroadcaster struct {
	hub *Hub
	log *zap.SugaredLogger
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub, log *zap.SugaredLogger) *EventBroadcaster {
	return &EventBroadcaster{hub: hub, log: log}
}

// ResourceCreated announces a new resource.
func (b *EventBroadcaster) ResourceCreated(resourceID string, status models.ResourceStatus) {
	b.broadcast(NewMessage(TypeResourceCreated, ResourcePayload{ResourceID: resourceID, Status: string(status)}))
}

// ResourceUpdated announces a resource change, including derived status
// recomputation.
func (b *EventBroadcaster) ResourceUpdated(resourceID string, status models.ResourceStatus) {
	b.broadcast(NewMessage(TypeResourceUpdated, ResourcePayload{ResourceID: resourceID, Status: string(status)}))
}

// ResourceDeleted announces a resource removal.
func (b *EventBroadcaster) ResourceDeleted(resourceID string) {
	b.broadcast(NewMessage(TypeResourceDeleted, ResourcePayload{ResourceID: resourceID}))
}

// ReservationCreated announces a new reservation.
func (b *EventBroadcaster) ReservationCreated(res *models.Reservation) {
	b.broadcast(NewMessage(TypeReservationCreated, reservationPayload(res)))
}

// ReservationUpdated announces a reservation lifecycle transition.
func (b *EventBroadcaster) ReservationUpdated(res *models.Reservation) {
	b.broadcast(NewMessage(TypeReservationUpdated, reservationPayload(res)))
}

// DeviceCreated announces a new device.
func (b *EventBroadcaster) DeviceCreated(deviceID, status string) {
	b.broadcast(NewMessage(TypeDeviceCreated, DevicePayload{DeviceID: deviceID, Status: status}))
}

// DeviceUpdated announces a device change or status report.
func (b *EventBroadcaster) DeviceUpdated(deviceID, status string) {
	b.broadcast(NewMessage(TypeDeviceUpdated, DevicePayload{DeviceID: deviceID, Status: status}))
}

// DeviceDeleted announces a device removal.
func (b *EventBroadcaster) DeviceDeleted(deviceID string) {
	b.broadcast(NewMessage(TypeDeviceDeleted, DevicePayload{DeviceID: deviceID}))
}

func reservationPayload(res *models.Reservation) ReservationPayload {
	return ReservationPayload{
		ReservationID: res.ID,
		ResourceID:    res.ResourceID,
		UserID:        res.UserID,
		Status:        string(res.Status),
	}
}

func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.log.Errorw("encoding websocket message", "error", err)
		return
	}
	b.hub.Broadcast(data)
}
