package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeResourceCreated    MessageType = "resource.created"
	TypeResourceUpdated    MessageType = "resource.updated"
	TypeResourceDeleted    MessageType = "resource.deleted"
	TypeReservationCreated MessageType = "reservation.created"
	TypeReservationUpdated MessageType = "reservation.updated"
	TypeDeviceCreated      MessageType = "device.created"
	TypeDeviceUpdated      MessageType = "device.updated"
	TypeDeviceDeleted      MessageType = "device.deleted"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// ResourcePayload is the payload for resource.* events.
type ResourcePayload struct {
	ResourceID string `json:"resource_id"`
	Status     string `json:"status,omitempty"`
}

// ReservationPayload is the payload for reservation.* events.
type ReservationPayload struct {
	ReservationID string `json:"reservation_id"`
	ResourceID    string `json:"resource_id"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
}

// DevicePayload is the payload for device.* events.
type DevicePayload struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status,omitempty"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
