package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iot-resource-manager/backend/internal/api/middleware"
	"github.com/iot-resource-manager/backend/internal/device"
	"github.com/iot-resource-manager/backend/internal/reservation"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
	"github.com/iot-resource-manager/backend/internal/websocket"
)

// DeviceRequest is the create/update payload for a device.
type DeviceRequest struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	ResourceID *string `json:"resource_id"`
}

// ListDevices returns all registered devices.
func ListDevices(devices *storage.DeviceRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := devices.List(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GetDevice returns one device by id.
func GetDevice(devices *storage.DeviceRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := devices.GetByID(r.Context(), devices.DB(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to load device")
			return
		}
		if d == nil {
			middleware.WriteError(w, http.StatusNotFound, "not_found", "Device not found")
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// CreateDevice registers a new device. Admin only.
func CreateDevice(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeviceRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		d := &models.Device{
			Name:       req.Name,
			Type:       models.DeviceType(req.Type),
			ResourceID: req.ResourceID,
		}
		created, err := manager.CreateDevice(r.Context(), middleware.Principal(r), d)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// UpdateDevice applies admin edits to a device.
func UpdateDevice(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeviceRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		d := &models.Device{
			ID:         mux.Vars(r)["id"],
			Name:       req.Name,
			Type:       models.DeviceType(req.Type),
			ResourceID: req.ResourceID,
		}
		updated, err := manager.UpdateDevice(r.Context(), middleware.Principal(r), d)
		if err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// DeleteDevice removes a device and its queued commands. Admin only.
func DeleteDevice(manager *reservation.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.DeleteDevice(r.Context(), middleware.Principal(r), mux.Vars(r)["id"]); err != nil {
			middleware.WriteAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeviceReportRequest is the device agent's status report payload. The
// reported state is authoritative; a report stands even when it disagrees
// with commands the backend queued earlier.
type DeviceReportRequest struct {
	Status       string   `json:"status"`
	NumericValue *float64 `json:"numeric_value"`
	TextValue    *string  `json:"text_value"`
}

// ReportDeviceStatus ingests a status report from the device agent.
func ReportDeviceStatus(devices *storage.DeviceRepository, broadcaster *websocket.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req DeviceReportRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Status == "" {
			middleware.WriteError(w, http.StatusBadRequest, "validation_error", "Status is required")
			return
		}

		existing, err := devices.GetByID(r.Context(), devices.DB(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to load device")
			return
		}
		if existing == nil {
			middleware.WriteError(w, http.StatusNotFound, "not_found", "Device not found")
			return
		}

		if err := devices.RecordReport(r.Context(), id, req.Status, req.NumericValue, req.TextValue); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to record report")
			return
		}
		if broadcaster != nil {
			broadcaster.DeviceUpdated(id, req.Status)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NextDeviceCommand hands the oldest pending command to the device agent
// and marks it consumed in the same transaction. 204 when the queue is
// empty. A fetched command is gone; delivery is at most once.
func NextDeviceCommand(queue *device.Queue, devices *storage.DeviceRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		existing, err := devices.GetByID(r.Context(), devices.DB(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to load device")
			return
		}
		if existing == nil {
			middleware.WriteError(w, http.StatusNotFound, "not_found", "Device not found")
			return
		}

		cmd, err := queue.FetchNext(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to fetch command")
			return
		}
		if cmd == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, cmd)
	}
}
