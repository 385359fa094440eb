package handlers

import (
	"net/http"

	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
	Subscribers int    `json:"subscribers"`
}

// HealthCheck reports process liveness and database reachability.
func HealthCheck(db *storage.DB, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.Ping() == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		subscribers := 0
		if hub != nil {
			subscribers = hub.ClientCount()
		}

		writeJSON(w, code, HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
			Subscribers: subscribers,
		})
	}
}
