// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iot-resource-manager/backend/internal/api/handlers"
	"github.com/iot-resource-manager/backend/internal/api/middleware"
	"github.com/iot-resource-manager/backend/internal/device"
	"github.com/iot-resource-manager/backend/internal/reservation"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/websocket"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	DB           *storage.DB
	Resources    *storage.ResourceRepository
	Devices      *storage.DeviceRepository
	Reservations *storage.ReservationRepository
	Users        *storage.UserRepository
	Audits       *storage.AuditRepository
	Queue        *device.Queue
	Manager      *reservation.Manager
	Hub          *websocket.Hub
	Broadcaster  *websocket.EventBroadcaster
	JWTSecret    string
	StaticDir    string
	Log          *zap.SugaredLogger
}

// NewRouter creates and configures the HTTP router with all API routes.
//
// Three auth tiers: /health, /metrics and the device-agent endpoints are
// open (the agent runs inside the trust boundary and carries no user
// token); everything else requires a bearer token, with the admin surface
// additionally gated on role.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.ErrorRecovery(d.Log))
	r.Use(middleware.Metrics())

	api := r.PathPrefix("/api").Subrouter()

	// Unauthenticated surface
	api.HandleFunc("/health", handlers.HealthCheck(d.DB, d.Hub)).Methods("GET")
	api.Handle("/metrics", promhttp.Handler()).Methods("GET")
	api.HandleFunc("/devices/{id}/report", handlers.ReportDeviceStatus(d.Devices, d.Broadcaster)).Methods("POST")
	api.HandleFunc("/devices/{id}/commands/next", handlers.NextDeviceCommand(d.Queue, d.Devices)).Methods("POST")

	// Authenticated surface
	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.Auth(d.JWTSecret, d.Users))

	authed.HandleFunc("/ws", handlers.WebSocketUpgrade(d.Hub, d.Log)).Methods("GET")

	authed.HandleFunc("/resources", handlers.ListResources(d.Resources)).Methods("GET")
	authed.HandleFunc("/resources/{id}", handlers.GetResource(d.Resources)).Methods("GET")
	authed.HandleFunc("/resources/{id}/reserve", handlers.ReserveResource(d.Manager)).Methods("POST")
	authed.HandleFunc("/resources/{id}/release", handlers.ReleaseResource(d.Manager)).Methods("POST")

	authed.HandleFunc("/reservations", handlers.ListReservations(d.Reservations)).Methods("GET")
	authed.HandleFunc("/reservations/{id:[0-9a-fA-F-]{36}}", handlers.GetReservation(d.Reservations)).Methods("GET")

	authed.HandleFunc("/devices", handlers.ListDevices(d.Devices)).Methods("GET")
	authed.HandleFunc("/devices/{id}", handlers.GetDevice(d.Devices)).Methods("GET")

	authed.HandleFunc("/users/me", handlers.Me()).Methods("GET")

	// Admin surface
	admin := authed.NewRoute().Subrouter()
	admin.Use(middleware.RequireAdmin)

	admin.HandleFunc("/resources", handlers.CreateResource(d.Manager)).Methods("POST")
	admin.HandleFunc("/resources/{id}", handlers.UpdateResource(d.Manager)).Methods("PUT")
	admin.HandleFunc("/resources/{id}", handlers.DeleteResource(d.Manager)).Methods("DELETE")

	admin.HandleFunc("/reservations/stats/summary", handlers.ReservationStats(d.Reservations)).Methods("GET")
	admin.HandleFunc("/reservations/export", handlers.ExportReservations(d.Reservations)).Methods("GET")

	admin.HandleFunc("/devices", handlers.CreateDevice(d.Manager)).Methods("POST")
	admin.HandleFunc("/devices/{id}", handlers.UpdateDevice(d.Manager)).Methods("PUT")
	admin.HandleFunc("/devices/{id}", handlers.DeleteDevice(d.Manager)).Methods("DELETE")

	admin.HandleFunc("/users", handlers.ListUsers(d.Users)).Methods("GET")
	admin.HandleFunc("/users", handlers.CreateUser(d.Manager)).Methods("POST")
	admin.HandleFunc("/users/{id}", handlers.UpdateUser(d.Manager, d.Users)).Methods("PUT")
	admin.HandleFunc("/users/{id}", handlers.DeleteUser(d.Manager)).Methods("DELETE")
	admin.HandleFunc("/users/{id}/permissions", handlers.UpdatePermissions(d.Manager)).Methods("PUT")

	admin.HandleFunc("/audit-logs", handlers.ListAuditLogs(d.Audits)).Methods("GET")

	// Serve static frontend files
	if d.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(d.StaticDir)))
	}

	return r
}
