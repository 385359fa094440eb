// Package main is the entry point for the IoT resource reservation server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iot-resource-manager/backend/internal/api"
	"github.com/iot-resource-manager/backend/internal/config"
	"github.com/iot-resource-manager/backend/internal/device"
	"github.com/iot-resource-manager/backend/internal/logger"
	"github.com/iot-resource-manager/backend/internal/reservation"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
	"github.com/iot-resource-manager/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	cfg := config.Load()

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.HTTPAddr); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}

	log := logger.New()
	defer log.Sync()

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}
	log.Infow("starting resource reservation server", "version", version, "addr", cfg.HTTPAddr)

	db, err := storage.NewDB(filepath.Join(cfg.DataDir, "resource-manager.db"))
	if err != nil {
		log.Fatalw("opening database", "error", err)
	}
	defer db.Close()

	applied, err := storage.RunMigrations(db)
	if err != nil {
		log.Fatalw("running migrations", "error", err)
	}
	log.Infow("database migrations complete", "applied", len(applied))

	hub := websocket.NewHub(log)
	go hub.Run()

	resourceRepo := storage.NewResourceRepository(db)
	deviceRepo := storage.NewDeviceRepository(db)
	reservationRepo := storage.NewReservationRepository(db)
	userRepo := storage.NewUserRepository(db)
	auditRepo := storage.NewAuditRepository(db)
	commandRepo := storage.NewCommandRepository(db)

	queue := device.NewQueue(db, commandRepo, log)
	broadcaster := websocket.NewEventBroadcaster(hub, log)

	manager := reservation.NewManager(
		db, resourceRepo, deviceRepo, reservationRepo, userRepo, auditRepo,
		queue, broadcaster,
		reservation.Config{
			MaxDuration:    cfg.MaxDuration,
			StartTolerance: cfg.StartTolerance,
		},
		log,
	)

	if err := seedDefaultAdmin(context.Background(), db, userRepo, log); err != nil {
		log.Fatalw("seeding default admin", "error", err)
	}

	sweeper := reservation.NewSweeper(manager, cfg.AuditRetention, log)
	if err := sweeper.Start(cfg.SweepInterval); err != nil {
		log.Fatalw("starting sweeper", "error", err)
	}

	router := api.NewRouter(api.Deps{
		DB:           db,
		Resources:    resourceRepo,
		Devices:      deviceRepo,
		Reservations: reservationRepo,
		Users:        userRepo,
		Audits:       auditRepo,
		Queue:        queue,
		Manager:      manager,
		Hub:          hub,
		Broadcaster:  broadcaster,
		JWTSecret:    cfg.JWTSecret,
		StaticDir:    cfg.StaticDir,
		Log:          log,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalw("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")

	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalw("server shutdown", "error", err)
	}

	log.Infow("server stopped")
}

// seedDefaultAdmin creates an initial admin account on an empty user table
// so a fresh deployment can be administered at all. The default account's
// username is "admin"; tokens are minted against its id by the operator.
func seedDefaultAdmin(ctx context.Context, db *storage.DB, users *storage.UserRepository, log *zap.SugaredLogger) error {
	count, err := users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	fullName := "Administrator"
	admin := &models.User{
		Username: "admin",
		FullName: &fullName,
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	if err := users.Create(ctx, db, admin); err != nil {
		return err
	}
	log.Infow("seeded default admin user", "user_id", admin.ID)
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.ErrAbortHandler
	}
	return nil
}
