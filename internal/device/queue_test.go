package device_test

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/iot-resource-manager/backend/internal/apperr"
	"github.com/iot-resource-manager/backend/internal/device"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

func newTestQueue(t *testing.T) (*device.Queue, *storage.DB) {
	t.Helper()

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := storage.RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	return device.NewQueue(db, storage.NewCommandRepository(db), zap.NewNop().Sugar()), db
}

func createDevice(t *testing.T, db *storage.DB, name string, deviceType models.DeviceType) *models.Device {
	t.Helper()
	repo := storage.NewDeviceRepository(db)
	d := &models.Device{Name: name, Type: deviceType, Status: "unknown"}
	if err := repo.Create(context.Background(), db, d); err != nil {
		t.Fatalf("creating device: %v", err)
	}
	return d
}

func TestQueueFIFOOrder(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()
	d := createDevice(t, db, "door", models.DeviceLock)

	actions := []models.CommandAction{models.ActionLock, models.ActionUnlock, models.ActionLock}
	for _, action := range actions {
		if err := q.Enqueue(ctx, d.Type, &models.DeviceCommand{DeviceID: d.ID, Action: action}); err != nil {
			t.Fatalf("enqueue %s: %v", action, err)
		}
	}

	for i, want := range actions {
		cmd, err := q.FetchNext(ctx, d.ID)
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if cmd == nil || cmd.Action != want {
			t.Fatalf("fetch %d = %+v, want %s", i, cmd, want)
		}
	}
}

func TestQueueAtMostOnce(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()
	d := createDevice(t, db, "door", models.DeviceLock)

	if err := q.Enqueue(ctx, d.Type, &models.DeviceCommand{DeviceID: d.ID, Action: models.ActionUnlock}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := q.FetchNext(ctx, d.ID)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first == nil || first.ConsumedAt == nil {
		t.Fatalf("first fetch = %+v, want consumed command", first)
	}

	// The command is gone; a second poll finds an empty queue.
	second, err := q.FetchNext(ctx, d.ID)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if second != nil {
		t.Fatalf("second fetch = %+v, want nil", second)
	}
}

func TestQueueEmptyIsNotAnError(t *testing.T) {
	q, db := newTestQueue(t)
	d := createDevice(t, db, "door", models.DeviceLock)

	cmd, err := q.FetchNext(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("fetch on empty queue: %v", err)
	}
	if cmd != nil {
		t.Fatalf("fetch on empty queue = %+v, want nil", cmd)
	}
}

func TestQueuePerDeviceIsolation(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()
	door := createDevice(t, db, "door", models.DeviceLock)
	sensor := createDevice(t, db, "thermometer", models.DeviceSensor)

	if err := q.Enqueue(ctx, door.Type, &models.DeviceCommand{DeviceID: door.ID, Action: models.ActionLock}); err != nil {
		t.Fatalf("enqueue door: %v", err)
	}
	if err := q.Enqueue(ctx, sensor.Type, &models.DeviceCommand{DeviceID: sensor.ID, Action: models.ActionRead}); err != nil {
		t.Fatalf("enqueue sensor: %v", err)
	}

	cmd, err := q.FetchNext(ctx, sensor.ID)
	if err != nil {
		t.Fatalf("fetch sensor: %v", err)
	}
	if cmd == nil || cmd.Action != models.ActionRead {
		t.Fatalf("sensor fetch = %+v, want read", cmd)
	}

	cmd, err = q.FetchNext(ctx, door.ID)
	if err != nil {
		t.Fatalf("fetch door: %v", err)
	}
	if cmd == nil || cmd.Action != models.ActionLock {
		t.Fatalf("door fetch = %+v, want lock", cmd)
	}
}

func TestQueueRejectsUnsupportedAction(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()
	sensor := createDevice(t, db, "thermometer", models.DeviceSensor)

	err := q.Enqueue(ctx, sensor.Type, &models.DeviceCommand{DeviceID: sensor.ID, Action: models.ActionUnlock})
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("error = %v, want invalid input", err)
	}

	if count, _ := q.PendingCount(ctx); count != 0 {
		t.Fatalf("pending count = %d, want 0", count)
	}
}

func TestQueueClear(t *testing.T) {
	q, db := newTestQueue(t)
	ctx := context.Background()
	d := createDevice(t, db, "door", models.DeviceLock)

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, d.Type, &models.DeviceCommand{DeviceID: d.ID, Action: models.ActionLock}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := q.Clear(ctx, db, d.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}

	cmd, err := q.FetchNext(ctx, d.ID)
	if err != nil {
		t.Fatalf("fetch after clear: %v", err)
	}
	if cmd != nil {
		t.Fatalf("fetch after clear = %+v, want nil", cmd)
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		deviceType models.DeviceType
		action     models.CommandAction
		want       bool
	}{
		{models.DeviceLock, models.ActionLock, true},
		{models.DeviceLock, models.ActionUnlock, true},
		{models.DeviceLock, models.ActionRead, false},
		{models.DeviceSensor, models.ActionRead, true},
		{models.DeviceSensor, models.ActionActivate, true},
		{models.DeviceSensor, models.ActionLock, false},
		{models.DeviceOther, models.ActionActivate, true},
		{models.DeviceOther, models.ActionDeactivate, true},
		{models.DeviceOther, models.ActionUnlock, false},
		{models.DeviceType("toaster"), models.ActionActivate, false},
	}

	for _, tt := range tests {
		if got := device.Supports(tt.deviceType, tt.action); got != tt.want {
			t.Errorf("Supports(%s, %s) = %v, want %v", tt.deviceType, tt.action, got, tt.want)
		}
	}

	if device.KnownType(models.DeviceType("toaster")) {
		t.Error("KnownType(toaster) = true, want false")
	}
	if !device.KnownType(models.DeviceLock) {
		t.Error("KnownType(lock) = false, want true")
	}
}
