package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := storage.RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return db
}

func TestAuditInsertAndList(t *testing.T) {
	db := newTestDB(t)
	repo := storage.NewAuditRepository(db)
	ctx := context.Background()

	resourceID := "r1"
	entries := []*models.AuditLogEntry{
		{Action: models.AuditReservationCreated, ResourceID: &resourceID},
		{Action: models.AuditReservationReleased, ResourceID: &resourceID, Result: models.AuditResultDenied},
		{Action: models.AuditReservationExpired},
	}
	for _, entry := range entries {
		if err := repo.Insert(ctx, db, entry); err != nil {
			t.Fatalf("inserting %s: %v", entry.Action, err)
		}
	}

	got, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}

	// Newest first.
	if got[0].Action != models.AuditReservationExpired {
		t.Errorf("first entry = %s, want newest", got[0].Action)
	}

	// Result defaults to success; the denied entry keeps its result.
	if got[2].Result != models.AuditResultSuccess {
		t.Errorf("default result = %s, want success", got[2].Result)
	}
	if got[1].Result != models.AuditResultDenied {
		t.Errorf("denied result = %s, want denied", got[1].Result)
	}

	// System entries carry no user.
	if got[0].UserID != nil {
		t.Errorf("system entry user_id = %v, want nil", got[0].UserID)
	}
}

func TestAuditPurgeOlderThan(t *testing.T) {
	db := newTestDB(t)
	repo := storage.NewAuditRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	old := &models.AuditLogEntry{Action: models.AuditReservationCreated, Timestamp: now.Add(-48 * time.Hour)}
	recent := &models.AuditLogEntry{Action: models.AuditReservationReleased, Timestamp: now.Add(-time.Hour)}
	for _, entry := range []*models.AuditLogEntry{old, recent} {
		if err := repo.Insert(ctx, db, entry); err != nil {
			t.Fatalf("inserting: %v", err)
		}
	}

	purged, err := repo.PurgeOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purging: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	got, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 1 || got[0].Action != models.AuditReservationReleased {
		t.Fatalf("remaining = %+v, want only the recent entry", got)
	}
}
