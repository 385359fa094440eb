package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// AuditRepository provides append-only access to the audit log.
type AuditRepository struct {
	BaseRepository
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Insert appends an audit entry. Callers that mutate state run this inside
// the same transaction as the state change, so a lost audit write fails the
// whole operation.
func (r *AuditRepository) Insert(ctx context.Context, q Queryable, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = GenerateID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.Now()
	}
	if entry.Result == "" {
		entry.Result = models.AuditResultSuccess
	}

	var details *string
	if entry.Details != nil {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		s := string(data)
		details = &s
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_logs (id, timestamp, user_id, action, resource_id, device_id, reservation_id, result, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.Timestamp, entry.UserID, entry.Action, entry.ResourceID,
		entry.DeviceID, entry.ReservationID, entry.Result, details,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns the newest audit entries up to limit.
func (r *AuditRepository) List(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, timestamp, user_id, action, resource_id, device_id, reservation_id, result, details
		FROM audit_logs
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		var entry models.AuditLogEntry
		var details sql.NullString
		if err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.UserID, &entry.Action,
			&entry.ResourceID, &entry.DeviceID, &entry.ReservationID,
			&entry.Result, &details,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, fmt.Errorf("decoding audit details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PurgeOlderThan deletes entries older than the cutoff and returns how many
// were removed.
func (r *AuditRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.DB().ExecContext(ctx,
		"DELETE FROM audit_logs WHERE timestamp < ?", cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging audit entries: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return int(deleted), nil
}
