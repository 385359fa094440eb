package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// CommandRepository provides data access for the per-device command queues.
// FIFO order is creation order; rowid breaks same-timestamp ties.
type CommandRepository struct {
	BaseRepository
}

// NewCommandRepository creates a new device command repository.
func NewCommandRepository(db *DB) *CommandRepository {
	return &CommandRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Insert appends a command to the tail of the device's queue.
func (r *CommandRepository) Insert(ctx context.Context, q Queryable, cmd *models.DeviceCommand) error {
	if cmd.ID == "" {
		cmd.ID = GenerateID()
	}
	cmd.CreatedAt = r.Now()

	payload, err := marshalPayload(cmd.Payload)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO device_commands (id, device_id, action, payload, created_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, NULL)
	`, cmd.ID, cmd.DeviceID, cmd.Action, payload, cmd.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting device command: %w", err)
	}
	return nil
}

// NextPending returns the oldest unconsumed command for the device, or nil
// when the queue is empty.
func (r *CommandRepository) NextPending(ctx context.Context, q Queryable, deviceID string) (*models.DeviceCommand, error) {
	cmd := &models.DeviceCommand{}
	var payload sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, device_id, action, payload, created_at, consumed_at
		FROM device_commands
		WHERE device_id = ? AND consumed_at IS NULL
		ORDER BY created_at, rowid
		LIMIT 1
	`, deviceID).Scan(&cmd.ID, &cmd.DeviceID, &cmd.Action, &payload, &cmd.CreatedAt, &cmd.ConsumedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying next command: %w", err)
	}

	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &cmd.Payload); err != nil {
			return nil, fmt.Errorf("decoding command payload: %w", err)
		}
	}
	return cmd, nil
}

// MarkConsumed records delivery of a command to the agent.
func (r *CommandRepository) MarkConsumed(ctx context.Context, q Queryable, id string, at time.Time) error {
	result, err := q.ExecContext(ctx, `
		UPDATE device_commands SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("marking command consumed: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("command already consumed: %s", id)
	}
	return nil
}

// ClearForDevice drops the device's entire queue. Used when a device is
// deleted by an admin.
func (r *CommandRepository) ClearForDevice(ctx context.Context, q Queryable, deviceID string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM device_commands WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("clearing device commands: %w", err)
	}
	return nil
}

// CountPending returns the number of unconsumed commands across all devices.
func (r *CommandRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM device_commands WHERE consumed_at IS NULL",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting pending commands: %w", err)
	}
	return count, nil
}

func marshalPayload(payload map[string]any) (*string, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding command payload: %w", err)
	}
	s := string(data)
	return &s, nil
}
