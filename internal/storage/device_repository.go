package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// DeviceRepository provides data access for IoT devices.
type DeviceRepository struct {
	BaseRepository
}

// NewDeviceRepository creates a new device repository.
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const deviceColumns = `id, name, type, status, numeric_value, text_value,
	resource_id, last_reported_at, created_at, updated_at`

func scanDevice(row interface{ Scan(...any) error }) (*models.Device, error) {
	d := &models.Device{}
	err := row.Scan(
		&d.ID, &d.Name, &d.Type, &d.Status, &d.NumericValue, &d.TextValue,
		&d.ResourceID, &d.LastReportedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Create inserts a new device.
func (r *DeviceRepository) Create(ctx context.Context, q Queryable, d *models.Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Status == "" {
		d.Status = "inactive"
	}
	d.CreatedAt = r.Now()
	d.UpdatedAt = d.CreatedAt

	_, err := q.ExecContext(ctx, `
		INSERT INTO devices (id, name, type, status, numeric_value, text_value, resource_id, last_reported_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID, d.Name, d.Type, d.Status, d.NumericValue, d.TextValue,
		d.ResourceID, d.LastReportedAt, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// GetByID retrieves a device by its ID. Returns nil without error when the
// device does not exist.
func (r *DeviceRepository) GetByID(ctx context.Context, q Queryable, id string) (*models.Device, error) {
	d, err := scanDevice(q.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// GetByResourceID retrieves the device linked to a resource, if any.
func (r *DeviceRepository) GetByResourceID(ctx context.Context, q Queryable, resourceID string) (*models.Device, error) {
	d, err := scanDevice(q.QueryRowContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE resource_id = ?
	`, resourceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying device by resource: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by name.
func (r *DeviceRepository) List(ctx context.Context) ([]models.Device, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// Update updates the editable fields of an existing device.
func (r *DeviceRepository) Update(ctx context.Context, q Queryable, d *models.Device) error {
	d.UpdatedAt = r.Now()

	result, err := q.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, type = ?, status = ?, resource_id = ?, updated_at = ?
		WHERE id = ?
	`, d.Name, d.Type, d.Status, d.ResourceID, d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("device not found: %s", d.ID)
	}
	return nil
}

// RecordReport persists a status report from the device agent. The agent is
// the sole writer of device status and reported values.
func (r *DeviceRepository) RecordReport(ctx context.Context, id, status string, numericValue *float64, textValue *string) error {
	now := r.Now()

	result, err := r.DB().ExecContext(ctx, `
		UPDATE devices SET
			status = ?, numeric_value = ?, text_value = ?, last_reported_at = ?, updated_at = ?
		WHERE id = ?
	`, status, numericValue, textValue, now, now, id)
	if err != nil {
		return fmt.Errorf("recording device report: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("device not found: %s", id)
	}
	return nil
}

// Delete removes a device by ID.
func (r *DeviceRepository) Delete(ctx context.Context, q Queryable, id string) error {
	result, err := q.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("device not found: %s", id)
	}
	return nil
}
