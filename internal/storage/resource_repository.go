package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// ResourceRepository provides data access for reservable resources.
type ResourceRepository struct {
	BaseRepository
}

// NewResourceRepository creates a new resource repository.
func NewResourceRepository(db *DB) *ResourceRepository {
	return &ResourceRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const resourceColumns = `r.id, r.name, r.description, r.type, r.location, r.capacity,
	r.status, r.created_at, r.updated_at, d.id`

func scanResource(row interface{ Scan(...any) error }) (*models.Resource, error) {
	res := &models.Resource{}
	err := row.Scan(
		&res.ID, &res.Name, &res.Description, &res.Type, &res.Location,
		&res.Capacity, &res.Status, &res.CreatedAt, &res.UpdatedAt, &res.DeviceID,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Create inserts a new resource.
func (r *ResourceRepository) Create(ctx context.Context, q Queryable, res *models.Resource) error {
	if res.ID == "" {
		res.ID = GenerateID()
	}
	if res.Status == "" {
		res.Status = models.ResourceAvailable
	}
	res.CreatedAt = r.Now()
	res.UpdatedAt = res.CreatedAt

	_, err := q.ExecContext(ctx, `
		INSERT INTO resources (id, name, description, type, location, capacity, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID, res.Name, res.Description, res.Type, res.Location,
		res.Capacity, res.Status, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting resource: %w", err)
	}
	return nil
}

// GetByID retrieves a resource by its ID, including the linked device id.
// Returns nil without error when the resource does not exist.
func (r *ResourceRepository) GetByID(ctx context.Context, q Queryable, id string) (*models.Resource, error) {
	res, err := scanResource(q.QueryRowContext(ctx, `
		SELECT `+resourceColumns+`
		FROM resources r
		LEFT JOIN devices d ON d.resource_id = r.id
		WHERE r.id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying resource: %w", err)
	}
	return res, nil
}

// List retrieves all resources ordered by name.
func (r *ResourceRepository) List(ctx context.Context) ([]models.Resource, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+resourceColumns+`
		FROM resources r
		LEFT JOIN devices d ON d.resource_id = r.id
		ORDER BY r.name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying resources: %w", err)
	}
	defer rows.Close()

	var resources []models.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning resource: %w", err)
		}
		resources = append(resources, *res)
	}
	return resources, rows.Err()
}

// Update updates the editable fields of an existing resource.
func (r *ResourceRepository) Update(ctx context.Context, q Queryable, res *models.Resource) error {
	res.UpdatedAt = r.Now()

	result, err := q.ExecContext(ctx, `
		UPDATE resources SET
			name = ?, description = ?, type = ?, location = ?, capacity = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		res.Name, res.Description, res.Type, res.Location, res.Capacity,
		res.Status, res.UpdatedAt, res.ID,
	)
	if err != nil {
		return fmt.Errorf("updating resource: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("resource not found: %s", res.ID)
	}
	return nil
}

// UpdateStatus sets the derived status of a resource.
func (r *ResourceRepository) UpdateStatus(ctx context.Context, q Queryable, id string, status models.ResourceStatus) error {
	_, err := q.ExecContext(ctx, `
		UPDATE resources SET status = ?, updated_at = ? WHERE id = ?
	`, status, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating resource status: %w", err)
	}
	return nil
}

// Delete removes a resource by ID.
func (r *ResourceRepository) Delete(ctx context.Context, q Queryable, id string) error {
	result, err := q.ExecContext(ctx, "DELETE FROM resources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting resource: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("resource not found: %s", id)
	}
	return nil
}
