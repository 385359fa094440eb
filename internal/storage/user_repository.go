package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// UserRepository provides data access for users and resource permissions.
type UserRepository struct {
	BaseRepository
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const userColumns = `id, username, full_name, email, role, is_active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID, &u.Username, &u.FullName, &u.Email, &u.Role, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, q Queryable, u *models.User) error {
	if u.ID == "" {
		u.ID = GenerateID()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	u.CreatedAt = r.Now()
	u.UpdatedAt = u.CreatedAt

	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, username, full_name, email, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.FullName, u.Email, u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetByID retrieves a user with the permitted resource set loaded.
// Returns nil without error when the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(r.DB().QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if err := r.loadPermissions(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetByUsername retrieves a user by username with permissions loaded.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(r.DB().QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE username = ?
	`, username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if err := r.loadPermissions(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// List retrieves all users ordered by username, permissions included.
func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range users {
		if err := r.loadPermissions(ctx, &users[i]); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// Count returns the total number of users.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// Update updates the editable fields of an existing user.
func (r *UserRepository) Update(ctx context.Context, q Queryable, u *models.User) error {
	u.UpdatedAt = r.Now()

	result, err := q.ExecContext(ctx, `
		UPDATE users SET
			username = ?, full_name = ?, email = ?, role = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, u.Username, u.FullName, u.Email, u.Role, u.IsActive, u.UpdatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", u.ID)
	}
	return nil
}

// Delete removes a user by ID.
func (r *UserRepository) Delete(ctx context.Context, q Queryable, id string) error {
	result, err := q.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// SyncPermissions replaces the user's permitted resource set with the given
// ids. Unknown resource ids are skipped rather than failing the whole sync.
func (r *UserRepository) SyncPermissions(ctx context.Context, q Queryable, userID string, resourceIDs []string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM resource_permissions WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clearing permissions: %w", err)
	}

	for _, resourceID := range resourceIDs {
		var one int
		err := q.QueryRowContext(ctx, "SELECT 1 FROM resources WHERE id = ?", resourceID).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("checking resource: %w", err)
		}

		if _, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO resource_permissions (user_id, resource_id) VALUES (?, ?)
		`, userID, resourceID); err != nil {
			return fmt.Errorf("inserting permission: %w", err)
		}
	}
	return nil
}

func (r *UserRepository) loadPermissions(ctx context.Context, u *models.User) error {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT resource_id FROM resource_permissions WHERE user_id = ? ORDER BY resource_id
	`, u.ID)
	if err != nil {
		return fmt.Errorf("querying permissions: %w", err)
	}
	defer rows.Close()

	u.PermittedResourceIDs = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scanning permission: %w", err)
		}
		u.PermittedResourceIDs = append(u.PermittedResourceIDs, id)
	}
	return rows.Err()
}
