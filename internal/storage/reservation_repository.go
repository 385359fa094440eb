package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// ReservationRepository provides data access for reservations. All lifecycle
// mutations flow through the reservation manager, which calls the write
// methods here inside a single transaction per operation.
type ReservationRepository struct {
	BaseRepository
}

// NewReservationRepository creates a new reservation repository.
func NewReservationRepository(db *DB) *ReservationRepository {
	return &ReservationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const reservationColumns = `id, resource_id, user_id, start_time, end_time, expires_at,
	status, notes, released_by_admin, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (*models.Reservation, error) {
	res := &models.Reservation{}
	err := row.Scan(
		&res.ID, &res.ResourceID, &res.UserID, &res.StartTime, &res.EndTime,
		&res.ExpiresAt, &res.Status, &res.Notes, &res.ReleasedByAdmin,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Insert persists a new reservation.
func (r *ReservationRepository) Insert(ctx context.Context, q Queryable, res *models.Reservation) error {
	if res.ID == "" {
		res.ID = GenerateID()
	}
	res.CreatedAt = r.Now()
	res.UpdatedAt = res.CreatedAt

	_, err := q.ExecContext(ctx, `
		INSERT INTO reservations (id, resource_id, user_id, start_time, end_time, expires_at,
			status, notes, released_by_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.ID, res.ResourceID, res.UserID, res.StartTime, res.EndTime,
		res.ExpiresAt, res.Status, res.Notes, res.ReleasedByAdmin,
		res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}
	return nil
}

// UpdateLifecycle persists a lifecycle transition: status, end time, notes
// and the released-by-admin flag.
func (r *ReservationRepository) UpdateLifecycle(ctx context.Context, q Queryable, res *models.Reservation) error {
	res.UpdatedAt = r.Now()

	result, err := q.ExecContext(ctx, `
		UPDATE reservations SET
			status = ?, end_time = ?, notes = ?, released_by_admin = ?, updated_at = ?
		WHERE id = ?
	`, res.Status, res.EndTime, res.Notes, res.ReleasedByAdmin, res.UpdatedAt, res.ID)
	if err != nil {
		return fmt.Errorf("updating reservation: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("reservation not found: %s", res.ID)
	}
	return nil
}

// GetByID retrieves a reservation with resource and user names attached.
// Returns nil without error when the reservation does not exist.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	res := &models.Reservation{}
	err := r.DB().QueryRowContext(ctx, `
		SELECT rv.id, rv.resource_id, rv.user_id, rv.start_time, rv.end_time, rv.expires_at,
			rv.status, rv.notes, rv.released_by_admin, rv.created_at, rv.updated_at,
			rs.name, u.username
		FROM reservations rv
		LEFT JOIN resources rs ON rs.id = rv.resource_id
		LEFT JOIN users u ON u.id = rv.user_id
		WHERE rv.id = ?
	`, id).Scan(
		&res.ID, &res.ResourceID, &res.UserID, &res.StartTime, &res.EndTime,
		&res.ExpiresAt, &res.Status, &res.Notes, &res.ReleasedByAdmin,
		&res.CreatedAt, &res.UpdatedAt, &res.ResourceName, &res.Username,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying reservation: %w", err)
	}
	return res, nil
}

// List retrieves reservations matching the filter, newest start first.
// When viewer is a non-admin the result is restricted to the viewer's own
// reservations plus reservations on resources the viewer may access.
func (r *ReservationRepository) List(ctx context.Context, filter models.ReservationFilter, viewer *models.User) ([]models.Reservation, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT rv.id, rv.resource_id, rv.user_id, rv.start_time, rv.end_time, rv.expires_at,
			rv.status, rv.notes, rv.released_by_admin, rv.created_at, rv.updated_at,
			rs.name, u.username
		FROM reservations rv
		LEFT JOIN resources rs ON rs.id = rv.resource_id
		LEFT JOIN users u ON u.id = rv.user_id
		WHERE 1=1
	`)
	var args []any

	if filter.ResourceID != nil {
		query.WriteString(" AND rv.resource_id = ?")
		args = append(args, *filter.ResourceID)
	}
	if filter.UserID != nil {
		query.WriteString(" AND rv.user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.Status != nil {
		query.WriteString(" AND rv.status = ?")
		args = append(args, *filter.Status)
	}
	if filter.StartFrom != nil {
		query.WriteString(" AND rv.start_time >= ?")
		args = append(args, filter.StartFrom.UTC())
	}
	if filter.StartTo != nil {
		query.WriteString(" AND rv.start_time <= ?")
		args = append(args, filter.StartTo.UTC())
	}

	if viewer != nil && !viewer.IsAdmin() {
		placeholders := make([]string, 0, len(viewer.PermittedResourceIDs))
		permArgs := make([]any, 0, len(viewer.PermittedResourceIDs))
		for _, id := range viewer.PermittedResourceIDs {
			placeholders = append(placeholders, "?")
			permArgs = append(permArgs, id)
		}
		if len(placeholders) > 0 {
			query.WriteString(" AND (rv.user_id = ? OR rv.resource_id IN (" + strings.Join(placeholders, ",") + "))")
			args = append(args, viewer.ID)
			args = append(args, permArgs...)
		} else {
			query.WriteString(" AND rv.user_id = ?")
			args = append(args, viewer.ID)
		}
	}

	query.WriteString(" ORDER BY rv.start_time DESC")

	rows, err := r.DB().QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		var res models.Reservation
		if err := rows.Scan(
			&res.ID, &res.ResourceID, &res.UserID, &res.StartTime, &res.EndTime,
			&res.ExpiresAt, &res.Status, &res.Notes, &res.ReleasedByAdmin,
			&res.CreatedAt, &res.UpdatedAt, &res.ResourceName, &res.Username,
		); err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		reservations = append(reservations, res)
	}
	return reservations, rows.Err()
}

// FindOverlapping returns a scheduled or active reservation on the resource
// overlapping the half-open interval [start, end), or nil when there is
// none. Touching boundaries are not a conflict.
func (r *ReservationRepository) FindOverlapping(ctx context.Context, q Queryable, resourceID string, start, end time.Time) (*models.Reservation, error) {
	res, err := scanReservation(q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE resource_id = ?
		  AND status IN (?, ?)
		  AND start_time < ? AND expires_at > ?
		LIMIT 1
	`, resourceID, models.ReservationScheduled, models.ReservationActive, end.UTC(), start.UTC()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying overlapping reservation: %w", err)
	}
	return res, nil
}

// NonTerminalForResource returns the scheduled and active reservations on a
// resource, oldest created first.
func (r *ReservationRepository) NonTerminalForResource(ctx context.Context, q Queryable, resourceID string) ([]models.Reservation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE resource_id = ? AND status IN (?, ?)
		ORDER BY created_at
	`, resourceID, models.ReservationScheduled, models.ReservationActive)
	if err != nil {
		return nil, fmt.Errorf("querying non-terminal reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		reservations = append(reservations, *res)
	}
	return reservations, rows.Err()
}

// HasActiveOnResource reports whether another active reservation exists on
// the resource, excluding the given reservation id.
func (r *ReservationRepository) HasActiveOnResource(ctx context.Context, q Queryable, resourceID, excludeID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM reservations
		WHERE resource_id = ? AND status = ? AND id != ?
		LIMIT 1
	`, resourceID, models.ReservationActive, excludeID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying active reservations: %w", err)
	}
	return true, nil
}

// DueScheduled returns scheduled reservations whose start time has arrived,
// grouped by resource and ordered by creation so the activation tie-break is
// deterministic.
func (r *ReservationRepository) DueScheduled(ctx context.Context, q Queryable, now time.Time) ([]models.Reservation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = ? AND start_time <= ?
		ORDER BY resource_id, created_at
	`, models.ReservationScheduled, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying due reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		reservations = append(reservations, *res)
	}
	return reservations, rows.Err()
}

// OverdueActive returns active reservations whose expiry has passed.
func (r *ReservationRepository) OverdueActive(ctx context.Context, q Queryable, now time.Time) ([]models.Reservation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at
	`, models.ReservationActive, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying overdue reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		reservations = append(reservations, *res)
	}
	return reservations, rows.Err()
}

// CountActive returns the number of currently active reservations.
func (r *ReservationRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reservations WHERE status = ?",
		models.ReservationActive,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active reservations: %w", err)
	}
	return count, nil
}

// Stats computes the aggregate reservation statistics for the dashboard.
func (r *ReservationRepository) Stats(ctx context.Context) (*models.ReservationStats, error) {
	stats := &models.ReservationStats{UsageByDay: map[string]int{}}

	err := r.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN end_time IS NOT NULL
				THEN (julianday(end_time) - julianday(start_time)) * 24 * 60 END), 0)
		FROM reservations
	`, models.ReservationActive).Scan(
		&stats.Summary.TotalReservations,
		&stats.Summary.ActiveReservations,
		&stats.Summary.AverageDurationMinutes,
	)
	if err != nil {
		return nil, fmt.Errorf("querying reservation summary: %w", err)
	}

	topRows, err := r.DB().QueryContext(ctx, `
		SELECT rv.resource_id, rs.name, COUNT(rv.id),
			COALESCE(SUM((julianday(rv.end_time) - julianday(rv.start_time)) * 24 * 60), 0)
		FROM reservations rv
		JOIN resources rs ON rs.id = rv.resource_id
		WHERE rv.end_time IS NOT NULL
		GROUP BY rv.resource_id, rs.name
		ORDER BY COUNT(rv.id) DESC
		LIMIT 5
	`)
	if err != nil {
		return nil, fmt.Errorf("querying top resources: %w", err)
	}
	defer topRows.Close()

	for topRows.Next() {
		var entry models.ResourceUsageEntry
		if err := topRows.Scan(&entry.ResourceID, &entry.ResourceName, &entry.TotalReservations, &entry.TotalMinutes); err != nil {
			return nil, fmt.Errorf("scanning usage entry: %w", err)
		}
		stats.TopResources = append(stats.TopResources, entry)
	}
	if err := topRows.Err(); err != nil {
		return nil, err
	}

	usageRows, err := r.DB().QueryContext(ctx, `
		SELECT strftime('%Y-%m-%d', start_time), COUNT(id)
		FROM reservations
		GROUP BY strftime('%Y-%m-%d', start_time)
		ORDER BY strftime('%Y-%m-%d', start_time)
	`)
	if err != nil {
		return nil, fmt.Errorf("querying usage by day: %w", err)
	}
	defer usageRows.Close()

	for usageRows.Next() {
		var day string
		var count int
		if err := usageRows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		stats.UsageByDay[day] = count
	}
	return stats, usageRows.Err()
}
