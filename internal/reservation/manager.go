package reservation

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/iot-resource-manager/backend/internal/apperr"
	"github.com/iot-resource-manager/backend/internal/device"
	"github.com/iot-resource-manager/backend/internal/locking"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
	"github.com/iot-resource-manager/backend/internal/websocket"
)

// Config bounds reservation requests.
type Config struct {
	// MaxDuration is the longest reservation a single request may claim.
	MaxDuration time.Duration
	// StartTolerance is how far in the past a requested start may lie, and
	// the window inside which a future start still activates immediately.
	StartTolerance time.Duration
}

// Manager is the reservation lifecycle engine. It validates requests,
// detects conflicts, transitions reservations through their lifecycle, and
// triggers device actuation and audit entries.
//
// All lifecycle mutations for a given resource are serialized through a
// per-resource critical section, and each operation bundles its state
// change, device command and audit entry into one transaction. Events are
// published only after the transaction commits.
type Manager struct {
	db           *storage.DB
	resources    *storage.ResourceRepository
	devices      *storage.DeviceRepository
	reservations *storage.ReservationRepository
	users        *storage.UserRepository
	audits       *storage.AuditRepository
	queue        *device.Queue
	broadcaster  *websocket.EventBroadcaster

	guard Guard
	locks *locking.KeyedMutex
	cfg   Config
	log   *zap.SugaredLogger

	// now is the clock source; replaced in tests for deterministic expiry.
	now func() time.Time
}

// NewManager creates a reservation manager. The broadcaster may be nil when
// no subscription stream is wired (tests).
func NewManager(
	db *storage.DB,
	resources *storage.ResourceRepository,
	devices *storage.DeviceRepository,
	reservations *storage.ReservationRepository,
	users *storage.UserRepository,
	audits *storage.AuditRepository,
	queue *device.Queue,
	broadcaster *websocket.EventBroadcaster,
	cfg Config,
	log *zap.SugaredLogger,
) *Manager {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 8 * time.Hour
	}
	if cfg.StartTolerance <= 0 {
		cfg.StartTolerance = time.Minute
	}

	return &Manager{
		db:           db,
		resources:    resources,
		devices:      devices,
		reservations: reservations,
		users:        users,
		audits:       audits,
		queue:        queue,
		broadcaster:  broadcaster,
		locks:        locking.NewKeyedMutex(),
		cfg:          cfg,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the manager's time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateParams describes a reservation request.
type CreateParams struct {
	ResourceID string
	// StartTime is optional; a nil start means "now".
	StartTime *time.Time
	Duration  time.Duration
	// TargetUserID lets an admin reserve on behalf of another user.
	TargetUserID string
	Notes        *string
}

// CreateReservation validates and inserts a reservation. The conflict check
// runs inside the same critical section and transaction as the insert, so a
// concurrent request on the same resource cannot double-book it.
func (m *Manager) CreateReservation(ctx context.Context, actor *models.User, p CreateParams) (*models.Reservation, error) {
	if p.Duration <= 0 || p.Duration > m.cfg.MaxDuration {
		return nil, apperr.Newf(apperr.KindInvalidInput, "duration must be positive and at most %s", m.cfg.MaxDuration)
	}

	now := m.now()
	start := now
	if p.StartTime != nil {
		start = p.StartTime.UTC()
	}
	if start.Before(now.Add(-m.cfg.StartTolerance)) {
		return nil, apperr.New(apperr.KindInvalidInput, "start time must not be in the past")
	}
	end := start.Add(p.Duration)

	ownerID := actor.ID
	if p.TargetUserID != "" && p.TargetUserID != actor.ID {
		if !m.guard.CanActFor(actor, p.TargetUserID) {
			err := apperr.New(apperr.KindPermissionDenied, "cannot reserve on behalf of another user")
			m.recordDenied(ctx, actor, models.AuditReservationCreated, &p.ResourceID, nil, "reserve for another user")
			return nil, err
		}
		target, err := m.users.GetByID(ctx, p.TargetUserID)
		if err != nil {
			return nil, apperr.Storage("loading target user", err)
		}
		if target == nil {
			return nil, apperr.NotFound("user", p.TargetUserID)
		}
		ownerID = target.ID
	}

	status := models.ReservationActive
	if start.After(now.Add(m.cfg.StartTolerance)) {
		status = models.ReservationScheduled
	}

	res := &models.Reservation{
		ResourceID: p.ResourceID,
		UserID:     ownerID,
		StartTime:  start,
		ExpiresAt:  end,
		Status:     status,
		Notes:      p.Notes,
	}

	m.locks.Lock(p.ResourceID)
	defer m.locks.Unlock(p.ResourceID)

	var events []func()
	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		resource, err := m.resources.GetByID(ctx, tx, p.ResourceID)
		if err != nil {
			return apperr.Storage("loading resource", err)
		}
		if resource == nil {
			return apperr.NotFound("resource", p.ResourceID)
		}

		if !m.guard.CanAccess(actor, p.ResourceID) {
			return apperr.New(apperr.KindPermissionDenied, "no permission for this resource")
		}

		conflict, err := m.reservations.FindOverlapping(ctx, tx, p.ResourceID, start, end)
		if err != nil {
			return apperr.Storage("checking conflicts", err)
		}
		if conflict != nil {
			return apperr.New(apperr.KindConflict, "resource already reserved in the selected period")
		}

		if err := m.reservations.Insert(ctx, tx, res); err != nil {
			return apperr.Storage("inserting reservation", err)
		}

		if status == models.ReservationActive {
			changed, newStatus, err := m.recomputeResourceStatus(ctx, tx, resource, true)
			if err != nil {
				return err
			}
			if changed {
				events = append(events, func() { m.broadcaster.ResourceUpdated(resource.ID, newStatus) })
			}

			if _, err := m.actuate(ctx, tx, p.ResourceID, models.ActionUnlock, res.ID); err != nil {
				return err
			}
		}

		entry := &models.AuditLogEntry{
			UserID:        &actor.ID,
			Action:        models.AuditReservationCreated,
			ResourceID:    &p.ResourceID,
			ReservationID: &res.ID,
			Details:       map[string]any{"duration_minutes": p.Duration.Minutes()},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindPermissionDenied) {
			m.recordDenied(ctx, actor, models.AuditReservationCreated, &p.ResourceID, nil, apperr.MessageOf(err))
		}
		return nil, err
	}

	m.publish(append(events, func() { m.broadcaster.ReservationCreated(res) }))

	m.log.Infow("reservation created",
		"reservation_id", res.ID, "resource_id", res.ResourceID,
		"user_id", res.UserID, "status", res.Status)
	return res, nil
}

// ReleaseParams describes a release request.
type ReleaseParams struct {
	ResourceID string
	Notes      *string
	// Force releases another user's reservation; admin only.
	Force bool
}

// ReleaseReservation closes the caller's active reservation on a resource.
// An active reservation completes; a still-scheduled one is cancelled. An
// admin may release any user's reservation, recorded as released-by-admin.
func (m *Manager) ReleaseReservation(ctx context.Context, actor *models.User, p ReleaseParams) (*models.Reservation, error) {
	if p.Force && !actor.IsAdmin() {
		err := apperr.New(apperr.KindPermissionDenied, "force release requires the admin role")
		m.recordDenied(ctx, actor, models.AuditReservationReleased, &p.ResourceID, nil, "force release without admin role")
		return nil, err
	}

	m.locks.Lock(p.ResourceID)
	defer m.locks.Unlock(p.ResourceID)

	var (
		released *models.Reservation
		events   []func()
	)
	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		resource, err := m.resources.GetByID(ctx, tx, p.ResourceID)
		if err != nil {
			return apperr.Storage("loading resource", err)
		}
		if resource == nil {
			return apperr.NotFound("resource", p.ResourceID)
		}

		open, err := m.reservations.NonTerminalForResource(ctx, tx, p.ResourceID)
		if err != nil {
			return apperr.Storage("loading reservations", err)
		}

		target := pickReleaseTarget(open, actor)
		if target == nil {
			if len(open) > 0 {
				return apperr.New(apperr.KindPermissionDenied, "you can only release your own reservations")
			}
			return apperr.New(apperr.KindInvalidState, "no active reservation on this resource")
		}

		now := m.now()
		if target.Status == models.ReservationActive {
			target.Status = models.ReservationCompleted
			target.EndTime = &now
		} else {
			target.Status = models.ReservationCancelled
		}
		if p.Notes != nil {
			target.Notes = p.Notes
		}
		if actor.IsAdmin() && target.UserID != actor.ID {
			target.ReleasedByAdmin = true
		}

		if err := m.reservations.UpdateLifecycle(ctx, tx, target); err != nil {
			return apperr.Storage("updating reservation", err)
		}

		hasActive, err := m.reservations.HasActiveOnResource(ctx, tx, p.ResourceID, target.ID)
		if err != nil {
			return apperr.Storage("checking active reservations", err)
		}
		changed, newStatus, err := m.recomputeResourceStatus(ctx, tx, resource, hasActive)
		if err != nil {
			return err
		}
		if changed {
			events = append(events, func() { m.broadcaster.ResourceUpdated(resource.ID, newStatus) })
		}

		if target.Status == models.ReservationCompleted && !hasActive {
			if _, err := m.actuate(ctx, tx, p.ResourceID, models.ActionLock, target.ID); err != nil {
				return err
			}
		}

		entry := &models.AuditLogEntry{
			UserID:        &actor.ID,
			Action:        models.AuditReservationReleased,
			ResourceID:    &p.ResourceID,
			ReservationID: &target.ID,
			Details:       map[string]any{"forced": p.Force},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}

		released = target
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindPermissionDenied) {
			m.recordDenied(ctx, actor, models.AuditReservationReleased, &p.ResourceID, nil, apperr.MessageOf(err))
		}
		return nil, err
	}

	m.publish(append(events, func() { m.broadcaster.ReservationUpdated(released) }))

	m.log.Infow("reservation released",
		"reservation_id", released.ID, "resource_id", released.ResourceID,
		"status", released.Status, "forced", p.Force)
	return released, nil
}

// pickReleaseTarget chooses which open reservation a release applies to:
// the actor's own active reservation first, otherwise any active one for an
// admin, falling back to a scheduled reservation under the same ownership
// rules. A nil return with open reservations present means a permission
// failure, with none an invalid state.
func pickReleaseTarget(open []models.Reservation, actor *models.User) *models.Reservation {
	byStatus := func(status models.ReservationStatus) *models.Reservation {
		for i := range open {
			if open[i].Status == status && open[i].UserID == actor.ID {
				return &open[i]
			}
		}
		if actor.IsAdmin() {
			for i := range open {
				if open[i].Status == status {
					return &open[i]
				}
			}
		}
		return nil
	}

	if target := byStatus(models.ReservationActive); target != nil {
		return target
	}
	return byStatus(models.ReservationScheduled)
}

// ActivateDueReservations transitions scheduled reservations whose start
// time has arrived to active. Invoked by the sweeper; system-triggered
// actions audit with a nil user id. When several scheduled reservations on
// one resource are due at once, only the earliest-created one activates and
// the rest are cancelled, so the single-active invariant holds even
// transiently. Returns the ids of activated reservations.
func (m *Manager) ActivateDueReservations(ctx context.Context) ([]string, error) {
	now := m.now()
	due, err := m.reservations.DueScheduled(ctx, m.db, now)
	if err != nil {
		return nil, apperr.Storage("listing due reservations", err)
	}

	byResource := groupByResource(due)
	var activated []string
	for resourceID := range byResource {
		ids, err := m.activateForResource(ctx, resourceID, now)
		if err != nil {
			// One resource failing must not starve the others; the next
			// sweep retries it.
			m.log.Errorw("activating reservations", "resource_id", resourceID, "error", err)
			continue
		}
		activated = append(activated, ids...)
	}
	return activated, nil
}

func (m *Manager) activateForResource(ctx context.Context, resourceID string, now time.Time) ([]string, error) {
	m.locks.Lock(resourceID)
	defer m.locks.Unlock(resourceID)

	var (
		activated []string
		events    []func()
	)
	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		resource, err := m.resources.GetByID(ctx, tx, resourceID)
		if err != nil {
			return apperr.Storage("loading resource", err)
		}
		if resource == nil {
			return nil
		}

		open, err := m.reservations.NonTerminalForResource(ctx, tx, resourceID)
		if err != nil {
			return apperr.Storage("loading reservations", err)
		}

		hasActive := false
		var dueScheduled []*models.Reservation
		for i := range open {
			switch open[i].Status {
			case models.ReservationActive:
				hasActive = true
			case models.ReservationScheduled:
				if !open[i].StartTime.After(now) {
					dueScheduled = append(dueScheduled, &open[i])
				}
			}
		}
		if len(dueScheduled) == 0 {
			return nil
		}

		// NonTerminalForResource orders by creation time, so the first due
		// entry is the tie-break winner.
		winner := dueScheduled[0]
		extras := dueScheduled[1:]

		if !hasActive {
			winner.Status = models.ReservationActive
			if err := m.reservations.UpdateLifecycle(ctx, tx, winner); err != nil {
				return apperr.Storage("activating reservation", err)
			}

			changed, newStatus, err := m.recomputeResourceStatus(ctx, tx, resource, true)
			if err != nil {
				return err
			}
			if changed {
				events = append(events, func() { m.broadcaster.ResourceUpdated(resource.ID, newStatus) })
			}

			if _, err := m.actuate(ctx, tx, resourceID, models.ActionUnlock, winner.ID); err != nil {
				return err
			}

			entry := &models.AuditLogEntry{
				Action:        models.AuditReservationActivated,
				ResourceID:    &resourceID,
				ReservationID: &winner.ID,
			}
			if err := m.audits.Insert(ctx, tx, entry); err != nil {
				return apperr.Storage("recording audit entry", err)
			}

			activated = append(activated, winner.ID)
			res := winner
			events = append(events, func() { m.broadcaster.ReservationUpdated(res) })
		}
		// When an active reservation still holds the resource the winner
		// stays scheduled and is retried next tick; only the due siblings
		// behind it are cancelled.

		for _, extra := range extras {
			extra.Status = models.ReservationCancelled
			if err := m.reservations.UpdateLifecycle(ctx, tx, extra); err != nil {
				return apperr.Storage("cancelling reservation", err)
			}

			entry := &models.AuditLogEntry{
				Action:        models.AuditReservationCancelled,
				ResourceID:    &resourceID,
				ReservationID: &extra.ID,
				Details:       map[string]any{"reason": "overlapping scheduled reservation due on the same resource"},
			}
			if err := m.audits.Insert(ctx, tx, entry); err != nil {
				return apperr.Storage("recording audit entry", err)
			}

			res := extra
			events = append(events, func() { m.broadcaster.ReservationUpdated(res) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(events)
	return activated, nil
}

// ExpireOverdueReservations transitions active reservations whose expiry has
// passed to expired, recomputes resource status and queues lock commands.
// Idempotent: a second immediate run finds nothing to do. Returns the ids of
// expired reservations.
func (m *Manager) ExpireOverdueReservations(ctx context.Context) ([]string, error) {
	now := m.now()
	overdue, err := m.reservations.OverdueActive(ctx, m.db, now)
	if err != nil {
		return nil, apperr.Storage("listing overdue reservations", err)
	}

	byResource := groupByResource(overdue)
	var expired []string
	for resourceID := range byResource {
		ids, err := m.expireForResource(ctx, resourceID, now)
		if err != nil {
			m.log.Errorw("expiring reservations", "resource_id", resourceID, "error", err)
			continue
		}
		expired = append(expired, ids...)
	}
	return expired, nil
}

func (m *Manager) expireForResource(ctx context.Context, resourceID string, now time.Time) ([]string, error) {
	m.locks.Lock(resourceID)
	defer m.locks.Unlock(resourceID)

	var (
		expired []string
		events  []func()
	)
	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		resource, err := m.resources.GetByID(ctx, tx, resourceID)
		if err != nil {
			return apperr.Storage("loading resource", err)
		}
		if resource == nil {
			return nil
		}

		open, err := m.reservations.NonTerminalForResource(ctx, tx, resourceID)
		if err != nil {
			return apperr.Storage("loading reservations", err)
		}

		stillActive := false
		for i := range open {
			res := &open[i]
			if res.Status != models.ReservationActive {
				continue
			}
			if res.ExpiresAt.After(now) {
				stillActive = true
				continue
			}

			res.Status = models.ReservationExpired
			endTime := res.ExpiresAt
			res.EndTime = &endTime
			if err := m.reservations.UpdateLifecycle(ctx, tx, res); err != nil {
				return apperr.Storage("expiring reservation", err)
			}

			if _, err := m.actuate(ctx, tx, resourceID, models.ActionLock, res.ID); err != nil {
				return err
			}

			entry := &models.AuditLogEntry{
				Action:        models.AuditReservationExpired,
				ResourceID:    &resourceID,
				ReservationID: &res.ID,
				Details:       map[string]any{"expired_at": res.ExpiresAt.Format(time.RFC3339)},
			}
			if err := m.audits.Insert(ctx, tx, entry); err != nil {
				return apperr.Storage("recording audit entry", err)
			}

			expired = append(expired, res.ID)
			r := res
			events = append(events, func() { m.broadcaster.ReservationUpdated(r) })
		}

		if len(expired) > 0 {
			changed, newStatus, err := m.recomputeResourceStatus(ctx, tx, resource, stillActive)
			if err != nil {
				return err
			}
			if changed {
				events = append(events, func() { m.broadcaster.ResourceUpdated(resource.ID, newStatus) })
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(events)
	return expired, nil
}

// recomputeResourceStatus derives the resource status from reservation
// state. Maintenance is set only by explicit admin action and is never
// overwritten here.
func (m *Manager) recomputeResourceStatus(ctx context.Context, tx storage.Queryable, resource *models.Resource, hasActive bool) (bool, models.ResourceStatus, error) {
	if resource.Status == models.ResourceMaintenance {
		return false, resource.Status, nil
	}

	newStatus := models.ResourceAvailable
	if hasActive {
		newStatus = models.ResourceReserved
	}
	if newStatus == resource.Status {
		return false, newStatus, nil
	}

	if err := m.resources.UpdateStatus(ctx, tx, resource.ID, newStatus); err != nil {
		return false, newStatus, apperr.Storage("updating resource status", err)
	}
	resource.Status = newStatus
	return true, newStatus, nil
}

// actuate queues a command for the resource's linked lock device, if any.
// Non-lock devices never receive reservation-driven commands. Reservation
// operations never wait for physical actuation; the agent pulls the queue
// asynchronously.
func (m *Manager) actuate(ctx context.Context, tx storage.Queryable, resourceID string, action models.CommandAction, reservationID string) (*models.Device, error) {
	dev, err := m.devices.GetByResourceID(ctx, tx, resourceID)
	if err != nil {
		return nil, apperr.Storage("loading linked device", err)
	}
	if dev == nil || dev.Type != models.DeviceLock {
		return nil, nil
	}

	cmd := &models.DeviceCommand{
		DeviceID: dev.ID,
		Action:   action,
		Payload:  map[string]any{"reservation_id": reservationID},
	}
	if err := m.queue.EnqueueIn(ctx, tx, dev.Type, cmd); err != nil {
		return nil, err
	}
	return dev, nil
}

// recordDenied appends a denied audit entry in its own transaction so it
// survives the rollback of the refused operation. Best effort: a failure
// here is logged, the caller already reports the permission error.
func (m *Manager) recordDenied(ctx context.Context, actor *models.User, action string, resourceID, deviceID *string, detail string) {
	entry := &models.AuditLogEntry{
		UserID:     &actor.ID,
		Action:     action,
		ResourceID: resourceID,
		DeviceID:   deviceID,
		Result:     models.AuditResultDenied,
		Details:    map[string]any{"reason": detail},
	}
	if err := m.audits.Insert(ctx, m.db, entry); err != nil {
		m.log.Errorw("recording denied audit entry", "action", action, "error", err)
	}
}

func (m *Manager) publish(events []func()) {
	if m.broadcaster == nil {
		return
	}
	for _, fn := range events {
		fn()
	}
}

func groupByResource(reservations []models.Reservation) map[string][]models.Reservation {
	grouped := make(map[string][]models.Reservation)
	for _, res := range reservations {
		grouped[res.ResourceID] = append(grouped[res.ResourceID], res)
	}
	return grouped
}
