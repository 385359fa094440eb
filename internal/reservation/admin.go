package reservation

import (
	"context"
	"database/sql"

	"github.com/iot-resource-manager/backend/internal/apperr"
	"github.com/iot-resource-manager/backend/internal/device"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// Admin mutations for resources, devices and users. These run through the
// manager so every change lands in the audit log and on the event stream,
// the same path the reservation lifecycle uses.

func (m *Manager) requireAdmin(ctx context.Context, actor *models.User, action string, resourceID, deviceID *string) error {
	if actor.IsAdmin() {
		return nil
	}
	m.recordDenied(ctx, actor, action, resourceID, deviceID, "admin role required")
	return apperr.New(apperr.KindPermissionDenied, "admin role required")
}

// CreateResource registers a new reservable resource.
func (m *Manager) CreateResource(ctx context.Context, actor *models.User, res *models.Resource) (*models.Resource, error) {
	if err := m.requireAdmin(ctx, actor, models.AuditResourceCreated, nil, nil); err != nil {
		return nil, err
	}
	if res.Name == "" || res.Type == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "resource name and type are required")
	}
	if res.Status == "" {
		res.Status = models.ResourceAvailable
	}

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := m.resources.Create(ctx, tx, res); err != nil {
			return apperr.Storage("creating resource", err)
		}
		entry := &models.AuditLogEntry{
			UserID:     &actor.ID,
			Action:     models.AuditResourceCreated,
			ResourceID: &res.ID,
			Details:    map[string]any{"name": res.Name, "type": res.Type},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish([]func(){func() { m.broadcaster.ResourceCreated(res.ID, res.Status) }})
	m.log.Infow("resource created", "resource_id", res.ID, "name", res.Name)
	return res, nil
}

// UpdateResource applies admin edits to a resource, including moving it in
// and out of maintenance.
func (m *Manager) UpdateResource(ctx context.Context, actor *models.User, res *models.Resource) (*models.Resource, error) {
	if err := m.requireAdmin(ctx, actor, models.AuditResourceUpdated, &res.ID, nil); err != nil {
		return nil, err
	}

	m.locks.Lock(res.ID)
	defer m.locks.Unlock(res.ID)

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := m.resources.GetByID(ctx, tx, res.ID)
		if err != nil {
			return apperr.Storage("loading resource", err)
		}
		if existing == nil {
			return apperr.NotFound("resource", res.ID)
		}

		// Leaving maintenance re-derives the status from reservation
		// state instead of trusting the submitted value.
		if existing.Status == models.ResourceMaintenance && res.Status != models.ResourceMaintenance {
			hasActive, err := m.reservations.HasActiveOnResource(ctx, tx, res.ID, "")
			if err != nil {
				return apperr.Storage("checking active reservations", err)
			}
			res.Status = models.ResourceAvailable
			if hasActive {
				res.Status = models.ResourceReserved
			}
		} else if res.Status != models.ResourceMaintenance {
			res.Status = existing.Status
		}

		if err := m.resources.Update(ctx, tx, res); err != nil {
			return apperr.Storage("updating resource", err)
		}
		entry := &models.AuditLogEntry{
			UserID:     &actor.ID,
			Action:     models.AuditResourceUpdated,
			ResourceID: &res.ID,
			Details:    map[string]any{"status": string(res.Status)},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish([]func(){func() { m.broadcaster.ResourceUpdated(res.ID, res.Status) }})
	m.log.Infow("resource updated", "resource_id", res.ID, "status", res.Status)
	return res, nil
}

// DeleteResource removes a resource. Refused while any non-terminal
// reservation references it; release or wait out those first.
func (m *Manager) DeleteResource(ctx context.Context, actor *models.User, id string) error {
	if err := m.requireAdmin(ctx, actor, models.AuditResourceDeleted, &id, nil); err != nil {
		return err
	}

	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := m.resources.GetByID(ctx, tx, id)
		if err != nil {
			return apperr.Storage("loading resource", err)
		}
		if existing == nil {
			return apperr.NotFound("resource", id)
		}

		open, err := m.reservations.NonTerminalForResource(ctx, tx, id)
		if err != nil {
			return apperr.Storage("loading reservations", err)
		}
		if len(open) > 0 {
			return apperr.New(apperr.KindConflict, "resource has open reservations")
		}

		if err := m.resources.Delete(ctx, tx, id); err != nil {
			return apperr.Storage("deleting resource", err)
		}
		entry := &models.AuditLogEntry{
			UserID:     &actor.ID,
			Action:     models.AuditResourceDeleted,
			ResourceID: &id,
			Details:    map[string]any{"name": existing.Name},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.publish([]func(){func() { m.broadcaster.ResourceDeleted(id) }})
	m.log.Infow("resource deleted", "resource_id", id)
	return nil
}

// CreateDevice registers a simulated device, optionally linked to a
// resource. A resource carries at most one device.
func (m *Manager) CreateDevice(ctx context.Context, actor *models.User, d *models.Device) (*models.Device, error) {
	if err := m.requireAdmin(ctx, actor, models.AuditDeviceCreated, nil, nil); err != nil {
		return nil, err
	}
	if d.Name == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "device name is required")
	}
	if !device.KnownType(d.Type) {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown device type %q", d.Type)
	}
	if d.Status == "" {
		d.Status = "unknown"
	}

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := m.validateDeviceLink(ctx, tx, d, ""); err != nil {
			return err
		}
		if err := m.devices.Create(ctx, tx, d); err != nil {
			return apperr.Storage("creating device", err)
		}
		entry := &models.AuditLogEntry{
			UserID:     &actor.ID,
			Action:     models.AuditDeviceCreated,
			DeviceID:   &d.ID,
			ResourceID: d.ResourceID,
			Details:    map[string]any{"name": d.Name, "type": string(d.Type)},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish([]func(){func() { m.broadcaster.DeviceCreated(d.ID, d.Status) }})
	m.log.Infow("device created", "device_id", d.ID, "type", d.Type)
	return d, nil
}

// UpdateDevice applies admin edits to a device's name, type and resource
// link. Status and reported values stay agent-owned and are not touched.
func (m *Manager) UpdateDevice(ctx context.Context, actor *models.User, d *models.Device) (*models.Device, error) {
	if err := m.requireAdmin(ctx, actor, models.AuditDeviceUpdated, nil, &d.ID); err != nil {
		return nil, err
	}
	if !device.KnownType(d.Type) {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown device type %q", d.Type)
	}

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := m.devices.GetByID(ctx, tx, d.ID)
		if err != nil {
			return apperr.Storage("loading device", err)
		}
		if existing == nil {
			return apperr.NotFound("device", d.ID)
		}
		// Status and reported values are agent-owned; carry them over.
		d.Status = existing.Status
		d.NumericValue = existing.NumericValue
		d.TextValue = existing.TextValue
		if err := m.validateDeviceLink(ctx, tx, d, d.ID); err != nil {
			return err
		}
		if err := m.devices.Update(ctx, tx, d); err != nil {
			return apperr.Storage("updating device", err)
		}
		entry := &models.AuditLogEntry{
			UserID:     &actor.ID,
			Action:     models.AuditDeviceUpdated,
			DeviceID:   &d.ID,
			ResourceID: d.ResourceID,
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish([]func(){func() { m.broadcaster.DeviceUpdated(d.ID, d.Status) }})
	m.log.Infow("device updated", "device_id", d.ID)
	return d, nil
}

// validateDeviceLink checks that the target resource exists and has no other
// device attached. selfID excludes the device being updated from the
// occupancy check.
func (m *Manager) validateDeviceLink(ctx context.Context, tx *sql.Tx, d *models.Device, selfID string) error {
	if d.ResourceID == nil {
		return nil
	}
	resource, err := m.resources.GetByID(ctx, tx, *d.ResourceID)
	if err != nil {
		return apperr.Storage("loading resource", err)
	}
	if resource == nil {
		return apperr.NotFound("resource", *d.ResourceID)
	}
	linked, err := m.devices.GetByResourceID(ctx, tx, *d.ResourceID)
	if err != nil {
		return apperr.Storage("checking resource link", err)
	}
	if linked != nil && linked.ID != selfID {
		return apperr.New(apperr.KindConflict, "resource already has a linked device")
	}
	return nil
}

// DeleteDevice removes a device and drops its pending command queue.
func (m *Manager) DeleteDevice(ctx context.Context, actor *models.User, id string) error {
	if err := m.requireAdmin(ctx, actor, models.AuditDeviceDeleted, nil, &id); err != nil {
		return err
	}

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := m.devices.GetByID(ctx, tx, id)
		if err != nil {
			return apperr.Storage("loading device", err)
		}
		if existing == nil {
			return apperr.NotFound("device", id)
		}
		if err := m.queue.Clear(ctx, tx, id); err != nil {
			return err
		}
		if err := m.devices.Delete(ctx, tx, id); err != nil {
			return apperr.Storage("deleting device", err)
		}
		entry := &models.AuditLogEntry{
			UserID:   &actor.ID,
			Action:   models.AuditDeviceDeleted,
			DeviceID: &id,
			Details:  map[string]any{"name": existing.Name},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.publish([]func(){func() { m.broadcaster.DeviceDeleted(id) }})
	m.log.Infow("device deleted", "device_id", id)
	return nil
}

// CreateUser registers a user account.
func (m *Manager) CreateUser(ctx context.Context, actor *models.User, u *models.User) (*models.User, error) {
	if err := m.requireAdmin(ctx, actor, models.AuditUserCreated, nil, nil); err != nil {
		return nil, err
	}
	if u.Username == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "username is required")
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.Role != models.RoleAdmin && u.Role != models.RoleUser {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown role %q", u.Role)
	}

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := m.users.GetByUsername(ctx, u.Username)
		if err != nil {
			return apperr.Storage("checking username", err)
		}
		if existing != nil {
			return apperr.New(apperr.KindConflict, "username already taken")
		}
		if err := m.users.Create(ctx, tx, u); err != nil {
			return apperr.Storage("creating user", err)
		}
		entry := &models.AuditLogEntry{
			UserID:  &actor.ID,
			Action:  models.AuditUserCreated,
			Details: map[string]any{"username": u.Username, "role": string(u.Role)},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Infow("user created", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// UpdateUser applies admin edits to a user's profile, role and active flag.
func (m *Manager) UpdateUser(ctx context.Context, actor *models.User, u *models.User) (*models.User, error) {
	if err := m.requireAdmin(ctx, actor, models.AuditUserUpdated, nil, nil); err != nil {
		return nil, err
	}
	if u.Role != models.RoleAdmin && u.Role != models.RoleUser {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown role %q", u.Role)
	}

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := m.users.GetByID(ctx, u.ID)
		if err != nil {
			return apperr.Storage("loading user", err)
		}
		if existing == nil {
			return apperr.NotFound("user", u.ID)
		}
		if err := m.users.Update(ctx, tx, u); err != nil {
			return apperr.Storage("updating user", err)
		}
		entry := &models.AuditLogEntry{
			UserID:  &actor.ID,
			Action:  models.AuditUserUpdated,
			Details: map[string]any{"username": existing.Username, "role": string(u.Role), "is_active": u.IsActive},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Infow("user updated", "user_id", u.ID)
	return u, nil
}

// DeleteUser removes a user account. Admins cannot delete themselves.
func (m *Manager) DeleteUser(ctx context.Context, actor *models.User, id string) error {
	if err := m.requireAdmin(ctx, actor, models.AuditUserDeleted, nil, nil); err != nil {
		return err
	}
	if id == actor.ID {
		return apperr.New(apperr.KindInvalidInput, "cannot delete your own account")
	}

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := m.users.GetByID(ctx, id)
		if err != nil {
			return apperr.Storage("loading user", err)
		}
		if existing == nil {
			return apperr.NotFound("user", id)
		}
		if err := m.users.Delete(ctx, tx, id); err != nil {
			return apperr.Storage("deleting user", err)
		}
		entry := &models.AuditLogEntry{
			UserID:  &actor.ID,
			Action:  models.AuditUserDeleted,
			Details: map[string]any{"username": existing.Username},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.log.Infow("user deleted", "user_id", id)
	return nil
}

// SyncPermissions replaces a user's permitted resource set. Unknown resource
// ids in the list are silently skipped.
func (m *Manager) SyncPermissions(ctx context.Context, actor *models.User, userID string, resourceIDs []string) error {
	if err := m.requireAdmin(ctx, actor, models.AuditPermissionsUpdated, nil, nil); err != nil {
		return err
	}

	err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
		existing, err := m.users.GetByID(ctx, userID)
		if err != nil {
			return apperr.Storage("loading user", err)
		}
		if existing == nil {
			return apperr.NotFound("user", userID)
		}
		if err := m.users.SyncPermissions(ctx, tx, userID, resourceIDs); err != nil {
			return apperr.Storage("updating permissions", err)
		}
		entry := &models.AuditLogEntry{
			UserID:  &actor.ID,
			Action:  models.AuditPermissionsUpdated,
			Details: map[string]any{"target_user_id": userID, "resource_count": len(resourceIDs)},
		}
		if err := m.audits.Insert(ctx, tx, entry); err != nil {
			return apperr.Storage("recording audit entry", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.log.Infow("permissions updated", "user_id", userID, "resources", len(resourceIDs))
	return nil
}
