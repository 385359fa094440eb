package device

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/iot-resource-manager/backend/internal/apperr"
	"github.com/iot-resource-manager/backend/internal/locking"
	"github.com/iot-resource-manager/backend/internal/storage"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

// Queue is the per-device FIFO of pending actuation commands. The
// reservation manager enqueues; the out-of-process device agent drains via
// FetchNext. Delivery is at most once: a fetch marks the command consumed in
// the same transaction, and a dropped poll means the command is lost and
// re-derived from current resource state on the next agent contact.
type Queue struct {
	db          *storage.DB
	commandRepo *storage.CommandRepository

	// locks serializes enqueue/fetch per device so two concurrent polls
	// can never tear off the same command.
	locks *locking.KeyedMutex
	log   *zap.SugaredLogger
}

// NewQueue creates a device command queue.
func NewQueue(db *storage.DB, commandRepo *storage.CommandRepository, log *zap.SugaredLogger) *Queue {
	return &Queue{
		db:          db,
		commandRepo: commandRepo,
		locks:       locking.NewKeyedMutex(),
		log:         log,
	}
}

// EnqueueIn appends a command within the caller's transaction. No
// deduplication: a lock followed by an unlock is delivered in that exact
// order, and the agent replays them to converge on the latest state.
//
// The caller is expected to hold the device lock only when enqueueing
// outside a reservation-lifecycle transaction; inside the manager's
// critical section the reservation lock already serializes producers.
func (q *Queue) EnqueueIn(ctx context.Context, tx storage.Queryable, deviceType models.DeviceType, cmd *models.DeviceCommand) error {
	if !Supports(deviceType, cmd.Action) {
		return apperr.Newf(apperr.KindInvalidInput, "device type %q does not support action %q", deviceType, cmd.Action)
	}
	if err := q.commandRepo.Insert(ctx, tx, cmd); err != nil {
		return apperr.Storage("enqueueing device command", err)
	}
	return nil
}

// Enqueue appends a command in its own transaction.
func (q *Queue) Enqueue(ctx context.Context, deviceType models.DeviceType, cmd *models.DeviceCommand) error {
	q.locks.Lock(cmd.DeviceID)
	defer q.locks.Unlock(cmd.DeviceID)

	return q.EnqueueIn(ctx, q.db, deviceType, cmd)
}

// FetchNext atomically pops the oldest unconsumed command for the device and
// marks it consumed. Returns nil when the queue is empty; an empty queue is
// not an error. This is the only read path: there is no peeking without
// consuming.
func (q *Queue) FetchNext(ctx context.Context, deviceID string) (*models.DeviceCommand, error) {
	q.locks.Lock(deviceID)
	defer q.locks.Unlock(deviceID)

	var cmd *models.DeviceCommand
	err := q.db.Transaction(ctx, func(tx *sql.Tx) error {
		next, err := q.commandRepo.NextPending(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		now := time.Now().UTC()
		if err := q.commandRepo.MarkConsumed(ctx, tx, next.ID, now); err != nil {
			return err
		}
		next.ConsumedAt = &now
		cmd = next
		return nil
	})
	if err != nil {
		return nil, apperr.Storage("fetching next device command", err)
	}

	if cmd != nil {
		q.log.Debugw("command delivered", "device_id", deviceID, "command_id", cmd.ID, "action", cmd.Action)
	}
	return cmd, nil
}

// Clear drops all pending commands for a device.
func (q *Queue) Clear(ctx context.Context, tx storage.Queryable, deviceID string) error {
	q.locks.Lock(deviceID)
	defer q.locks.Unlock(deviceID)

	if err := q.commandRepo.ClearForDevice(ctx, tx, deviceID); err != nil {
		return apperr.Storage("clearing device queue", err)
	}
	return nil
}

// PendingCount returns the number of unconsumed commands across all devices.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.commandRepo.CountPending(ctx)
}
