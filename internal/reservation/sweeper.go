package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	activeReservationsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reservations_active",
		Help: "Number of reservations currently in the active state.",
	})
	pendingCommandsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_commands_pending",
		Help: "Number of device commands queued and not yet fetched by the agent.",
	})
	sweepRunsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_sweeps_total",
		Help: "Sweeper runs by outcome.",
	}, []string{"outcome"})
)

// Sweeper drives time-based reservation transitions. Each tick activates due
// scheduled reservations, expires overdue active ones and purges audit
// entries past the retention window. A tick that fails is logged and retried
// on the next run; the sweeper never stops on error.
type Sweeper struct {
	cron           *cron.Cron
	manager        *Manager
	auditRetention time.Duration
	log            *zap.SugaredLogger
}

// NewSweeper creates a sweeper over the given manager. auditRetention of
// zero disables audit purging.
func NewSweeper(manager *Manager, auditRetention time.Duration, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		cron:           cron.New(cron.WithSeconds()),
		manager:        manager,
		auditRetention: auditRetention,
		log:            log,
	}
}

// Start schedules the sweep at the given interval and runs one sweep
// immediately so restarts catch up on missed transitions without waiting a
// full interval.
func (s *Sweeper) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, s.Sweep); err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}

	go s.Sweep()

	s.cron.Start()
	s.log.Infow("sweeper started", "interval", interval.String())
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Infow("sweeper stopped")
}

// Sweep runs one activation, expiration and purge pass.
func (s *Sweeper) Sweep() {
	ctx := context.Background()
	failed := false

	// Expiry runs first so a reservation scheduled back-to-back behind an
	// expiring one finds the resource free within the same tick.
	expired, err := s.manager.ExpireOverdueReservations(ctx)
	if err != nil {
		failed = true
		s.log.Errorw("expiration sweep", "error", err)
	} else if len(expired) > 0 {
		s.log.Infow("expired overdue reservations", "count", len(expired))
	}

	activated, err := s.manager.ActivateDueReservations(ctx)
	if err != nil {
		failed = true
		s.log.Errorw("activation sweep", "error", err)
	} else if len(activated) > 0 {
		s.log.Infow("activated scheduled reservations", "count", len(activated))
	}

	if s.auditRetention > 0 {
		cutoff := s.manager.now().Add(-s.auditRetention)
		purged, err := s.manager.audits.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			failed = true
			s.log.Errorw("audit purge", "error", err)
		} else if purged > 0 {
			s.log.Infow("purged audit entries", "count", purged, "cutoff", cutoff)
		}
	}

	s.updateGauges(ctx)

	outcome := "ok"
	if failed {
		outcome = "error"
	}
	sweepRunsCounter.WithLabelValues(outcome).Inc()
}

func (s *Sweeper) updateGauges(ctx context.Context) {
	if active, err := s.manager.reservations.CountActive(ctx); err == nil {
		activeReservationsGauge.Set(float64(active))
	}
	if pending, err := s.manager.queue.PendingCount(ctx); err == nil {
		pendingCommandsGauge.Set(float64(pending))
	}
}
