package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// MaintenanceConfig sets how often the background jobs run.
type MaintenanceConfig struct {
	GuardInterval     time.Duration
	ReconcileInterval time.Duration
	LimiterIdle       time.Duration
}

// StartMaintenance schedules the guard sweep, the ledger reconciliation audit and limiter cleanup.
// The returned scheduler must be shut down by the caller.
func StartMaintenance(ctx context.Context, guard *Guard, limiter *SubjectLimiter, cfg MaintenanceConfig) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if cfg.GuardInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.GuardInterval),
			gocron.NewTask(func() {
				n, err := guard.RepairAll(ctx)
				if err != nil {
					log.Printf("[ERROR] [Scheduler] guard sweep: %v", err)
					return
				}
				if n > 0 {
					log.Printf("✅ [Scheduler] guard repaired %d accounts", n)
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	if cfg.ReconcileInterval > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.ReconcileInterval),
			gocron.NewTask(func() {
				drifts, err := guard.ReconcileAll(ctx)
				if err != nil {
					log.Printf("[ERROR] [Scheduler] ledger reconcile: %v", err)
					return
				}
				log.Printf("✅ [Scheduler] ledger reconciled, %d drifts", len(drifts))
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	if limiter != nil && cfg.LimiterIdle > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(time.Minute),
			gocron.NewTask(func() {
				limiter.Prune(time.Now().UTC().Add(-cfg.LimiterIdle))
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	return sched, nil
}
