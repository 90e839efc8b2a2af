package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetmdm/controlplane/internal/heartbeat"
	"github.com/fleetmdm/controlplane/internal/partition"
	"github.com/fleetmdm/controlplane/internal/store"
	"gorm.io/gorm"
)

const (
	purgeLockKey        = int64(7_442_020) // distinct from heartbeat.reconcileLockKey
	purgeTimeBudget     = 60 * time.Second
	purgeMaxJobsPerTick = 200
)

// PurgeWorker drains the FIFO purge queue under a process-wide
// advisory lock (spec §4.8): only one worker in the fleet runs a tick
// at a time, bounded by a time budget and a job cap, deleting
// heartbeat/command history for named device ids.
type PurgeWorker struct {
	db         *gorm.DB
	queue      *store.QueueRepository
	partitions *partition.Manager
}

func NewPurgeWorker(db *gorm.DB, queue *store.QueueRepository, partitions *partition.Manager) *PurgeWorker {
	return &PurgeWorker{db: db, queue: queue, partitions: partitions}
}

func (w *PurgeWorker) Run(ctx context.Context) error {
	acquired, err := tryAdvisoryLock(ctx, w.db, purgeLockKey)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer releaseAdvisoryLock(ctx, w.db, purgeLockKey)

	deadline := time.Now().Add(purgeTimeBudget)
	processed := 0

	for time.Now().Before(deadline) && processed < purgeMaxJobsPerTick {
		jobs, err := w.queue.ClaimBatch(ctx, 10)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		for _, job := range jobs {
			var deviceIDs []string
			if err := json.Unmarshal([]byte(job.DeviceIDs), &deviceIDs); err != nil {
				continue
			}
			if err := w.purgeDevices(ctx, deviceIDs, job.PurgeHistory); err != nil {
				return err
			}
			processed++
		}
	}
	return nil
}

func (w *PurgeWorker) purgeDevices(ctx context.Context, deviceIDs []string, purgeHistory bool) error {
	if len(deviceIDs) == 0 {
		return nil
	}
	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM command_records WHERE device_id IN ?", deviceIDs).Error; err != nil {
			return fmt.Errorf("purging command records: %w", err)
		}
		if err := tx.Exec("DELETE FROM command_results WHERE device_id IN ?", deviceIDs).Error; err != nil {
			return fmt.Errorf("purging command results: %w", err)
		}
		if purgeHistory {
			for _, name := range w.partitions.RecentTableNames(90) {
				if err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE device_id IN ?", name), deviceIDs).Error; err != nil {
					return fmt.Errorf("purging partition %s: %w", name, err)
				}
			}
		}
		return nil
	})
}

// SelectionCleanup removes expired transient device selections (spec
// §4.8), running every 10 minutes.
func SelectionCleanup(queue *store.QueueRepository) Job {
	return Job{
		Name: "selection_cleanup",
		Run: func(ctx context.Context) error {
			_, err := queue.DeleteExpiredSelections(ctx, time.Now().UTC())
			return err
		},
	}
}

// ReconciliationJob wraps heartbeat.Reconciler.Run as a scheduler Job
// for the hourly cadence (spec §4.3, §4.8).
func ReconciliationJob(r *heartbeat.Reconciler) Job {
	return Job{
		Name: "reconciliation",
		Run: func(ctx context.Context) error {
			_, err := r.Run(ctx)
			return err
		},
	}
}

// PartitionMaintenanceJob re-runs EnsureWindow daily so the rolling
// [now-90d, now+14d] partition set never falls behind (spec §4.4,
// §4.8).
func PartitionMaintenanceJob(m *partition.Manager) Job {
	return Job{
		Name: "partition_maintenance",
		Run: func(ctx context.Context) error {
			return m.EnsureWindow(ctx, time.Now().UTC())
		},
	}
}

func tryAdvisoryLock(ctx context.Context, db *gorm.DB, key int64) (bool, error) {
	var acquired bool
	err := db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", key).Scan(&acquired).Error
	return acquired, err
}

func releaseAdvisoryLock(ctx context.Context, db *gorm.DB, key int64) {
	db.WithContext(ctx).Exec("SELECT pg_advisory_unlock(?)", key)
}
