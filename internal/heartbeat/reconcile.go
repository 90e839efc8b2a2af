package heartbeat

import (
	"context"
	"time"

	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"gorm.io/gorm"
)

func sampleRowToLastStatus(s model.HeartbeatSample) *model.DeviceLastStatus {
	return &model.DeviceLastStatus{
		DeviceID:     s.DeviceID,
		LastTs:       s.Ts,
		BatteryPct:   s.BatteryPct,
		NetworkType:  s.NetworkType,
		SSID:         s.SSID,
		SignalDbm:    s.SignalDbm,
		UnityRunning: s.UnityRunning,
		AgentVersion: s.AgentVersion,
		IP:           s.IP,
		Status:       s.Status,
		UpdatedAt:    time.Now().UTC(),
	}
}

const (
	reconcileLockKey = int64(7_442_019) // arbitrary fixed advisory lock id for this job
	reconcileRowCap  = 5000
)

// Reconciler replays recent heartbeat samples to repair
// DeviceLastStatus rows that might have fallen behind (e.g. after a
// restart mid-ingest), idempotently and safely re-entrant across
// multiple worker processes via a Postgres advisory lock (spec §4.3).
type Reconciler struct {
	db         *gorm.DB
	heartbeats *store.HeartbeatRepository
	partitions tableNamer
}

type tableNamer interface {
	TableForTimestamp(ts time.Time) string
}

func NewReconciler(db *gorm.DB, heartbeats *store.HeartbeatRepository, partitions tableNamer) *Reconciler {
	return &Reconciler{db: db, heartbeats: heartbeats, partitions: partitions}
}

// Run scans the last hour of samples in today's partition and
// re-applies the monotone upsert, which is a no-op for rows that are
// already current. It returns false without doing work if another
// process currently holds the advisory lock.
func (r *Reconciler) Run(ctx context.Context) (bool, error) {
	acquired, err := r.tryLock(ctx)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer r.unlock(ctx)

	now := time.Now().UTC()
	table := r.partitions.TableForTimestamp(now)
	since := now.Add(-time.Hour)

	samples, err := r.heartbeats.SamplesSince(ctx, table, since, reconcileRowCap)
	if err != nil {
		return false, err
	}

	for _, s := range samples {
		last := sampleRowToLastStatus(s)
		if err := r.heartbeats.UpsertLastStatus(ctx, last); err != nil {
			return false, err
		}
	}

	return true, nil
}

func (r *Reconciler) tryLock(ctx context.Context) (bool, error) {
	var acquired bool
	err := r.db.WithContext(ctx).Raw("SELECT pg_try_advisory_lock(?)", reconcileLockKey).Scan(&acquired).Error
	return acquired, err
}

func (r *Reconciler) unlock(ctx context.Context) {
	r.db.WithContext(ctx).Exec("SELECT pg_advisory_unlock(?)", reconcileLockKey)
}
