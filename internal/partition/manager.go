// Package partition owns the lifecycle of the day-range child tables
// of device_heartbeats (spec §4.4): lazy daily creation over a
// [now-90d, now+14d] window and the forward-only
// active -> archived -> dropped state machine.
package partition

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/sirupsen/logrus"
)

const (
	lookbackDays = 90
	lookaheadDays = 14
)

// Manager is an explicit Application-owned collaborator (spec §9).
type Manager struct {
	repo *store.PartitionRepository
	log  logrus.FieldLogger
}

func NewManager(repo *store.PartitionRepository, log logrus.FieldLogger) *Manager {
	return &Manager{repo: repo, log: log}
}

// NameFor returns the device_heartbeats_YYYYMMDD table name for day.
func NameFor(day time.Time) string {
	return fmt.Sprintf("device_heartbeats_%s", day.UTC().Format("20060102"))
}

// EnsureWindow creates any missing day partitions across
// [now-90d, now+14d], called on startup and daily thereafter (spec
// §4.4).
func (m *Manager) EnsureWindow(ctx context.Context, now time.Time) error {
	start := now.UTC().AddDate(0, 0, -lookbackDays)
	end := now.UTC().AddDate(0, 0, lookaheadDays)

	for d := dayFloor(start); !d.After(dayFloor(end)); d = d.AddDate(0, 0, 1) {
		if err := m.ensureDay(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureDay(ctx context.Context, day time.Time) error {
	name := NameFor(day)
	meta := &model.PartitionMeta{
		Name:       name,
		RangeStart: day,
		RangeEnd:   day.AddDate(0, 0, 1),
		State:      model.PartitionActive,
	}
	if err := m.repo.CreateIfMissing(ctx, meta); err != nil {
		return err
	}
	if err := m.repo.CreatePhysicalTable(ctx, meta); err != nil {
		return err
	}
	return nil
}

// TableForTimestamp returns the partition table name a given sample
// timestamp belongs to.
func (m *Manager) TableForTimestamp(ts time.Time) string {
	return NameFor(ts)
}

// RecentTableNames returns the partition table names for the last
// lookbackDays days, used by the purge worker to scope a device
// history purge across physical tables (spec §4.8).
func (m *Manager) RecentTableNames(lookbackDays int) []string {
	now := time.Now().UTC()
	names := make([]string, 0, lookbackDays)
	for i := 0; i < lookbackDays; i++ {
		names = append(names, NameFor(now.AddDate(0, 0, -i)))
	}
	return names
}

// Archive transitions a partition from active to archived, recording
// the row count/byte size/checksum/archive location produced by the
// caller's export step.
func (m *Manager) Archive(ctx context.Context, name string, rowCount, bytes int64, checksum, archiveURL string) error {
	meta, err := m.repo.Get(ctx, name)
	if err != nil {
		return err
	}
	if meta.State != model.PartitionActive {
		return apperr.New(apperr.Conflict, "only an active partition can be archived")
	}
	return m.repo.TransitionState(ctx, name, model.PartitionArchived, &rowCount, &bytes, checksum, archiveURL)
}

// Drop transitions a partition from archived to dropped and removes
// its physical table. Only a partition in the archived state can be
// dropped; no row count is checked here, so a partition that never
// went through Archive is rejected whatever its contents.
func (m *Manager) Drop(ctx context.Context, name string) error {
	meta, err := m.repo.Get(ctx, name)
	if err != nil {
		return err
	}
	if meta.State != model.PartitionArchived {
		return apperr.New(apperr.Conflict, "only an archived partition can be dropped")
	}

	if err := m.repo.DropPhysicalTable(ctx, name); err != nil {
		return err
	}
	return m.repo.TransitionState(ctx, name, model.PartitionDropped, nil, nil, "", "")
}

func dayFloor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
