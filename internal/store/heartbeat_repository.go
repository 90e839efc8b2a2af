package store

import (
	"context"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type HeartbeatRepository struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// BucketOf10s returns floor(epoch(ts)/10), the dedupe bucket key from
// spec §3/§4.3.
func BucketOf10s(ts time.Time) int64 {
	return ts.UTC().Unix() / 10
}

// AppendSample inserts one heartbeat row into the partition table
// named by partitionTable, relying on a unique (device_id, bucket_key)
// index to silently drop duplicates within the same 10s bucket (spec
// §3 invariant). Returns true if a new row was actually persisted.
func (r *HeartbeatRepository) AppendSample(ctx context.Context, partitionTable string, s *model.HeartbeatSample) (bool, error) {
	s.BucketKey = BucketOf10s(s.Ts)
	result := r.db.WithContext(ctx).Table(partitionTable).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "bucket_key"}},
			DoNothing: true,
		}).Create(s)
	if result.Error != nil {
		return false, apperr.Wrap(apperr.Internal, "appending heartbeat sample", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpsertLastStatus writes DeviceLastStatus only if the incoming Ts is
// strictly newer than the stored one, enforcing the monotonicity
// invariant from spec §3/§8 directly in the SQL predicate so the
// write is atomic without a read-modify-write round trip.
func (r *HeartbeatRepository) UpsertLastStatus(ctx context.Context, s *model.DeviceLastStatus) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_ts", "battery_pct", "network_type", "ssid",
			"signal_dbm", "unity_running", "agent_version", "ip", "status", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "excluded.last_ts > device_last_status.last_ts"},
		}},
	}).Create(s).Error
}

func (r *HeartbeatRepository) GetLastStatus(ctx context.Context, deviceID string) (*model.DeviceLastStatus, error) {
	var st model.DeviceLastStatus
	err := r.db.WithContext(ctx).First(&st, "device_id = ?", deviceID).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "no last status for device", err)
	}
	return &st, nil
}

func (r *HeartbeatRepository) ListLastStatuses(ctx context.Context) ([]model.DeviceLastStatus, error) {
	var rows []model.DeviceLastStatus
	err := r.db.WithContext(ctx).Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing last statuses", err)
	}
	return rows, nil
}

// SamplesSince supports the reconciliation loop (spec §4.3): at most
// limit rows from partitionTable since `since`, ordered so the
// reconciler can replay them in arrival order.
func (r *HeartbeatRepository) SamplesSince(ctx context.Context, partitionTable string, since time.Time, limit int) ([]model.HeartbeatSample, error) {
	var rows []model.HeartbeatSample
	err := r.db.WithContext(ctx).Table(partitionTable).
		Where("ts >= ?", since).
		Order("ts ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "scanning recent samples", err)
	}
	return rows, nil
}

// MostRecentSample supports the legacy log-scan read path (spec
// §4.9, feature flag READ_FROM_LAST_STATUS off).
func (r *HeartbeatRepository) MostRecentSample(ctx context.Context, partitionTable, deviceID string) (*model.HeartbeatSample, error) {
	var row model.HeartbeatSample
	err := r.db.WithContext(ctx).Table(partitionTable).
		Where("device_id = ?", deviceID).
		Order("ts DESC").
		First(&row).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "no recent sample for device", err)
	}
	return &row, nil
}
