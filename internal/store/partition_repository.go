package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"gorm.io/gorm"
)

type PartitionRepository struct {
	db *gorm.DB
}

func (r *PartitionRepository) Get(ctx context.Context, name string) (*model.PartitionMeta, error) {
	var p model.PartitionMeta
	err := r.db.WithContext(ctx).First(&p, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "partition not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching partition", err)
	}
	return &p, nil
}

func (r *PartitionRepository) List(ctx context.Context) ([]model.PartitionMeta, error) {
	var rows []model.PartitionMeta
	err := r.db.WithContext(ctx).Order("range_start ASC").Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing partitions", err)
	}
	return rows, nil
}

// CreateIfMissing inserts the metadata row for a new day partition,
// swallowing a duplicate-day race as an idempotency conflict.
func (r *PartitionRepository) CreateIfMissing(ctx context.Context, p *model.PartitionMeta) error {
	err := r.db.WithContext(ctx).Create(p).Error
	if err != nil && !isUniqueViolation(err) {
		return apperr.Wrap(apperr.Internal, "creating partition metadata", err)
	}
	return nil
}

// CreatePhysicalTable creates the actual PARTITION OF child table with
// the naming convention device_heartbeats_YYYYMMDD required by spec
// §6, plus the (device_id, ts DESC) index and the dedupe unique index
// (spec §4.4).
func (r *PartitionRepository) CreatePhysicalTable(ctx context.Context, p *model.PartitionMeta) error {
	createSQL := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF device_heartbeats FOR VALUES FROM ('%s') TO ('%s')`,
		p.Name, p.RangeStart.Format("2006-01-02"), p.RangeEnd.Format("2006-01-02"))
	if err := r.db.WithContext(ctx).Exec(createSQL).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "creating physical partition", err)
	}

	idxSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_device_ts ON %s (device_id, ts DESC)`, p.Name, p.Name)
	if err := r.db.WithContext(ctx).Exec(idxSQL).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "creating partition index", err)
	}

	dedupeSQL := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_dedupe ON %s (device_id, bucket_key)`, p.Name, p.Name)
	if err := r.db.WithContext(ctx).Exec(dedupeSQL).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "creating partition dedupe index", err)
	}

	return nil
}

// TransitionState moves a partition forward one state, updating the
// row-count/bytes/checksum/archive_url metadata that accompanies the
// transition (spec §4.4). The caller is responsible for enforcing
// that the transition is forward-only and that dropping a non-empty,
// non-archived partition is rejected (spec §4.4, §7); this method
// assumes that check already passed.
func (r *PartitionRepository) TransitionState(ctx context.Context, name string, newState model.PartitionState, rowCount, bytes *int64, checksum, archiveURL string) error {
	updates := map[string]interface{}{"state": newState}
	if rowCount != nil {
		updates["row_count"] = *rowCount
	}
	if bytes != nil {
		updates["bytes"] = *bytes
	}
	if checksum != "" {
		updates["checksum_sha256"] = checksum
	}
	if archiveURL != "" {
		updates["archive_url"] = archiveURL
	}
	return r.db.WithContext(ctx).Model(&model.PartitionMeta{}).Where("name = ?", name).Updates(updates).Error
}

func (r *PartitionRepository) DropPhysicalTable(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, name)).Error
}
