package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueRepository backs the purge worker's FIFO job queue and the
// transient device-selection store (spec §4.8).
type QueueRepository struct {
	db *gorm.DB
}

func (r *QueueRepository) EnqueuePurge(ctx context.Context, deviceIDs []string, purgeHistory bool) error {
	encoded, err := json.Marshal(deviceIDs)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encoding purge job device ids", err)
	}
	job := &model.PurgeJob{DeviceIDs: string(encoded), PurgeHistory: purgeHistory, CreatedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "enqueuing purge job", err)
	}
	return nil
}

// ClaimBatch pops up to limit jobs off the front of the FIFO queue
// inside a single transaction using SELECT ... FOR UPDATE SKIP LOCKED,
// so a second worker racing for the same advisory lock window never
// double-claims a job.
func (r *QueueRepository) ClaimBatch(ctx context.Context, limit int) ([]model.PurgeJob, error) {
	var jobs []model.PurgeJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("created_at ASC").
			Limit(limit).
			Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]int64, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		return tx.Where("id IN ?", ids).Delete(&model.PurgeJob{}).Error
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "claiming purge jobs", err)
	}
	return jobs, nil
}

func (r *QueueRepository) CreateSelection(ctx context.Context, deviceIDs []string, ttl time.Duration) (*model.DeviceSelection, error) {
	encoded, err := json.Marshal(deviceIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encoding device selection", err)
	}
	now := time.Now().UTC()
	sel := &model.DeviceSelection{
		ID:        uuid.NewString(),
		DeviceIDs: string(encoded),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(sel).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "creating device selection", err)
	}
	return sel, nil
}

func (r *QueueRepository) GetSelection(ctx context.Context, id string) (*model.DeviceSelection, error) {
	var sel model.DeviceSelection
	err := r.db.WithContext(ctx).First(&sel, "id = ?", id).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "selection not found", err)
	}
	return &sel, nil
}

// DeleteExpiredSelections removes transient selections past their TTL
// (spec §4.8 "selection cleanup").
func (r *QueueRepository) DeleteExpiredSelections(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&model.DeviceSelection{})
	if result.Error != nil {
		return 0, apperr.Wrap(apperr.Internal, "deleting expired selections", result.Error)
	}
	return result.RowsAffected, nil
}
