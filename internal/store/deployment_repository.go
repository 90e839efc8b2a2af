package store

import (
	"context"
	"errors"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeploymentRepository struct {
	db *gorm.DB
}

func (r *DeploymentRepository) CreateRun(ctx context.Context, run *model.DeploymentRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "creating deployment run", err)
	}
	return nil
}

func (r *DeploymentRepository) GetRun(ctx context.Context, id string) (*model.DeploymentRun, error) {
	var run model.DeploymentRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "deployment run not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching deployment run", err)
	}
	return &run, nil
}

func (r *DeploymentRepository) ListRuns(ctx context.Context) ([]model.DeploymentRun, error) {
	var rows []model.DeploymentRun
	err := r.db.WithContext(ctx).Order("started_at DESC").Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing deployment runs", err)
	}
	return rows, nil
}

// ListRunningOrPending supports the per-tick scheduler scan (spec
// §4.7): only runs eligible to make progress.
func (r *DeploymentRepository) ListRunningOrPending(ctx context.Context) ([]model.DeploymentRun, error) {
	var rows []model.DeploymentRun
	err := r.db.WithContext(ctx).Where("status IN ?", []model.RunStatus{model.RunRunning, model.RunPending}).Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing active deployment runs", err)
	}
	return rows, nil
}

// UpdateRunStatus enforces forward progress only at the caller level
// (spec §8: terminal states are immutable); this method performs the
// write unconditionally once the caller has validated the transition.
func (r *DeploymentRepository) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{"status": status}
	for k, v := range fields {
		updates[k] = v
	}
	return r.db.WithContext(ctx).Model(&model.DeploymentRun{}).Where("id = ?", id).Updates(updates).Error
}

func (r *DeploymentRepository) CreateBatch(ctx context.Context, b *model.DeploymentBatch) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "creating deployment batch", err)
	}
	return nil
}

func (r *DeploymentRepository) GetBatch(ctx context.Context, id string) (*model.DeploymentBatch, error) {
	var b model.DeploymentBatch
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "deployment batch not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching deployment batch", err)
	}
	return &b, nil
}

func (r *DeploymentRepository) FirstPendingBatch(ctx context.Context, runID string) (*model.DeploymentBatch, error) {
	var b model.DeploymentBatch
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND status = ?", runID, model.BatchPending).
		Order("batch_index ASC").First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "no pending batch")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching next batch", err)
	}
	return &b, nil
}

func (r *DeploymentRepository) ListBatches(ctx context.Context, runID string) ([]model.DeploymentBatch, error) {
	var rows []model.DeploymentBatch
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("batch_index ASC").Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing deployment batches", err)
	}
	return rows, nil
}

func (r *DeploymentRepository) UpdateBatch(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.DeploymentBatch{}).Where("id = ?", id).Updates(fields).Error
}

// AddBatchDevice inserts a batch device, or stamps the RequestID on the
// existing (batch_id, device_id) row.
func (r *DeploymentRepository) AddBatchDevice(ctx context.Context, bd *model.DeploymentBatchDevice) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_id"}, {Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"request_id"}),
	}).Create(bd).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "adding batch device", err)
	}
	return nil
}

func (r *DeploymentRepository) ListBatchDevices(ctx context.Context, batchID string) ([]model.DeploymentBatchDevice, error) {
	var rows []model.DeploymentBatchDevice
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Find(&rows).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "listing batch devices", err)
	}
	return rows, nil
}

// GetBatchDeviceByRequestID correlates an action result back to the
// deployment batch it belongs to, so PostActionResult can feed
// ApkInstallation rows for the controller's per-tick evaluation (spec
// §4.7).
func (r *DeploymentRepository) GetBatchDeviceByRequestID(ctx context.Context, requestID string) (*model.DeploymentBatchDevice, error) {
	var bd model.DeploymentBatchDevice
	err := r.db.WithContext(ctx).First(&bd, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "no deployment batch device for request")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "looking up batch device by request id", err)
	}
	return &bd, nil
}
