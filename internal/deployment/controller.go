// Package deployment implements the staged-rollout controller (spec
// §4.7): a run/batch state machine that advances one pending batch at
// a time, pushing install_apk to every device in the batch and
// tracking outcomes against a success threshold and a per-batch
// timeout.
package deployment

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/dispatch"
	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// runStore is the slice of store.DeploymentRepository the controller
// needs; narrowing to an interface lets evaluateBatch/tickRun be
// exercised against an in-memory fake instead of a live Postgres
// connection.
type runStore interface {
	CreateRun(ctx context.Context, run *model.DeploymentRun) error
	GetRun(ctx context.Context, id string) (*model.DeploymentRun, error)
	ListRunningOrPending(ctx context.Context) ([]model.DeploymentRun, error)
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, fields map[string]interface{}) error
	CreateBatch(ctx context.Context, b *model.DeploymentBatch) error
	ListBatches(ctx context.Context, runID string) ([]model.DeploymentBatch, error)
	UpdateBatch(ctx context.Context, id string, fields map[string]interface{}) error
	AddBatchDevice(ctx context.Context, bd *model.DeploymentBatchDevice) error
	ListBatchDevices(ctx context.Context, batchID string) ([]model.DeploymentBatchDevice, error)
}

// apkInstallationStore is the slice of store.ApkRepository the
// controller needs, for the same reason.
type apkInstallationStore interface {
	ListInstallationsByBatch(ctx context.Context, batchID string) ([]model.ApkInstallation, error)
}

// commandDispatcher is the slice of *dispatch.Dispatcher the
// controller needs, so batch-start tests can swap in a fake that
// never touches a real push provider.
type commandDispatcher interface {
	Dispatch(ctx context.Context, requestID, deviceID, action string, params dispatch.Params) (*model.CommandRecord, error)
}

// Controller is an explicit Application-owned collaborator (spec §9).
type Controller struct {
	deployments runStore
	apks        apkInstallationStore
	devices     *store.DeviceRepository
	dispatcher  commandDispatcher
	log         logrus.FieldLogger
}

func NewController(deployments *store.DeploymentRepository, apks *store.ApkRepository, devices *store.DeviceRepository, dispatcher *dispatch.Dispatcher, log logrus.FieldLogger) *Controller {
	return &Controller{deployments: deployments, apks: apks, devices: devices, dispatcher: dispatcher, log: log}
}

// CreateRun stages a new rollout over deviceIDs, pre-splitting them
// into fixed-size batches (spec §4.7). successThreshold is an absolute
// device count per batch, not a percentage (spec §3, §8 scenarios 5/6:
// "success_threshold=6" out of batch_size=7).
func (c *Controller) CreateRun(ctx context.Context, apkVersionID string, deviceIDs []string, batchSize, successThreshold, batchTimeoutMin int) (*model.DeploymentRun, error) {
	if len(deviceIDs) == 0 {
		return nil, apperr.New(apperr.BadRequest, "deployment run requires at least one device")
	}
	if batchSize <= 0 {
		return nil, apperr.New(apperr.BadRequest, "batch size must be positive")
	}

	totalBatches := (len(deviceIDs) + batchSize - 1) / batchSize

	run := &model.DeploymentRun{
		ID:               uuid.NewString(),
		ApkVersionID:     apkVersionID,
		TotalDevices:     len(deviceIDs),
		BatchSize:        batchSize,
		SuccessThreshold: successThreshold,
		BatchTimeoutMin:  batchTimeoutMin,
		Status:           model.RunPending,
		TotalBatches:     totalBatches,
		StartedAt:        time.Now().UTC(),
	}
	if err := c.deployments.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	for i := 0; i < totalBatches; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(deviceIDs) {
			end = len(deviceIDs)
		}
		slice := deviceIDs[start:end]

		batch := &model.DeploymentBatch{
			ID:             uuid.NewString(),
			RunID:          run.ID,
			BatchIndex:     i,
			Status:         model.BatchPending,
			DevicesInBatch: len(slice),
		}
		if err := c.deployments.CreateBatch(ctx, batch); err != nil {
			return nil, err
		}
		for _, deviceID := range slice {
			if err := c.deployments.AddBatchDevice(ctx, &model.DeploymentBatchDevice{BatchID: batch.ID, DeviceID: deviceID}); err != nil {
				return nil, err
			}
		}
	}

	if err := c.deployments.UpdateRunStatus(ctx, run.ID, model.RunRunning, nil); err != nil {
		return nil, err
	}
	run.Status = model.RunRunning
	return run, nil
}

func (c *Controller) Pause(ctx context.Context, runID string) error {
	return c.transitionRun(ctx, runID, model.RunRunning, model.RunPaused)
}

func (c *Controller) Resume(ctx context.Context, runID string) error {
	return c.transitionRun(ctx, runID, model.RunPaused, model.RunRunning)
}

func (c *Controller) Abort(ctx context.Context, runID string) error {
	run, err := c.deployments.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if isTerminal(run.Status) {
		return apperr.New(apperr.Conflict, "cannot abort a run already in a terminal state")
	}
	now := time.Now().UTC()
	return c.deployments.UpdateRunStatus(ctx, runID, model.RunAborted, map[string]interface{}{"completed_at": &now})
}

func (c *Controller) transitionRun(ctx context.Context, runID string, from, to model.RunStatus) error {
	run, err := c.deployments.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != from {
		return apperr.New(apperr.Conflict, fmt.Sprintf("run is not in %s state", from))
	}
	return c.deployments.UpdateRunStatus(ctx, runID, to, nil)
}

func isTerminal(s model.RunStatus) bool {
	return s == model.RunCompleted || s == model.RunFailed || s == model.RunAborted
}

// Tick advances every running deployment by one step (spec §4.7): for
// each running run, it either issues the next pending batch or
// evaluates an in-flight batch's progress against the success
// threshold and timeout. Intended to be invoked by the scheduler.
func (c *Controller) Tick(ctx context.Context) error {
	runs, err := c.deployments.ListRunningOrPending(ctx)
	if err != nil {
		return err
	}

	for _, run := range runs {
		if run.Status != model.RunRunning {
			continue
		}
		if err := c.tickRun(ctx, &run); err != nil {
			c.log.WithError(err).WithField("run_id", run.ID).Warn("deployment tick failed")
		}
	}
	return nil
}

func (c *Controller) tickRun(ctx context.Context, run *model.DeploymentRun) error {
	batches, err := c.deployments.ListBatches(ctx, run.ID)
	if err != nil {
		return err
	}

	for i := range batches {
		b := &batches[i]
		switch b.Status {
		case model.BatchRunning:
			return c.evaluateBatch(ctx, run, b)
		case model.BatchPending:
			return c.startBatch(ctx, run, b)
		}
	}

	return c.completeRun(ctx, run, batches)
}

func (c *Controller) startBatch(ctx context.Context, run *model.DeploymentRun, b *model.DeploymentBatch) error {
	devices, err := c.deployments.ListBatchDevices(ctx, b.ID)
	if err != nil {
		return err
	}

	for _, bd := range devices {
		requestID := uuid.NewString()
		params := dispatch.Params{"apk_version_id": run.ApkVersionID}
		if _, err := c.dispatcher.Dispatch(ctx, requestID, bd.DeviceID, "install_apk", params); err != nil {
			c.log.WithError(err).WithField("device_id", bd.DeviceID).Warn("install_apk dispatch failed")
		}
		if err := c.deployments.AddBatchDevice(ctx, &model.DeploymentBatchDevice{BatchID: b.ID, DeviceID: bd.DeviceID, RequestID: requestID}); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	timeout := now.Add(time.Duration(run.BatchTimeoutMin) * time.Minute)
	return c.deployments.UpdateBatch(ctx, b.ID, map[string]interface{}{
		"status":     model.BatchRunning,
		"started_at": &now,
		"timeout_at": &timeout,
	})
}

// evaluateBatch reconciles device-level installation outcomes against
// the batch's threshold and timeout. It relies on the caller (the API
// layer's action-result handler) to have already recorded per-device
// outcomes via apks.RecordInstallation; here it tallies them.
//
// success_threshold is an absolute device count, not a percentage
// (spec §3, §8 scenario 5/6). Per spec §4.7 steps 4-5, a batch
// succeeds as soon as success_count reaches the threshold — it does
// not wait for every device to report — and fails early once the
// still-outstanding devices can no longer close the gap.
func (c *Controller) evaluateBatch(ctx context.Context, run *model.DeploymentRun, b *model.DeploymentBatch) error {
	installs, err := c.apks.ListInstallationsByBatch(ctx, b.ID)
	if err != nil {
		return err
	}

	success, failure := 0, 0
	for _, in := range installs {
		switch model.CommandOutcome(in.Outcome) {
		case model.OutcomeCompleted:
			success++
		case model.OutcomeFailed, model.OutcomeTimeout:
			failure++
		}
	}
	remaining := b.DevicesInBatch - success - failure
	now := time.Now().UTC()

	if success >= run.SuccessThreshold {
		return c.deployments.UpdateBatch(ctx, b.ID, map[string]interface{}{
			"status": model.BatchSucceeded, "success_count": success, "failure_count": failure, "completed_at": &now,
		})
	}

	if success+remaining < run.SuccessThreshold {
		if err := c.deployments.UpdateBatch(ctx, b.ID, map[string]interface{}{
			"status": model.BatchFailed, "success_count": success, "failure_count": failure, "completed_at": &now,
		}); err != nil {
			return err
		}
		return c.failRun(ctx, run, "batch fell below success threshold")
	}

	if b.TimeoutAt != nil && now.After(*b.TimeoutAt) {
		if err := c.deployments.UpdateBatch(ctx, b.ID, map[string]interface{}{
			"status":        model.BatchTimedOut,
			"success_count": success,
			"failure_count": failure,
			"timeout_count": remaining,
			"completed_at":  &now,
		}); err != nil {
			return err
		}
		return c.failRun(ctx, run, "batch timed out")
	}

	return c.deployments.UpdateBatch(ctx, b.ID, map[string]interface{}{"success_count": success, "failure_count": failure})
}

func (c *Controller) failRun(ctx context.Context, run *model.DeploymentRun, reason string) error {
	c.log.WithField("run_id", run.ID).WithField("reason", reason).Warn("deployment run failed")
	now := time.Now().UTC()
	return c.deployments.UpdateRunStatus(ctx, run.ID, model.RunFailed, map[string]interface{}{"completed_at": &now})
}

func (c *Controller) completeRun(ctx context.Context, run *model.DeploymentRun, batches []model.DeploymentBatch) error {
	success, failure, timeout := 0, 0, 0
	for _, b := range batches {
		success += b.SuccessCount
		failure += b.FailureCount
		timeout += b.TimeoutCount
	}
	now := time.Now().UTC()
	return c.deployments.UpdateRunStatus(ctx, run.ID, model.RunCompleted, map[string]interface{}{
		"success_count": success,
		"failure_count": failure,
		"timeout_count": timeout,
		"completed_at":  &now,
	})
}
