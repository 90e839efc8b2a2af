package deployment

import (
	"context"
	"testing"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/dispatch"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunStore is a minimal in-memory runStore keyed by id, just deep
// enough to drive evaluateBatch/tickRun without a database.
type fakeRunStore struct {
	runs         map[string]*model.DeploymentRun
	batches      map[string]*model.DeploymentBatch
	batchDevices map[string][]model.DeploymentBatchDevice
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runs:         map[string]*model.DeploymentRun{},
		batches:      map[string]*model.DeploymentBatch{},
		batchDevices: map[string][]model.DeploymentBatchDevice{},
	}
}

func (f *fakeRunStore) CreateRun(_ context.Context, run *model.DeploymentRun) error {
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRunStore) GetRun(_ context.Context, id string) (*model.DeploymentRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "run not found")
	}
	return run, nil
}

func (f *fakeRunStore) ListRunningOrPending(_ context.Context) ([]model.DeploymentRun, error) {
	var out []model.DeploymentRun
	for _, r := range f.runs {
		if r.Status == model.RunRunning || r.Status == model.RunPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRunStore) UpdateRunStatus(_ context.Context, id string, status model.RunStatus, fields map[string]interface{}) error {
	run := f.runs[id]
	run.Status = status
	applyRunFields(run, fields)
	return nil
}

func (f *fakeRunStore) CreateBatch(_ context.Context, b *model.DeploymentBatch) error {
	f.batches[b.ID] = b
	return nil
}

func (f *fakeRunStore) ListBatches(_ context.Context, runID string) ([]model.DeploymentBatch, error) {
	var out []model.DeploymentBatch
	for _, b := range f.batches {
		if b.RunID == runID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeRunStore) UpdateBatch(_ context.Context, id string, fields map[string]interface{}) error {
	b := f.batches[id]
	applyBatchFields(b, fields)
	return nil
}

func (f *fakeRunStore) AddBatchDevice(_ context.Context, bd *model.DeploymentBatchDevice) error {
	f.batchDevices[bd.BatchID] = append(f.batchDevices[bd.BatchID], *bd)
	return nil
}

func (f *fakeRunStore) ListBatchDevices(_ context.Context, batchID string) ([]model.DeploymentBatchDevice, error) {
	return f.batchDevices[batchID], nil
}

func applyRunFields(run *model.DeploymentRun, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "completed_at":
			run.CompletedAt = v.(*time.Time)
		case "success_count":
			run.SuccessCount = v.(int)
		case "failure_count":
			run.FailureCount = v.(int)
		case "timeout_count":
			run.TimeoutCount = v.(int)
		}
	}
}

func applyBatchFields(b *model.DeploymentBatch, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "status":
			b.Status = v.(model.BatchStatus)
		case "success_count":
			b.SuccessCount = v.(int)
		case "failure_count":
			b.FailureCount = v.(int)
		case "timeout_count":
			b.TimeoutCount = v.(int)
		case "started_at":
			b.StartedAt = v.(*time.Time)
		case "timeout_at":
			b.TimeoutAt = v.(*time.Time)
		case "completed_at":
			b.CompletedAt = v.(*time.Time)
		}
	}
}

// fakeApkInstallationStore is a minimal in-memory apkInstallationStore.
type fakeApkInstallationStore struct {
	byBatch map[string][]model.ApkInstallation
}

func (f *fakeApkInstallationStore) ListInstallationsByBatch(_ context.Context, batchID string) ([]model.ApkInstallation, error) {
	return f.byBatch[batchID], nil
}

// fakeDispatcher never calls a real push provider; it just records
// what it was asked to dispatch.
type fakeDispatcher struct {
	calls []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, requestID, deviceID, _ string, _ dispatch.Params) (*model.CommandRecord, error) {
	f.calls = append(f.calls, deviceID)
	return &model.CommandRecord{RequestID: requestID, DeviceID: deviceID, Status: model.CommandSent}, nil
}

func installsWithOutcomes(batchID string, outcomes ...model.CommandOutcome) []model.ApkInstallation {
	rows := make([]model.ApkInstallation, 0, len(outcomes))
	for i, o := range outcomes {
		rows = append(rows, model.ApkInstallation{BatchID: batchID, DeviceID: string(rune('a' + i)), Outcome: string(o)})
	}
	return rows
}

// TestEvaluateBatchSucceedsOnceThresholdMetWithoutWaitingForStragglers
// covers spec §8 scenario 5: batch_size=7, success_threshold=6 — the
// batch must succeed as soon as the 6th success lands, without
// waiting on the 7th device to report.
func TestEvaluateBatchSucceedsOnceThresholdMetWithoutWaitingForStragglers(t *testing.T) {
	runs := newFakeRunStore()
	run := &model.DeploymentRun{ID: "run-1", SuccessThreshold: 6, Status: model.RunRunning}
	runs.runs[run.ID] = run

	batch := &model.DeploymentBatch{ID: "batch-1", RunID: run.ID, DevicesInBatch: 7, Status: model.BatchRunning}
	runs.batches[batch.ID] = batch

	apks := &fakeApkInstallationStore{byBatch: map[string][]model.ApkInstallation{
		batch.ID: installsWithOutcomes(batch.ID,
			model.OutcomeCompleted, model.OutcomeCompleted, model.OutcomeCompleted,
			model.OutcomeCompleted, model.OutcomeCompleted, model.OutcomeCompleted,
			// 7th device has not reported yet.
		),
	}}

	c := &Controller{deployments: runs, apks: apks, log: logrus.New()}
	require.NoError(t, c.evaluateBatch(context.Background(), run, batch))

	assert.Equal(t, model.BatchSucceeded, batch.Status)
	assert.Equal(t, 6, batch.SuccessCount)
	assert.NotNil(t, batch.CompletedAt)
	assert.Equal(t, model.RunRunning, run.Status, "the run must not be marked failed on a succeeded batch")
}

// TestEvaluateBatchTimesOutAndFailsRunWhenThresholdUnreachable covers
// spec §8 scenario 6: batch_size=7, success_threshold=6, only 3
// results land before timeout_at — the batch times out and the run
// fails.
func TestEvaluateBatchTimesOutAndFailsRunWhenThresholdUnreachable(t *testing.T) {
	runs := newFakeRunStore()
	run := &model.DeploymentRun{ID: "run-2", SuccessThreshold: 6, Status: model.RunRunning}
	runs.runs[run.ID] = run

	past := time.Now().UTC().Add(-time.Minute)
	batch := &model.DeploymentBatch{ID: "batch-2", RunID: run.ID, DevicesInBatch: 7, Status: model.BatchRunning, TimeoutAt: &past}
	runs.batches[batch.ID] = batch

	apks := &fakeApkInstallationStore{byBatch: map[string][]model.ApkInstallation{
		batch.ID: installsWithOutcomes(batch.ID, model.OutcomeCompleted, model.OutcomeCompleted, model.OutcomeFailed),
	}}

	c := &Controller{deployments: runs, apks: apks, log: logrus.New()}
	require.NoError(t, c.evaluateBatch(context.Background(), run, batch))

	assert.Equal(t, model.BatchTimedOut, batch.Status)
	assert.Equal(t, 2, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailureCount)
	assert.Equal(t, 4, batch.TimeoutCount, "the remaining 4 unreported devices count as timed out")
	assert.Equal(t, model.RunFailed, run.Status)
}

// TestEvaluateBatchFailsEarlyWhenThresholdCanNoLongerBeReached asserts
// the early-fail path (spec §4.7 step 5): once failures make the
// threshold mathematically unreachable, the batch fails immediately
// rather than waiting for the timeout.
func TestEvaluateBatchFailsEarlyWhenThresholdCanNoLongerBeReached(t *testing.T) {
	runs := newFakeRunStore()
	run := &model.DeploymentRun{ID: "run-3", SuccessThreshold: 6, Status: model.RunRunning}
	runs.runs[run.ID] = run

	future := time.Now().UTC().Add(10 * time.Minute)
	batch := &model.DeploymentBatch{ID: "batch-3", RunID: run.ID, DevicesInBatch: 7, Status: model.BatchRunning, TimeoutAt: &future}
	runs.batches[batch.ID] = batch

	apks := &fakeApkInstallationStore{byBatch: map[string][]model.ApkInstallation{
		batch.ID: installsWithOutcomes(batch.ID,
			model.OutcomeCompleted, model.OutcomeFailed, model.OutcomeFailed,
			model.OutcomeFailed, model.OutcomeFailed,
		),
	}}

	c := &Controller{deployments: runs, apks: apks, log: logrus.New()}
	require.NoError(t, c.evaluateBatch(context.Background(), run, batch))

	assert.Equal(t, model.BatchFailed, batch.Status)
	assert.Equal(t, model.RunFailed, run.Status)
}

// TestStartBatchDispatchesInstallApkToEveryBatchDeviceExactlyOnce
// covers the batch-start half of scenario 5/6: every device in the
// batch is dispatched install_apk exactly once, and the batch moves
// to running with a timeout computed from BatchTimeoutMin.
func TestStartBatchDispatchesInstallApkToEveryBatchDeviceExactlyOnce(t *testing.T) {
	runs := newFakeRunStore()
	run := &model.DeploymentRun{ID: "run-4", ApkVersionID: "apk-1", BatchTimeoutMin: 15, Status: model.RunRunning}
	runs.runs[run.ID] = run

	batch := &model.DeploymentBatch{ID: "batch-4", RunID: run.ID, DevicesInBatch: 2, Status: model.BatchPending}
	runs.batches[batch.ID] = batch
	runs.batchDevices[batch.ID] = []model.DeploymentBatchDevice{
		{BatchID: batch.ID, DeviceID: "device-a"},
		{BatchID: batch.ID, DeviceID: "device-b"},
	}

	disp := &fakeDispatcher{}
	c := &Controller{deployments: runs, dispatcher: disp, log: logrus.New()}
	require.NoError(t, c.startBatch(context.Background(), run, batch))

	if diff := cmp.Diff([]string{"device-a", "device-b"}, disp.calls); diff != "" {
		t.Fatalf("unexpected dispatch calls (-want +got):\n%s", diff)
	}
	assert.Equal(t, model.BatchRunning, batch.Status)
	require.NotNil(t, batch.TimeoutAt)
	assert.True(t, batch.TimeoutAt.After(time.Now().UTC()))
}
