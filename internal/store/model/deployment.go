package model

import "time"

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// DeploymentRun is a staged APK rollout across a device set (spec §3,
// §4.7). Cyclic references to batches/installations are FK-only, by
// integer/string id, never pointer graphs (spec §9).
type DeploymentRun struct {
	ID                string `gorm:"primaryKey;type:varchar(64)"`
	ApkVersionID      string `gorm:"type:varchar(64);not null"`
	TotalDevices      int    `gorm:"not null"`
	BatchSize         int    `gorm:"not null"`
	SuccessThreshold  int    `gorm:"not null"`
	BatchTimeoutMin   int    `gorm:"not null"`
	Status            RunStatus `gorm:"type:varchar(16);not null"`
	CurrentBatchIndex int
	TotalBatches      int
	SuccessCount      int
	FailureCount      int
	TimeoutCount      int
	StartedAt         time.Time
	CompletedAt       *time.Time
}

func (DeploymentRun) TableName() string { return "deployment_runs" }

type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
	BatchTimedOut  BatchStatus = "timed_out"
)

// DeploymentBatch is unique per (run_id, batch_index); a batch never
// changes out of a terminal state (spec §3, §8).
type DeploymentBatch struct {
	ID             string `gorm:"primaryKey;type:varchar(64)"`
	RunID          string `gorm:"type:varchar(64);not null;uniqueIndex:idx_run_batch_index"`
	BatchIndex     int    `gorm:"not null;uniqueIndex:idx_run_batch_index"`
	Status         BatchStatus `gorm:"type:varchar(16);not null"`
	DevicesInBatch int    `gorm:"not null"`
	SuccessCount   int
	FailureCount   int
	TimeoutCount   int
	StartedAt      *time.Time
	TimeoutAt      *time.Time
	CompletedAt    *time.Time
}

func (DeploymentBatch) TableName() string { return "deployment_batches" }

// DeploymentBatchDevice records which devices belong to which batch,
// resolving the run/batch/device fan-out by lookup rather than a
// pointer graph (spec §9).
type DeploymentBatchDevice struct {
	BatchID  string `gorm:"primaryKey;type:varchar(64)"`
	DeviceID string `gorm:"primaryKey;type:varchar(64)"`
	RequestID string `gorm:"type:varchar(64)"`
}

func (DeploymentBatchDevice) TableName() string { return "deployment_batch_devices" }
