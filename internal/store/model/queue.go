package model

import "time"

// PurgeJob is one FIFO entry in the purge worker's queue (spec §4.8):
// delete heartbeat/command history for a named set of devices.
type PurgeJob struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	DeviceIDs    string `gorm:"type:text;not null"` // JSON array
	PurgeHistory bool   `gorm:"not null"`
	CreatedAt    time.Time
}

func (PurgeJob) TableName() string { return "purge_jobs" }

// DeviceSelection is a transient, TTL-bound set of device ids staged
// ahead of a deployment run (spec §4.8 "expired transient device
// selections").
type DeviceSelection struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	DeviceIDs string `gorm:"type:text;not null"` // JSON array
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (DeviceSelection) TableName() string { return "device_selections" }
