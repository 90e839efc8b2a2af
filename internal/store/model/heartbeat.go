package model

import "time"

// HeartbeatSample is one row of the append-only, day-partitioned
// heartbeat log (spec §3, §4.3). The table name is resolved per
// partition by the caller (see internal/partition), so this struct is
// used both for the parent definition and per-partition inserts.
type HeartbeatSample struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	DeviceID      string `gorm:"type:varchar(64);not null;index:idx_hb_device_ts"`
	Ts            time.Time `gorm:"not null;index:idx_hb_device_ts"`
	BatteryPct    int
	NetworkType   string `gorm:"type:varchar(32)"`
	SSID          string `gorm:"type:varchar(255)"`
	SignalDbm     *int
	UnityRunning  *bool
	AgentVersion  string `gorm:"type:varchar(64)"`
	IP            string `gorm:"type:varchar(64)"`
	Status        string `gorm:"type:varchar(32)"`
	// BucketKey is floor(epoch(ts)/10), used by the unique dedupe index
	// together with DeviceID (spec §3 "unique per (device_id, 10-second
	// bucket of ts)").
	BucketKey int64 `gorm:"not null"`
}

func (HeartbeatSample) TableName() string { return "device_heartbeats" }

// DeviceLastStatus is the single-row-per-device projection mirroring
// the latest sample (spec §3). LastTs only ever advances forward.
type DeviceLastStatus struct {
	DeviceID     string `gorm:"primaryKey;type:varchar(64)"`
	LastTs       time.Time `gorm:"not null;index:idx_lastts_status"`
	BatteryPct   int
	NetworkType  string `gorm:"type:varchar(32)"`
	SSID         string `gorm:"type:varchar(255)"`
	SignalDbm    *int
	UnityRunning *bool
	AgentVersion string `gorm:"type:varchar(64)"`
	IP           string `gorm:"type:varchar(64)"`
	Status       string `gorm:"type:varchar(32);index:idx_lastts_status"`
	UpdatedAt    time.Time
}

func (DeviceLastStatus) TableName() string { return "device_last_status" }
