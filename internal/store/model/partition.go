package model

import "time"

type PartitionState string

const (
	PartitionActive   PartitionState = "active"
	PartitionArchived PartitionState = "archived"
	PartitionDropped  PartitionState = "dropped"
)

// PartitionMeta tracks the lifecycle of one day-range child table of
// device_heartbeats (spec §3, §4.4). State only ever moves forward:
// active -> archived -> dropped.
type PartitionMeta struct {
	Name        string `gorm:"primaryKey;type:varchar(64)"`
	RangeStart  time.Time `gorm:"not null"`
	RangeEnd    time.Time `gorm:"not null"`
	State       PartitionState `gorm:"type:varchar(16);not null"`
	RowCount    *int64
	Bytes       *int64
	ChecksumSHA256 string `gorm:"type:varchar(64)"`
	ArchiveURL  string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PartitionMeta) TableName() string { return "partition_meta" }
