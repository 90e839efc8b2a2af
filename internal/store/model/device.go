// Package model holds the GORM row types persisted by the control
// plane, one file per aggregate from spec §3.
package model

import "time"

// Device is the enrollment record for an agent. It is created once on
// enrollment and never deleted; a revoked token is recorded via
// TokenRevokedAt rather than removing the row (spec §3).
type Device struct {
	ID                   string `gorm:"primaryKey;type:varchar(64)"`
	Alias                string `gorm:"type:varchar(255);not null"`
	TokenHash            string `gorm:"type:varchar(255);not null"`
	TokenFingerprint     string `gorm:"type:varchar(64);uniqueIndex"`
	FCMToken             string `gorm:"type:text"`
	LastSeen             *time.Time
	MonitoredPackage     string `gorm:"type:varchar(255)"`
	MonitorThresholdMin  int    `gorm:"default:5"`
	MonitorEnabled       bool   `gorm:"default:true"`
	AutoRelaunchEnabled  bool   `gorm:"default:false"`
	TokenRevokedAt       *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Device) TableName() string { return "devices" }
