package model

import "time"

type AlertCondition string

const (
	ConditionOffline   AlertCondition = "OFFLINE"
	ConditionLowBattery AlertCondition = "LOW_BATTERY"
	ConditionUnityDown AlertCondition = "UNITY_DOWN"
)

type AlertStateValue string

const (
	AlertOK      AlertStateValue = "ok"
	AlertPending AlertStateValue = "pending"
	AlertRaised  AlertStateValue = "raised"
)

// AlertState is unique per (device_id, condition) and tracks the
// debounce/cooldown machinery of the alert engine (spec §3, §4.6).
type AlertState struct {
	DeviceID            string `gorm:"primaryKey;type:varchar(64)"`
	Condition           AlertCondition `gorm:"primaryKey;type:varchar(32)"`
	State               AlertStateValue `gorm:"type:varchar(16);not null"`
	ConditionStartedAt  *time.Time
	ConditionClearedAt  *time.Time
	LastRaisedAt        *time.Time
	LastRecoveredAt     *time.Time
	CooldownUntil       *time.Time
	LastValue           string `gorm:"type:varchar(255)"`
	UpdatedAt           time.Time
}

func (AlertState) TableName() string { return "alert_states" }
