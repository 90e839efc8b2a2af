package model

import "time"

type CommandStatus string

const (
	CommandSent   CommandStatus = "sent"
	CommandFailed CommandStatus = "failed"
)

// CommandRecord is the idempotent dispatch ledger (spec §3, §4.5).
// RequestID is globally unique; a write-through for an already-seen
// RequestID returns the existing row with no side effect.
type CommandRecord struct {
	RequestID         string `gorm:"primaryKey;type:varchar(64)"`
	DeviceID          string `gorm:"type:varchar(64);not null;index"`
	Action            string `gorm:"type:varchar(64);not null"`
	TsIssued          time.Time `gorm:"not null"`
	PayloadHash       string `gorm:"type:varchar(64);not null"`
	HTTPCode          *int
	ProviderMessageID string `gorm:"type:varchar(255)"`
	LatencyMs         *int64
	Status            CommandStatus `gorm:"type:varchar(16);not null"`
}

func (CommandRecord) TableName() string { return "command_records" }

type CommandOutcome string

const (
	OutcomeCompleted CommandOutcome = "completed"
	OutcomeFailed    CommandOutcome = "failed"
	OutcomeTimeout   CommandOutcome = "timeout"
)

// CommandResult correlates to a CommandRecord by RequestID; first
// write wins, subsequent writes for the same RequestID are a no-op
// (spec §9 open question, adopted here).
type CommandResult struct {
	RequestID  string `gorm:"primaryKey;type:varchar(64)"`
	DeviceID   string `gorm:"type:varchar(64);not null"`
	Action     string `gorm:"type:varchar(64);not null"`
	Outcome    CommandOutcome `gorm:"type:varchar(16);not null"`
	Message    string `gorm:"type:text"`
	FinishedAt time.Time `gorm:"not null"`
}

func (CommandResult) TableName() string { return "command_results" }
