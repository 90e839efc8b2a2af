package model

// DiscordSettings is a singleton row gating whether alert
// notifications post to Discord at all, independent of per-condition
// suppression. Ported from the original discord_settings_cache.py:
// absence of a row means enabled, matching that module's default.
type DiscordSettings struct {
	ID      int  `gorm:"primaryKey"`
	Enabled bool `gorm:"not null;default:true"`
}

func (DiscordSettings) TableName() string { return "discord_settings" }
