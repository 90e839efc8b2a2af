package store

import (
	"context"
	"errors"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"gorm.io/gorm"
)

// SettingsRepository owns the small set of singleton operator-toggle
// rows, currently just DiscordSettings.
type SettingsRepository struct {
	db *gorm.DB
}

const discordSettingsID = 1

// GetDiscordSettings returns the singleton row, or a default of
// enabled=true if it has never been written — matching the original
// discord_settings_cache.py's "no row means enabled" default.
func (r *SettingsRepository) GetDiscordSettings(ctx context.Context) (*model.DiscordSettings, error) {
	var s model.DiscordSettings
	err := r.db.WithContext(ctx).First(&s, "id = ?", discordSettingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.DiscordSettings{ID: discordSettingsID, Enabled: true}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "fetching discord settings", err)
	}
	return &s, nil
}

// SetDiscordEnabled upserts the singleton row.
func (r *SettingsRepository) SetDiscordEnabled(ctx context.Context, enabled bool) error {
	s := &model.DiscordSettings{ID: discordSettingsID, Enabled: enabled}
	return r.db.WithContext(ctx).Save(s).Error
}
