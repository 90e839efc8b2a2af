package alert

import (
	"context"
	"time"

	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/jellydator/ttlcache/v3"
)

const discordSettingsTTL = 300 * time.Second
const discordSettingsCacheKey = "enabled"

// discordSettingsSource is the slice of store.SettingsRepository this
// cache needs.
type discordSettingsSource interface {
	GetDiscordSettings(ctx context.Context) (*model.DiscordSettings, error)
}

// discordSettingsCache fronts the operator's Discord-enabled toggle
// with a 300s TTL cache, ported from discord_settings_cache.py's
// DiscordSettingsCache: a single-key cache rather than a per-device
// one, since the toggle is global.
type discordSettingsCache struct {
	source discordSettingsSource
	cache  *ttlcache.Cache[string, bool]
}

func newDiscordSettingsCache(source discordSettingsSource) *discordSettingsCache {
	c := ttlcache.New[string, bool](ttlcache.WithTTL[string, bool](discordSettingsTTL))
	go c.Start()
	return &discordSettingsCache{source: source, cache: c}
}

// IsEnabled reports whether Discord notifications are globally
// enabled, defaulting to true on any lookup error (fail open, matching
// the original's "no row means enabled" default).
func (c *discordSettingsCache) IsEnabled(ctx context.Context) bool {
	if item := c.cache.Get(discordSettingsCacheKey); item != nil {
		return item.Value()
	}
	settings, err := c.source.GetDiscordSettings(ctx)
	if err != nil {
		return true
	}
	c.cache.Set(discordSettingsCacheKey, settings.Enabled, discordSettingsTTL)
	return settings.Enabled
}

// Invalidate drops the cached value so the next IsEnabled call
// re-reads the database; called after an admin toggles the setting.
func (c *discordSettingsCache) Invalidate() {
	c.cache.Delete(discordSettingsCacheKey)
}

func (c *discordSettingsCache) Stop() { c.cache.Stop() }
