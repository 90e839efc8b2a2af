package alert

import (
	"context"
	"testing"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/stretchr/testify/assert"
)

type fakeDiscordSettingsSource struct {
	settings *model.DiscordSettings
	err      error
	calls    int
}

func (f *fakeDiscordSettingsSource) GetDiscordSettings(_ context.Context) (*model.DiscordSettings, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.settings, nil
}

func TestDiscordSettingsCacheFailsOpenOnLookupError(t *testing.T) {
	src := &fakeDiscordSettingsSource{err: apperr.New(apperr.Internal, "db unavailable")}
	c := newDiscordSettingsCache(src)
	defer c.Stop()

	assert.True(t, c.IsEnabled(context.Background()))
}

func TestDiscordSettingsCacheReflectsDisabledAndCachesWithinTTL(t *testing.T) {
	src := &fakeDiscordSettingsSource{settings: &model.DiscordSettings{ID: 1, Enabled: false}}
	c := newDiscordSettingsCache(src)
	defer c.Stop()

	assert.False(t, c.IsEnabled(context.Background()))
	assert.False(t, c.IsEnabled(context.Background()))
	assert.Equal(t, 1, src.calls, "a second lookup within the TTL must not hit the source again")
}

func TestDiscordSettingsCacheInvalidateForcesReread(t *testing.T) {
	src := &fakeDiscordSettingsSource{settings: &model.DiscordSettings{ID: 1, Enabled: true}}
	c := newDiscordSettingsCache(src)
	defer c.Stop()

	assert.True(t, c.IsEnabled(context.Background()))
	src.settings.Enabled = false
	c.Invalidate()
	assert.False(t, c.IsEnabled(context.Background()))
	assert.Equal(t, 2, src.calls)
}
