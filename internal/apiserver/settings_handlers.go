package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/fleetmdm/controlplane/internal/apperr"
)

type discordSettingsRequest struct {
	Enabled bool `json:"enabled"`
}

// SetDiscordSettings toggles whether the alert engine posts to
// Discord at all, independent of per-condition suppression — the
// global kill switch ported from the original discord_settings_cache.
func (h *Handlers) SetDiscordSettings(w http.ResponseWriter, r *http.Request) {
	var req discordSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, apperr.Wrap(apperr.BadRequest, "invalid discord settings body", err))
		return
	}
	if err := h.deps.Store.Settings.SetDiscordEnabled(r.Context(), req.Enabled); err != nil {
		WriteJSONError(w, err)
		return
	}
	h.deps.AlertEngine.InvalidateDiscordSettingsCache()
	w.WriteHeader(http.StatusNoContent)
}
