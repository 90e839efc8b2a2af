package apiserver

import (
	"net/http"
	"time"

	"github.com/fleetmdm/controlplane/internal/alert"
	"github.com/fleetmdm/controlplane/internal/artifact"
	"github.com/fleetmdm/controlplane/internal/auth"
	"github.com/fleetmdm/controlplane/internal/cache"
	"github.com/fleetmdm/controlplane/internal/config"
	"github.com/fleetmdm/controlplane/internal/deployment"
	"github.com/fleetmdm/controlplane/internal/dispatch"
	"github.com/fleetmdm/controlplane/internal/heartbeat"
	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Deps bundles every collaborator the HTTP layer depends on,
// constructed once at startup by internal/app (spec §9: no ambient
// globals).
type Deps struct {
	Config      *config.Config
	Store       *store.Store
	Auth        *auth.Authenticator
	Artifacts   *artifact.Service
	Ingestor    *heartbeat.Ingestor
	Dispatcher  *dispatch.Dispatcher
	AlertEngine *alert.Engine
	Deployments *deployment.Controller
	Cache       *cache.ResponseCache
	Log         logrus.FieldLogger
}

// NewRouter assembles the chi router and middleware stack, matching
// the teacher's internal/api_server/server.go bootstrap sequence:
// request id, real IP, structured logging, recoverer, a 30s timeout,
// then route groups per credential type, with rate limiting on the
// device and registration groups.
func NewRouter(d *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &Handlers{deps: d}

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(deviceRateLimiter(120, time.Minute))
		r.Use(deviceAuth(d.Auth))

		r.Post("/v1/heartbeat", h.PostHeartbeat)
		r.Post("/v1/commands/{request_id}/result", h.PostActionResult)
		r.Get("/v1/apks/{apk_version_id}/download", h.DownloadAPK)
	})

	r.Group(func(r chi.Router) {
		r.Use(httpRateLimitByIP(10, time.Minute))
		r.Post("/v1/devices/register", h.RegisterDevice)
	})

	r.Group(func(r chi.Router) {
		r.Use(adminAuth(d.Auth))

		r.Get("/v1/devices", h.ListDevices)
		r.Get("/v1/devices/{device_id}", h.GetDevice)
		r.Get("/v1/devices/{device_id}/status", h.GetDeviceStatus)
		r.Post("/v1/devices/{device_id}/commands", h.PostCommand)
		r.Post("/v1/apks", h.UploadAPK)

		r.Post("/v1/deployments", h.CreateDeployment)
		r.Post("/v1/deployments/{run_id}/pause", h.PauseDeployment)
		r.Post("/v1/deployments/{run_id}/resume", h.ResumeDeployment)
		r.Post("/v1/deployments/{run_id}/abort", h.AbortDeployment)
		r.Get("/v1/deployments/{run_id}", h.GetDeployment)
		r.Get("/v1/deployments/{run_id}/batches", h.ListDeploymentBatches)

		r.Put("/v1/settings/discord", h.SetDiscordSettings)
	})

	return r
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_ = writeJSON(w, map[string]string{"status": "ok"})
}
