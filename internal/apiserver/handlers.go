package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/fleetmdm/controlplane/internal/artifact"
	"github.com/fleetmdm/controlplane/internal/auth"
	"github.com/fleetmdm/controlplane/internal/heartbeat"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handlers groups the HTTP handler methods over Deps, matching the
// teacher's pattern of a thin handler receiver wrapping service
// collaborators rather than package-level functions (spec §9).
type Handlers struct {
	deps *Deps
}

type heartbeatRequest struct {
	Ts           time.Time `json:"ts"`
	BatteryPct   int       `json:"battery_pct"`
	NetworkType  string    `json:"network_type"`
	SSID         string    `json:"ssid"`
	SignalDbm    *int      `json:"signal_dbm"`
	UnityRunning *bool     `json:"unity_running"`
	AgentVersion string    `json:"agent_version"`
	Status       string    `json:"status"`
}

func (h *Handlers) PostHeartbeat(w http.ResponseWriter, r *http.Request) {
	deviceID, _ := deviceIDFromContext(r.Context())

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, apperr.Wrap(apperr.BadRequest, "invalid heartbeat body", err))
		return
	}
	if req.Ts.IsZero() {
		req.Ts = time.Now().UTC()
	}

	ip := r.RemoteAddr
	sample := heartbeat.Sample{
		DeviceID:     deviceID,
		Ts:           req.Ts,
		BatteryPct:   req.BatteryPct,
		NetworkType:  req.NetworkType,
		SSID:         req.SSID,
		SignalDbm:    req.SignalDbm,
		UnityRunning: req.UnityRunning,
		AgentVersion: req.AgentVersion,
		IP:           ip,
		Status:       req.Status,
	}

	if err := h.deps.Ingestor.Ingest(r.Context(), sample); err != nil {
		WriteJSONError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type registerDeviceRequest struct {
	Alias string `json:"alias"`
}

type registerDeviceResponse struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

func (h *Handlers) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, apperr.Wrap(apperr.BadRequest, "invalid registration body", err))
		return
	}
	if req.Alias == "" {
		WriteJSONError(w, apperr.New(apperr.BadRequest, "alias is required"))
		return
	}

	token := uuid.NewString()
	hash, err := auth.HashToken(token)
	if err != nil {
		WriteJSONError(w, apperr.Wrap(apperr.Internal, "hashing device token", err))
		return
	}

	id := uuid.NewString()
	d := &model.Device{
		ID:               id,
		Alias:            req.Alias,
		TokenHash:        hash,
		TokenFingerprint: auth.Fingerprint(token),
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	created, err := h.deps.Store.Devices.Create(r.Context(), d)
	if err != nil {
		WriteJSONError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = writeJSON(w, registerDeviceResponse{DeviceID: created.ID, Token: token})
}

func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.deps.Store.Devices.List(r.Context())
	if err != nil {
		WriteJSONError(w, err)
		return
	}
	_ = writeJSON(w, devices)
}

func (h *Handlers) GetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "device_id")
	d, err := h.deps.Store.Devices.Get(r.Context(), id)
	if err != nil {
		WriteJSONError(w, err)
		return
	}
	_ = writeJSON(w, d)
}

type commandRequest struct {
	RequestID string            `json:"request_id"`
	Action    string             `json:"action"`
	Params    map[string]string `json:"params"`
}

func (h *Handlers) PostCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "device_id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, apperr.Wrap(apperr.BadRequest, "invalid command body", err))
		return
	}
	if req.Action == "" {
		WriteJSONError(w, apperr.New(apperr.BadRequest, "action is required"))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	rec, err := h.deps.Dispatcher.Dispatch(r.Context(), req.RequestID, deviceID, req.Action, req.Params)
	if err != nil {
		WriteJSONError(w, err)
		return
	}
	_ = writeJSON(w, rec)
}

type actionResultRequest struct {
	DeviceID string              `json:"device_id"`
	Action   string              `json:"action"`
	Outcome  model.CommandOutcome `json:"outcome"`
	Message  string              `json:"message"`
}

func (h *Handlers) PostActionResult(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")

	var req actionResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, apperr.Wrap(apperr.BadRequest, "invalid action result body", err))
		return
	}

	res, err := h.deps.Dispatcher.RecordResult(r.Context(), requestID, req.DeviceID, req.Action, req.Outcome, req.Message)
	if err != nil {
		WriteJSONError(w, err)
		return
	}

	if req.Action == "install_apk" {
		h.recordDeploymentInstallation(r.Context(), requestID, req.DeviceID, req.Outcome)
	}

	_ = writeJSON(w, res)
}

// recordDeploymentInstallation feeds the deployment controller's
// per-batch tallies (spec §4.7) from an install_apk action result. A
// result with no matching batch device (a standalone install_apk
// command outside any deployment run) is not an error. A duplicate
// result for a request that already has an installation row records
// nothing.
func (h *Handlers) recordDeploymentInstallation(ctx context.Context, requestID, deviceID string, outcome model.CommandOutcome) {
	bd, err := h.deps.Store.Deployments.GetBatchDeviceByRequestID(ctx, requestID)
	if err != nil {
		return
	}
	if existing, err := h.deps.Store.Apks.ListInstallationsByBatch(ctx, bd.BatchID); err == nil {
		for _, prior := range existing {
			if prior.RequestID == requestID {
				return
			}
		}
	}

	batch, err := h.deps.Store.Deployments.GetBatch(ctx, bd.BatchID)
	if err != nil {
		h.deps.Log.WithError(err).WithField("batch_id", bd.BatchID).Warn("fetching batch for installation result")
		return
	}
	run, err := h.deps.Store.Deployments.GetRun(ctx, batch.RunID)
	if err != nil {
		h.deps.Log.WithError(err).WithField("run_id", batch.RunID).Warn("fetching run for installation result")
		return
	}

	in := &model.ApkInstallation{
		DeviceID:     deviceID,
		ApkVersionID: run.ApkVersionID,
		RunID:        run.ID,
		BatchID:      batch.ID,
		RequestID:    requestID,
		Outcome:      string(outcome),
	}
	if err := h.deps.Store.Apks.RecordInstallation(ctx, in); err != nil {
		h.deps.Log.WithError(err).WithField("request_id", requestID).Warn("recording apk installation")
	}
}

func (h *Handlers) UploadAPK(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteJSONError(w, apperr.Wrap(apperr.BadRequest, "invalid multipart upload", err))
		return
	}

	file, header, err := r.FormFile("apk")
	if err != nil {
		WriteJSONError(w, apperr.Wrap(apperr.BadRequest, "missing apk file field", err))
		return
	}
	defer file.Close()

	if err := artifact.ValidateUpload(header.Filename, header.Size); err != nil {
		WriteJSONError(w, err)
		return
	}

	pkg := r.FormValue("package_name")
	versionCode, _ := strconv.Atoi(r.FormValue("version_code"))
	versionName := r.FormValue("version_name")
	if pkg == "" || versionCode == 0 {
		WriteJSONError(w, apperr.New(apperr.BadRequest, "package_name and version_code are required"))
		return
	}

	id := uuid.NewString()
	size, checksum, err := h.deps.Artifacts.Upload(r.Context(), id, file)
	if err != nil {
		WriteJSONError(w, err)
		return
	}

	version := &model.ApkVersion{
		ID:          id,
		PackageName: pkg,
		VersionCode: versionCode,
		VersionName: versionName,
		FilePath:    id,
		FileSize:    size,
		SHA256:      checksum,
		IsActive:    true,
	}
	if err := h.deps.Store.Apks.Create(r.Context(), version); err != nil {
		WriteJSONError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = writeJSON(w, version)
}

func (h *Handlers) DownloadAPK(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "apk_version_id")

	res, err := h.deps.Artifacts.Download(r.Context(), id)
	if err != nil {
		WriteJSONError(w, err)
		return
	}
	defer res.Body.Close()

	start := time.Now()

	w.Header().Set("Content-Length", fmt.Sprintf("%d", res.Size))
	w.Header().Set("Accept-Ranges", "bytes")
	if res.SHA256 != "" {
		w.Header().Set("X-APK-SHA256", res.SHA256)
	}
	w.Header().Set("X-Cache-Hit", fmt.Sprintf("%v", res.CacheHit))
	// Declared as a trailer since the download speed is only known once
	// the body has been fully written.
	w.Header().Set("Trailer", "X-Download-Speed-Kbps")

	n, _ := io.Copy(w, res.Body)

	elapsed := time.Since(start).Seconds()
	kbps := 0.0
	if elapsed > 0 {
		kbps = float64(n) / 1024 / elapsed
	}
	w.Header().Set("X-Download-Speed-Kbps", fmt.Sprintf("%.2f", kbps))
}
