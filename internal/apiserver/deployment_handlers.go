package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/fleetmdm/controlplane/internal/apperr"
	"github.com/go-chi/chi/v5"
)

type createDeploymentRequest struct {
	ApkVersionID     string   `json:"apk_version_id"`
	DeviceIDs        []string `json:"device_ids"`
	BatchSize        int      `json:"batch_size"`
	SuccessThreshold int      `json:"success_threshold"`
	BatchTimeoutMin  int      `json:"batch_timeout_min"`
}

func (h *Handlers) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, apperr.Wrap(apperr.BadRequest, "invalid deployment request body", err))
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = 50
	}
	if req.SuccessThreshold == 0 {
		// Default to requiring every device in the batch, the stricter
		// reading of an unspecified threshold (spec §3 "success_threshold"
		// is an absolute count, not a percentage).
		req.SuccessThreshold = req.BatchSize
	}
	if req.BatchTimeoutMin == 0 {
		req.BatchTimeoutMin = 30
	}

	run, err := h.deps.Deployments.CreateRun(r.Context(), req.ApkVersionID, req.DeviceIDs, req.BatchSize, req.SuccessThreshold, req.BatchTimeoutMin)
	if err != nil {
		WriteJSONError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = writeJSON(w, run)
}

func (h *Handlers) PauseDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	if err := h.deps.Deployments.Pause(r.Context(), id); err != nil {
		WriteJSONError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ResumeDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	if err := h.deps.Deployments.Resume(r.Context(), id); err != nil {
		WriteJSONError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AbortDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	if err := h.deps.Deployments.Abort(r.Context(), id); err != nil {
		WriteJSONError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	run, err := h.deps.Store.Deployments.GetRun(r.Context(), id)
	if err != nil {
		WriteJSONError(w, err)
		return
	}
	_ = writeJSON(w, run)
}

func (h *Handlers) ListDeploymentBatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	batches, err := h.deps.Store.Deployments.ListBatches(r.Context(), id)
	if err != nil {
		WriteJSONError(w, err)
		return
	}
	_ = writeJSON(w, batches)
}
