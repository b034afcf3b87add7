package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lucaresi/stima/internal/estimator"
	"github.com/lucaresi/stima/internal/saves"
	"github.com/lucaresi/stima/pkg/models"
)

type SavesHandler struct {
	mgr *saves.Manager
}

func NewSavesHandler(mgr *saves.Manager) *SavesHandler {
	return &SavesHandler{mgr: mgr}
}

type createSaveRequest struct {
	JobID string `json:"job_id"`
	Name  string `json:"name,omitempty"`
}

type syncSaveRequest struct {
	JobID string `json:"job_id"`
}

func (h *SavesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.JobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}

	sum, err := h.mgr.CreateDraft(r.Context(), req.JobID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, estimator.ErrNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		case errors.Is(err, estimator.ErrNotDone):
			http.Error(w, "job has no completed estimate to save", http.StatusConflict)
		default:
			http.Error(w, "failed to create save", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, sum, http.StatusCreated)
}

func (h *SavesHandler) List(w http.ResponseWriter, r *http.Request) {
	// pagination: limit param, most recently updated first
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	items, err := h.mgr.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list saves", http.StatusInternalServerError)
		return
	}

	if items == nil {
		items = []models.SaveSummary{}
	}

	resp := map[string]any{
		"limit": limit,
		"items": items,
	}

	writeJSON(w, resp, http.StatusOK)
}

func (h *SavesHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.mgr.Get(r.Context(), mux.Vars(r)["saveID"])
	if err != nil {
		if errors.Is(err, saves.ErrNotFound) {
			http.Error(w, "save not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load save", http.StatusInternalServerError)
		return
	}

	writeJSON(w, detail, http.StatusOK)
}

// Sync overwrites a draft with the current state of the given job.
func (h *SavesHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.JobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}

	sum, err := h.mgr.Sync(r.Context(), mux.Vars(r)["saveID"], req.JobID)
	if err != nil {
		switch {
		case errors.Is(err, saves.ErrNotFound):
			http.Error(w, "save not found", http.StatusNotFound)
		case errors.Is(err, saves.ErrFinalized):
			http.Error(w, "save is final and cannot be modified", http.StatusForbidden)
		case errors.Is(err, estimator.ErrNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		case errors.Is(err, estimator.ErrNotDone):
			http.Error(w, "job has no completed estimate to sync", http.StatusConflict)
		default:
			http.Error(w, "failed to sync save", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, sum, http.StatusOK)
}

func (h *SavesHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	sum, err := h.mgr.Finalize(r.Context(), mux.Vars(r)["saveID"])
	if err != nil {
		switch {
		case errors.Is(err, saves.ErrNotFound):
			http.Error(w, "save not found", http.StatusNotFound)
		case errors.Is(err, saves.ErrFinalized):
			http.Error(w, "save is already final", http.StatusForbidden)
		default:
			http.Error(w, "failed to finalize save", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, sum, http.StatusOK)
}

// Open starts a new editing job from a save, draft or final.
func (h *SavesHandler) Open(w http.ResponseWriter, r *http.Request) {
	res, err := h.mgr.Reopen(r.Context(), mux.Vars(r)["saveID"])
	if err != nil {
		if errors.Is(err, saves.ErrNotFound) {
			http.Error(w, "save not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to open save", http.StatusInternalServerError)
		return
	}

	writeJSON(w, res, http.StatusOK)
}

func (h *SavesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.Delete(r.Context(), mux.Vars(r)["saveID"]); err != nil {
		switch {
		case errors.Is(err, saves.ErrNotFound):
			http.Error(w, "save not found", http.StatusNotFound)
		case errors.Is(err, saves.ErrFinalized):
			http.Error(w, "save is final and cannot be deleted", http.StatusForbidden)
		default:
			http.Error(w, "failed to delete save", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
