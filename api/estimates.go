package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lucaresi/stima/internal/estimator"
)

type EstimatesHandler struct {
	orc *estimator.Orchestrator
}

func NewEstimatesHandler(orc *estimator.Orchestrator) *EstimatesHandler {
	return &EstimatesHandler{orc: orc}
}

type createEstimateRequest struct {
	RequirementsText string  `json:"requirements_text"`
	ModelText        string  `json:"model_text,omitempty"`
	GitHubURL        string  `json:"github_url,omitempty"`
	GitHubToken      string  `json:"github_token,omitempty"`
	MandayRate       float64 `json:"manday_rate,omitempty"`
	Currency         string  `json:"currency,omitempty"`
}

type rerunEstimateRequest struct {
	RequirementsText string `json:"requirements_text,omitempty"`
	ModelText        string `json:"model_text,omitempty"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type jobQueuedResponse struct {
	JobID string `json:"job_id"`
}

// Create accepts an estimation request and queues it. The response carries
// only the job id; callers poll the status endpoint for progress.
func (h *EstimatesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.RequirementsText) == "" {
		http.Error(w, "requirements_text is required", http.StatusBadRequest)
		return
	}

	snap, err := h.orc.Create(r.Context(), estimator.CreateInput{
		Requirements: req.RequirementsText,
		ModelDoc:     req.ModelText,
		RepoURL:      req.GitHubURL,
		RepoToken:    req.GitHubToken,
		Rate:         req.MandayRate,
		Currency:     req.Currency,
	})
	if err != nil {
		if errors.Is(err, estimator.ErrQueueFull) {
			http.Error(w, "estimation queue is full, try again shortly", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "failed to queue estimation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, jobQueuedResponse{JobID: snap.ID}, http.StatusAccepted)
}

func (h *EstimatesHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.orc.Status(mux.Vars(r)["jobID"])
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, st, http.StatusOK)
}

// Report serves the rendered markdown as a download. Until the job first
// completes there is no report, and the endpoint says not found.
func (h *EstimatesHandler) Report(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["jobID"]
	report, err := h.orc.Report(id)
	if err != nil {
		if errors.Is(err, estimator.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "report not ready", http.StatusNotFound)
		return
	}

	name := id
	if len(name) > 8 {
		name = name[:8]
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "estimate-"+name+".md"))
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, report)
}

func (h *EstimatesHandler) Plan(w http.ResponseWriter, r *http.Request) {
	pv, err := h.orc.Plan(mux.Vars(r)["jobID"])
	if err != nil {
		if errors.Is(err, estimator.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "plan not ready", http.StatusNotFound)
		return
	}

	writeJSON(w, pv, http.StatusOK)
}

func (h *EstimatesHandler) Context(w http.ResponseWriter, r *http.Request) {
	cv, err := h.orc.Context(mux.Vars(r)["jobID"])
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, cv, http.StatusOK)
}

// Rerun queues a fresh estimation pass on an existing job. The body is
// optional; fields left empty keep the job's current documents.
func (h *EstimatesHandler) Rerun(w http.ResponseWriter, r *http.Request) {
	var req rerunEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	snap, err := h.orc.Rerun(r.Context(), mux.Vars(r)["jobID"], estimator.RerunInput{
		Requirements: req.RequirementsText,
		ModelDoc:     req.ModelText,
	})
	if err != nil {
		switch {
		case errors.Is(err, estimator.ErrNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		case errors.Is(err, estimator.ErrConflict):
			http.Error(w, "job is already running", http.StatusConflict)
		case errors.Is(err, estimator.ErrQueueFull):
			http.Error(w, "estimation queue is full, try again shortly", http.StatusServiceUnavailable)
		default:
			http.Error(w, "failed to queue rerun", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, jobQueuedResponse{JobID: snap.ID}, http.StatusAccepted)
}

// Chat runs one refinement exchange against a completed estimate.
func (h *EstimatesHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	res, err := h.orc.Chat(r.Context(), mux.Vars(r)["jobID"], req.Message)
	if err != nil {
		switch {
		case errors.Is(err, estimator.ErrNotFound):
			http.Error(w, "job not found", http.StatusNotFound)
		case errors.Is(err, estimator.ErrConflict):
			http.Error(w, "job is already running", http.StatusConflict)
		case errors.Is(err, estimator.ErrNotDone):
			http.Error(w, "job has no completed estimate to refine", http.StatusConflict)
		default:
			http.Error(w, fmt.Sprintf("refine failed: %v", err), http.StatusBadGateway)
		}
		return
	}

	writeJSON(w, res, http.StatusOK)
}
