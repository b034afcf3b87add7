package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/lucaresi/stima/api"
	"github.com/lucaresi/stima/internal/ai"
	"github.com/lucaresi/stima/internal/estimate"
	"github.com/lucaresi/stima/internal/estimator"
	"github.com/lucaresi/stima/pkg/models"
)

// fakeGateway implements only the gateway methods the handlers reach. The
// worker pool is never started in these tests, so Estimate is never called;
// Refine runs synchronously inside the chat handler.
type fakeGateway struct {
	refine func(in ai.RefineInput) (*ai.RefineResult, error)
}

func (f *fakeGateway) Estimate(ctx context.Context, in ai.EstimateInput) (*models.Estimate, error) {
	return nil, errors.New("not used")
}

func (f *fakeGateway) Refine(ctx context.Context, in ai.RefineInput) (*ai.RefineResult, error) {
	if f.refine == nil {
		return nil, errors.New("not used")
	}
	return f.refine(in)
}

type fakeDocs struct{}

func (fakeDocs) CreateModelDocument(ctx context.Context, name, version, documentMD string) (int64, error) {
	return 0, errors.New("not used")
}

func (fakeDocs) GetModelDocument(ctx context.Context, name, version string) (*models.ModelDocument, error) {
	return &models.ModelDocument{Name: name, Version: version, DocumentMD: "# Estimation Model"}, nil
}

func newEstimatesHandler(t *testing.T, cfg estimator.Config) (*api.EstimatesHandler, *estimator.Orchestrator, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{}
	orc, err := estimator.New(gw, nil, fakeDocs{}, cfg)
	if err != nil {
		t.Fatalf("estimator.New: %v", err)
	}
	t.Cleanup(orc.Stop)
	return api.NewEstimatesHandler(orc), orc, gw
}

func sampleEstimate() *models.Estimate {
	return &models.Estimate{
		ProjectName:    "CRM",
		ProjectSummary: "A small CRM for three entity types.",
		Core: models.Core{
			DataEntities: []models.DataEntity{
				{Name: "Contact", Operations: []string{"create", "read", "update"}, Mandays: 4},
			},
			BusinessLogicMandays:  6,
			ScalabilityTier:       "single_instance",
			ScalabilityMultiplier: 1.0,
			BaseFCUMandays:        10,
			TotalMandays:          10,
			Reasoning:             "Light build.",
		},
		Satellites: models.Satellites{
			PMOrchestration: models.PMOrchestration{
				Active: true, Justification: "Coordination needed.", ProjectSize: "small", TotalMandays: 2,
			},
			QualityAssurance: models.QualityAssurance{
				Active: true, Justification: "Core flows need verification.", VerificationPoints: 4, TotalMandays: 3,
			},
		},
		OverallReasoning: "Small scope, low risk.",
		Roles: []models.RoleEstimate{
			{Role: "Backend Engineer", Mandays: 10, Description: "Core build"},
		},
		PlanPhases: []models.PlanPhase{
			{Name: "Build", StartWeek: 1, EndWeek: 4, Roles: []models.PhaseRole{{Role: "Backend Engineer", Mandays: 10}}},
		},
	}
}

// seedDoneJob registers a completed job without running the pool.
func seedDoneJob(t *testing.T, orc *estimator.Orchestrator, est *models.Estimate, report string) string {
	t.Helper()
	fin, err := estimate.Compute(est, 500, "EUR")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	snap, err := orc.Restore(context.Background(), estimator.RestoreInput{
		Requirements: "# Requirements\n\nBuild a CRM.",
		ModelDoc:     "# Estimation Model",
		Estimate:     est,
		Financials:   fin,
		Report:       report,
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	return snap.ID
}

func muxSetVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

func postJSON(t *testing.T, body any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func TestCreateEstimate_Validation(t *testing.T) {
	h, _, _ := newEstimatesHandler(t, estimator.Config{})

	req := httptest.NewRequest("POST", "/v1/estimates", strings.NewReader("not a json"))
	w := httptest.NewRecorder()
	h.Create(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/v1/estimates", postJSON(t, map[string]string{"requirements_text": "   "}))
	w = httptest.NewRecorder()
	h.Create(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank requirements, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "requirements_text") {
		t.Fatalf("expected the missing field named, got body=%s", w.Body.String())
	}
}

func TestCreateEstimate_Queued(t *testing.T) {
	h, orc, _ := newEstimatesHandler(t, estimator.Config{})

	req := httptest.NewRequest("POST", "/v1/estimates", postJSON(t, map[string]any{
		"requirements_text": "# Requirements\n\nBuild a CRM.",
		"manday_rate":       650,
		"currency":          "USD",
	}))
	w := httptest.NewRecorder()
	h.Create(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatalf("expected a job id, got body=%s", w.Body.String())
	}

	// the pool is not started, so the job sits in the queue
	st, err := orc.Status(resp.JobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != estimator.StatusPending {
		t.Fatalf("expected pending, got %q", st.Status)
	}
}

func TestCreateEstimate_QueueFull(t *testing.T) {
	h, _, _ := newEstimatesHandler(t, estimator.Config{Workers: 1, QueueSize: 1})

	body := map[string]string{"requirements_text": "# Requirements"}
	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest("POST", "/v1/estimates", postJSON(t, body)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected first request accepted, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Create(w, httptest.NewRequest("POST", "/v1/estimates", postJSON(t, body)))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the queue is full, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "queue is full") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestStatusHandler(t *testing.T) {
	h, orc, _ := newEstimatesHandler(t, estimator.Config{})

	snap, err := orc.Create(context.Background(), estimator.CreateInput{Requirements: "Build a CRM"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := muxSetVars(httptest.NewRequest("GET", "/v1/estimates/"+snap.ID+"/status", nil), map[string]string{"jobID": snap.ID})
	w := httptest.NewRecorder()
	h.Status(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var st estimator.StatusView
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.JobID != snap.ID || st.Status != estimator.StatusPending || st.Progress == "" {
		t.Fatalf("status view wrong: %#v", st)
	}

	req = muxSetVars(httptest.NewRequest("GET", "/v1/estimates/missing/status", nil), map[string]string{"jobID": "missing"})
	w = httptest.NewRecorder()
	h.Status(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing job, got %d", w.Code)
	}
}

func TestReportHandler(t *testing.T) {
	h, orc, _ := newEstimatesHandler(t, estimator.Config{})

	req := muxSetVars(httptest.NewRequest("GET", "/v1/estimates/missing/report", nil), map[string]string{"jobID": "missing"})
	w := httptest.NewRecorder()
	h.Report(w, req)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "job not found") {
		t.Fatalf("expected 404 job not found, got %d body=%s", w.Code, w.Body.String())
	}

	// a job that never completed has no report yet
	pending, err := orc.Create(context.Background(), estimator.CreateInput{Requirements: "Build a CRM"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	req = muxSetVars(httptest.NewRequest("GET", "/v1/estimates/"+pending.ID+"/report", nil), map[string]string{"jobID": pending.ID})
	w = httptest.NewRecorder()
	h.Report(w, req)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "report not ready") {
		t.Fatalf("expected 404 report not ready, got %d body=%s", w.Code, w.Body.String())
	}

	jobID := seedDoneJob(t, orc, sampleEstimate(), "# Project Estimate: CRM")
	req = muxSetVars(httptest.NewRequest("GET", "/v1/estimates/"+jobID+"/report", nil), map[string]string{"jobID": jobID})
	w = httptest.NewRecorder()
	h.Report(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/markdown; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	wantDisp := fmt.Sprintf("attachment; filename=%q", "estimate-"+jobID[:8]+".md")
	if cd := w.Header().Get("Content-Disposition"); cd != wantDisp {
		t.Fatalf("unexpected disposition %q, want %q", cd, wantDisp)
	}
	if w.Body.String() != "# Project Estimate: CRM" {
		t.Fatalf("unexpected report body: %s", w.Body.String())
	}
}

func TestPlanHandler(t *testing.T) {
	h, orc, _ := newEstimatesHandler(t, estimator.Config{})

	pending, err := orc.Create(context.Background(), estimator.CreateInput{Requirements: "Build a CRM"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	req := muxSetVars(httptest.NewRequest("GET", "/v1/estimates/"+pending.ID+"/plan", nil), map[string]string{"jobID": pending.ID})
	w := httptest.NewRecorder()
	h.Plan(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before the first completion, got %d", w.Code)
	}

	jobID := seedDoneJob(t, orc, sampleEstimate(), "# Report")
	req = muxSetVars(httptest.NewRequest("GET", "/v1/estimates/"+jobID+"/plan", nil), map[string]string{"jobID": jobID})
	w = httptest.NewRecorder()
	h.Plan(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var pv estimator.PlanView
	if err := json.Unmarshal(w.Body.Bytes(), &pv); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if pv.ProjectName != "CRM" || len(pv.Roles) != 1 || len(pv.Phases) != 1 {
		t.Fatalf("plan view wrong: %#v", pv)
	}
}

func TestContextHandler(t *testing.T) {
	h, orc, _ := newEstimatesHandler(t, estimator.Config{})

	req := muxSetVars(httptest.NewRequest("GET", "/v1/estimates/missing/context", nil), map[string]string{"jobID": "missing"})
	w := httptest.NewRecorder()
	h.Context(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing job, got %d", w.Code)
	}

	jobID := seedDoneJob(t, orc, sampleEstimate(), "# Report")
	if err := orc.LinkSave(jobID, "sv-1"); err != nil {
		t.Fatalf("LinkSave: %v", err)
	}

	req = muxSetVars(httptest.NewRequest("GET", "/v1/estimates/"+jobID+"/context", nil), map[string]string{"jobID": jobID})
	w = httptest.NewRecorder()
	h.Context(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var cv estimator.ContextView
	if err := json.Unmarshal(w.Body.Bytes(), &cv); err != nil {
		t.Fatalf("unmarshal context: %v", err)
	}
	if cv.RequirementsMD != "# Requirements\n\nBuild a CRM." || cv.ModelMD != "# Estimation Model" {
		t.Fatalf("context view wrong: %#v", cv)
	}
	if cv.LinkedSaveID != "sv-1" {
		t.Fatalf("expected the linked save id, got %q", cv.LinkedSaveID)
	}
}

func TestRerunHandler(t *testing.T) {
	h, orc, _ := newEstimatesHandler(t, estimator.Config{})

	req := muxSetVars(httptest.NewRequest("POST", "/v1/estimates/missing/rerun", nil), map[string]string{"jobID": "missing"})
	w := httptest.NewRecorder()
	h.Rerun(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing job, got %d", w.Code)
	}

	jobID := seedDoneJob(t, orc, sampleEstimate(), "# Report")

	req = muxSetVars(httptest.NewRequest("POST", "/v1/estimates/"+jobID+"/rerun", postJSON(t, map[string]string{"requirements_text": "# Requirements v2"})), map[string]string{"jobID": jobID})
	w = httptest.NewRecorder()
	h.Rerun(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", w.Code, w.Body.String())
	}

	cv, err := orc.Context(jobID)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if cv.RequirementsMD != "# Requirements v2" {
		t.Fatalf("expected the override applied, got %q", cv.RequirementsMD)
	}

	// the job is queued again, so a second rerun conflicts; an empty body is fine
	req = muxSetVars(httptest.NewRequest("POST", "/v1/estimates/"+jobID+"/rerun", nil), map[string]string{"jobID": jobID})
	w = httptest.NewRecorder()
	h.Rerun(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while queued, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestChatHandler_Validation(t *testing.T) {
	h, _, _ := newEstimatesHandler(t, estimator.Config{})

	req := muxSetVars(httptest.NewRequest("POST", "/v1/estimates/j1/chat", strings.NewReader("not a json")), map[string]string{"jobID": "j1"})
	w := httptest.NewRecorder()
	h.Chat(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", w.Code)
	}

	req = muxSetVars(httptest.NewRequest("POST", "/v1/estimates/j1/chat", postJSON(t, map[string]string{"message": "  "})), map[string]string{"jobID": "j1"})
	w = httptest.NewRecorder()
	h.Chat(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", w.Code)
	}
}

func TestChatHandler_States(t *testing.T) {
	h, orc, _ := newEstimatesHandler(t, estimator.Config{})

	body := map[string]string{"message": "What does QA cover?"}

	req := muxSetVars(httptest.NewRequest("POST", "/v1/estimates/missing/chat", postJSON(t, body)), map[string]string{"jobID": "missing"})
	w := httptest.NewRecorder()
	h.Chat(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing job, got %d", w.Code)
	}

	pending, err := orc.Create(context.Background(), estimator.CreateInput{Requirements: "Build a CRM"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	req = muxSetVars(httptest.NewRequest("POST", "/v1/estimates/"+pending.ID+"/chat", postJSON(t, body)), map[string]string{"jobID": pending.ID})
	w = httptest.NewRecorder()
	h.Chat(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 before completion, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestChatHandler_ProseReply(t *testing.T) {
	h, orc, gw := newEstimatesHandler(t, estimator.Config{})
	jobID := seedDoneJob(t, orc, sampleEstimate(), "# Report")

	gw.refine = func(in ai.RefineInput) (*ai.RefineResult, error) {
		return &ai.RefineResult{Reply: "QA covers the four core flows."}, nil
	}

	req := muxSetVars(httptest.NewRequest("POST", "/v1/estimates/"+jobID+"/chat", postJSON(t, map[string]string{"message": "What does QA cover?"})), map[string]string{"jobID": jobID})
	w := httptest.NewRecorder()
	h.Chat(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var res estimator.ChatResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.Reply != "QA covers the four core flows." || res.Updated {
		t.Fatalf("chat result wrong: %#v", res)
	}
}

func TestChatHandler_UpdatedEstimate(t *testing.T) {
	h, orc, gw := newEstimatesHandler(t, estimator.Config{})
	jobID := seedDoneJob(t, orc, sampleEstimate(), "# Report")

	revised := sampleEstimate()
	revised.Core.BusinessLogicMandays = 8
	revised.Core.TotalMandays = 12
	gw.refine = func(in ai.RefineInput) (*ai.RefineResult, error) {
		return &ai.RefineResult{Reply: "Raised business logic to cover imports.", Estimate: revised}, nil
	}

	req := muxSetVars(httptest.NewRequest("POST", "/v1/estimates/"+jobID+"/chat", postJSON(t, map[string]string{"message": "Add a CSV import flow"})), map[string]string{"jobID": jobID})
	w := httptest.NewRecorder()
	h.Chat(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var res estimator.ChatResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !res.Updated || len(res.Changes) == 0 || res.Report == "" {
		t.Fatalf("expected an applied update, got %#v", res)
	}

	snap, err := orc.Snapshot(jobID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Financials.GrandMandays != 17 {
		t.Fatalf("expected installed financials, got %#v", snap.Financials)
	}
}

func TestChatHandler_UpstreamFailure(t *testing.T) {
	h, orc, gw := newEstimatesHandler(t, estimator.Config{})
	jobID := seedDoneJob(t, orc, sampleEstimate(), "# Report")

	gw.refine = func(in ai.RefineInput) (*ai.RefineResult, error) {
		return nil, errors.New("model unavailable")
	}

	req := muxSetVars(httptest.NewRequest("POST", "/v1/estimates/"+jobID+"/chat", postJSON(t, map[string]string{"message": "Add a flow"})), map[string]string{"jobID": jobID})
	w := httptest.NewRecorder()
	h.Chat(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on upstream failure, got %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "refine failed") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}

	// the job is usable again after the failure
	snap, err := orc.Snapshot(jobID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Status != estimator.StatusDone {
		t.Fatalf("expected job restored to done, got %q", snap.Status)
	}
}
