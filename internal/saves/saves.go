// Package saves persists named snapshots of completed estimation jobs and
// enforces the draft to final lifecycle. A final save never changes and
// never goes away; editing one means reopening it into a fresh job.
package saves

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"log/slog"

	"github.com/google/uuid"

	"github.com/lucaresi/stima/internal/estimator"
	"github.com/lucaresi/stima/pkg/models"
	"github.com/lucaresi/stima/pkg/repository"
)

var (
	// ErrNotFound is returned when no save exists for the given id.
	ErrNotFound = errors.New("saves: save not found")
	// ErrFinalized is returned when a mutation targets a final save.
	ErrFinalized = errors.New("saves: final saves are immutable")
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger overrides the package logger. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	logger = l
}

// JobSource is the orchestrator surface the manager reads jobs through.
type JobSource interface {
	Snapshot(id string) (*estimator.Snapshot, error)
	Restore(ctx context.Context, in estimator.RestoreInput) (*estimator.Snapshot, error)
	LinkSave(id, saveID string) error
}

var _ JobSource = (*estimator.Orchestrator)(nil)

// Detail is the full record view of a save, with the stored estimate and
// financials decoded.
type Detail struct {
	ID             string                  `json:"save_id"`
	Name           string                  `json:"name"`
	Status         string                  `json:"status"`
	RequirementsMD string                  `json:"requirements_md"`
	ModelMD        string                  `json:"model_md"`
	Estimate       *models.Estimate        `json:"estimate"`
	Financials     models.FinancialSummary `json:"financials"`
	ReportMD       string                  `json:"report_markdown"`
	Created        int64                   `json:"created_at"`
	Updated        int64                   `json:"updated_at"`
}

// OpenResult identifies the editing job a reopened save produced.
type OpenResult struct {
	JobID  string `json:"job_id"`
	SaveID string `json:"save_id"`
	Name   string `json:"name"`
}

// Manager owns save records. All job state flows in through the JobSource
// accessor; the manager never reaches into the registry directly.
type Manager struct {
	repo repository.SaveRepo
	jobs JobSource
}

func NewManager(repo repository.SaveRepo, jobs JobSource) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("saves: repo is required")
	}
	if jobs == nil {
		return nil, errors.New("saves: job source is required")
	}
	return &Manager{repo: repo, jobs: jobs}, nil
}

// CreateDraft snapshots a completed job into a new draft save and links the
// job back to it. The name defaults to the estimate's project name.
func (m *Manager) CreateDraft(ctx context.Context, jobID, name string) (*models.SaveSummary, error) {
	snap, err := m.jobs.Snapshot(jobID)
	if err != nil {
		return nil, err
	}
	if snap.Status != estimator.StatusDone || snap.Estimate == nil {
		return nil, estimator.ErrNotDone
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = snap.Estimate.ProjectName
	}
	if name == "" {
		name = "Untitled estimate"
	}

	estimateJSON, err := json.Marshal(snap.Estimate)
	if err != nil {
		return nil, fmt.Errorf("encode estimate: %w", err)
	}
	financialsJSON, err := json.Marshal(snap.Financials)
	if err != nil {
		return nil, fmt.Errorf("encode financials: %w", err)
	}

	s := &models.Save{
		ID:             uuid.NewString(),
		Name:           name,
		Status:         models.SaveStatusDraft,
		RequirementsMD: snap.Requirements,
		ModelMD:        snap.ModelDoc,
		EstimateJSON:   string(estimateJSON),
		FinancialsJSON: string(financialsJSON),
		ReportMD:       snap.Report,
	}
	if err := m.repo.CreateSave(ctx, s); err != nil {
		return nil, fmt.Errorf("create save: %w", err)
	}

	if err := m.jobs.LinkSave(jobID, s.ID); err != nil {
		logger.Warn("job vanished before it could be linked", "job_id", jobID, "save_id", s.ID)
	}

	logger.Info("draft created", "save_id", s.ID, "job_id", jobID, "name", name)
	sum := summarize(s)
	return &sum, nil
}

// Sync overwrites a draft's snapshot fields from the job's current state.
// A final save is rejected with ErrFinalized regardless of what the job
// holds; the row-level draft guard backs the check.
func (m *Manager) Sync(ctx context.Context, saveID, jobID string) (*models.SaveSummary, error) {
	snap, err := m.jobs.Snapshot(jobID)
	if err != nil {
		return nil, err
	}
	if snap.Status != estimator.StatusDone || snap.Estimate == nil {
		return nil, estimator.ErrNotDone
	}

	estimateJSON, err := json.Marshal(snap.Estimate)
	if err != nil {
		return nil, fmt.Errorf("encode estimate: %w", err)
	}
	financialsJSON, err := json.Marshal(snap.Financials)
	if err != nil {
		return nil, fmt.Errorf("encode financials: %w", err)
	}

	s := &models.Save{
		ID:             saveID,
		RequirementsMD: snap.Requirements,
		ModelMD:        snap.ModelDoc,
		EstimateJSON:   string(estimateJSON),
		FinancialsJSON: string(financialsJSON),
		ReportMD:       snap.Report,
	}
	ok, err := m.repo.UpdateSaveContent(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("sync save: %w", err)
	}
	if !ok {
		return nil, m.rejectMutation(ctx, saveID)
	}

	cur, err := m.repo.GetSave(ctx, saveID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}

	logger.Info("draft synced", "save_id", saveID, "job_id", jobID)
	sum := summarize(cur)
	return &sum, nil
}

// Reopen starts a fresh editing session from a save: a new done job carrying
// the stored snapshot, linked back to the save. Works for drafts and finals;
// the save itself is not locked or marked in use.
func (m *Manager) Reopen(ctx context.Context, saveID string) (*OpenResult, error) {
	s, err := m.repo.GetSave(ctx, saveID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}

	var est models.Estimate
	if err := json.Unmarshal([]byte(s.EstimateJSON), &est); err != nil {
		return nil, fmt.Errorf("decode stored estimate: %w", err)
	}
	var fin models.FinancialSummary
	if err := json.Unmarshal([]byte(s.FinancialsJSON), &fin); err != nil {
		return nil, fmt.Errorf("decode stored financials: %w", err)
	}

	snap, err := m.jobs.Restore(ctx, estimator.RestoreInput{
		SaveID:       s.ID,
		Requirements: s.RequirementsMD,
		ModelDoc:     s.ModelMD,
		Estimate:     &est,
		Financials:   fin,
		Report:       s.ReportMD,
	})
	if err != nil {
		return nil, fmt.Errorf("restore job: %w", err)
	}

	logger.Info("save reopened", "save_id", saveID, "job_id", snap.ID)
	return &OpenResult{JobID: snap.ID, SaveID: s.ID, Name: s.Name}, nil
}

// Finalize moves a draft to final. Irreversible; a second finalize fails
// with ErrFinalized.
func (m *Manager) Finalize(ctx context.Context, saveID string) (*models.SaveSummary, error) {
	ok, err := m.repo.FinalizeSave(ctx, saveID)
	if err != nil {
		return nil, fmt.Errorf("finalize save: %w", err)
	}
	if !ok {
		return nil, m.rejectMutation(ctx, saveID)
	}

	cur, err := m.repo.GetSave(ctx, saveID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}

	logger.Info("save finalized", "save_id", saveID)
	sum := summarize(cur)
	return &sum, nil
}

// Delete removes a draft. Final saves cannot be deleted.
func (m *Manager) Delete(ctx context.Context, saveID string) error {
	ok, err := m.repo.DeleteSave(ctx, saveID)
	if err != nil {
		return fmt.Errorf("delete save: %w", err)
	}
	if !ok {
		return m.rejectMutation(ctx, saveID)
	}

	logger.Info("draft deleted", "save_id", saveID)
	return nil
}

// List returns save summaries, most recently updated first.
func (m *Manager) List(ctx context.Context, limit int) ([]models.SaveSummary, error) {
	rows, err := m.repo.ListSaves(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]models.SaveSummary, 0, len(rows))
	for i := range rows {
		out = append(out, summarize(&rows[i]))
	}
	return out, nil
}

// Get returns the full record with the stored estimate and financials
// decoded.
func (m *Manager) Get(ctx context.Context, saveID string) (*Detail, error) {
	s, err := m.repo.GetSave(ctx, saveID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNotFound
	}

	d := &Detail{
		ID:             s.ID,
		Name:           s.Name,
		Status:         s.Status,
		RequirementsMD: s.RequirementsMD,
		ModelMD:        s.ModelMD,
		ReportMD:       s.ReportMD,
		Created:        s.Created,
		Updated:        s.Updated,
	}
	var est models.Estimate
	if err := json.Unmarshal([]byte(s.EstimateJSON), &est); err != nil {
		return nil, fmt.Errorf("decode stored estimate: %w", err)
	}
	d.Estimate = &est
	if err := json.Unmarshal([]byte(s.FinancialsJSON), &d.Financials); err != nil {
		return nil, fmt.Errorf("decode stored financials: %w", err)
	}
	return d, nil
}

// rejectMutation names why a guarded write affected no row: the save is
// either gone or final.
func (m *Manager) rejectMutation(ctx context.Context, saveID string) error {
	cur, err := m.repo.GetSave(ctx, saveID)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotFound
	}
	return ErrFinalized
}

// summarize builds the list-view projection of a save. Decode failures on
// the stored blobs leave the derived fields zero rather than hiding the row.
func summarize(s *models.Save) models.SaveSummary {
	sum := models.SaveSummary{
		ID:      s.ID,
		Name:    s.Name,
		Status:  s.Status,
		Created: s.Created,
		Updated: s.Updated,
	}
	var est models.Estimate
	if err := json.Unmarshal([]byte(s.EstimateJSON), &est); err == nil {
		sum.ProjectName = est.ProjectName
	}
	var fin models.FinancialSummary
	if err := json.Unmarshal([]byte(s.FinancialsJSON), &fin); err == nil {
		sum.GrandMandays = fin.GrandMandays
		sum.GrandCost = fin.GrandCost
		sum.Currency = fin.Currency
	}
	return sum
}
