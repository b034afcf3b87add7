// Package estimator owns the estimation job lifecycle. Jobs move through
// pending, running and done or error. Every mutation path (initial run,
// rerun, chat-patch) is serialized per job and installs the estimate,
// financials and report together or not at all.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucaresi/stima/internal/ai"
	"github.com/lucaresi/stima/internal/estimate"
	"github.com/lucaresi/stima/internal/report"
	"github.com/lucaresi/stima/pkg/models"
	"github.com/lucaresi/stima/pkg/repository"
)

// Seeded default estimation model document.
const (
	defaultModelName    = "estimation"
	defaultModelVersion = "v1"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by the estimator package. Passing nil is
// a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Gateway produces and refines structured estimates.
type Gateway interface {
	Estimate(ctx context.Context, in ai.EstimateInput) (*models.Estimate, error)
	Refine(ctx context.Context, in ai.RefineInput) (*ai.RefineResult, error)
}

var _ Gateway = (*ai.Engine)(nil)

// Summarizer supplies a bounded repository summary for prompt enrichment.
// Failures come back as warnings, never as errors.
type Summarizer interface {
	Summarize(ctx context.Context, repoURL, token string) (summary, warning string)
}

// Config carries the estimation defaults and pool sizing.
type Config struct {
	Rate      float64
	Currency  string
	Workers   int
	QueueSize int
	JobTTL    time.Duration
}

// Orchestrator coordinates estimation jobs across the registry, the worker
// pool, the gateway and the enrichment provider.
type Orchestrator struct {
	gateway    Gateway
	summarizer Summarizer
	docs       repository.ModelDocRepo
	store      *Store
	runner     *runner
	rate       float64
	currency   string
}

// New builds an orchestrator. A nil summarizer disables enrichment; zero
// config fields fall back to sensible defaults.
func New(gateway Gateway, summarizer Summarizer, docs repository.ModelDocRepo, cfg Config) (*Orchestrator, error) {
	if gateway == nil {
		return nil, errors.New("estimator: gateway is required")
	}
	if docs == nil {
		return nil, errors.New("estimator: model document repository is required")
	}
	// apply sensible defaults
	if cfg.Rate <= 0 {
		cfg.Rate = 500
	}
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	o := &Orchestrator{
		gateway:    gateway,
		summarizer: summarizer,
		docs:       docs,
		store:      NewStore(cfg.JobTTL),
		rate:       cfg.Rate,
		currency:   cfg.Currency,
	}
	o.runner = newRunner(cfg.Workers, cfg.QueueSize, o.execute)
	return o, nil
}

// Start launches the worker pool.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runner.Start(ctx)
}

// Stop drains the workers, then the eviction sweeper.
func (o *Orchestrator) Stop() {
	o.runner.Stop()
	o.store.Stop()
}

// CreateInput is a new estimation request. ModelDoc falls back to the
// seeded default document, Rate and Currency to the configured defaults.
type CreateInput struct {
	Requirements string
	ModelDoc     string
	RepoURL      string
	RepoToken    string
	Rate         float64
	Currency     string
}

// Create registers a job and queues its initial run.
func (o *Orchestrator) Create(ctx context.Context, in CreateInput) (*Snapshot, error) {
	if strings.TrimSpace(in.Requirements) == "" {
		return nil, errors.New("estimator: requirements text is required")
	}
	modelDoc := in.ModelDoc
	if modelDoc == "" {
		doc, err := o.docs.GetModelDocument(ctx, defaultModelName, defaultModelVersion)
		if err != nil {
			return nil, fmt.Errorf("load default estimation model: %w", err)
		}
		if doc == nil {
			return nil, fmt.Errorf("load default estimation model: %s/%s is not seeded", defaultModelName, defaultModelVersion)
		}
		modelDoc = doc.DocumentMD
	}
	rate := in.Rate
	if rate <= 0 {
		rate = o.rate
	}
	currency := in.Currency
	if currency == "" {
		currency = o.currency
	}
	j := &job{
		ID:           uuid.NewString(),
		Requirements: in.Requirements,
		ModelDoc:     modelDoc,
		RepoURL:      in.RepoURL,
		RepoToken:    in.RepoToken,
		Rate:         rate,
		Currency:     currency,
	}
	if err := o.store.Insert(j, o.runner.Enqueue); err != nil {
		return nil, err
	}
	logger.Info("estimation job created", "job_id", j.ID, "enriched", in.RepoURL != "")
	return o.store.Snapshot(j.ID)
}

// execute performs one queued run: optional enrichment, the gateway call,
// financials and the report. Any failure moves the job to error with the
// previous estimate left intact.
func (o *Orchestrator) execute(ctx context.Context, id string) {
	in, err := o.store.Begin(id)
	if err != nil {
		logger.Warn("skipping queued job", "job_id", id, "err", err)
		return
	}

	if in.RepoURL != "" && !in.EnrichmentFetched {
		o.store.SetProgress(id, progressFetching)
		summary, warning := "", "repository enrichment is not configured"
		if o.summarizer != nil {
			summary, warning = o.summarizer.Summarize(ctx, in.RepoURL, in.RepoToken)
		}
		if warning != "" {
			logger.Warn("repository enrichment degraded", "job_id", id, "warning", warning)
		}
		o.store.SetEnrichment(id, summary, warning)
		in.Enrichment = summary
		in.EnrichmentWarning = warning
	}

	o.store.SetProgress(id, progressCalling)
	est, err := o.gateway.Estimate(ctx, ai.EstimateInput{
		Requirements: in.Requirements,
		ModelDoc:     in.ModelDoc,
		Enrichment:   in.Enrichment,
	})
	if err != nil {
		logger.Error("estimation failed", "job_id", id, "err", err)
		o.store.Fail(id, err.Error())
		return
	}

	o.store.SetProgress(id, progressFinancials)
	fin, err := estimate.Compute(est, in.Rate, in.Currency)
	if err != nil {
		o.store.Fail(id, err.Error())
		return
	}

	o.store.SetProgress(id, progressReport)
	md, err := report.Render(est, fin, in.EnrichmentWarning, time.Now().UTC())
	if err != nil {
		logger.Error("report rendering failed", "job_id", id, "err", err)
		o.store.Fail(id, err.Error())
		return
	}

	o.store.Complete(id, est, fin, md)
	logger.Info("estimation complete", "job_id", id, "project", est.ProjectName, "grand_mandays", fin.GrandMandays)
}

// RerunInput carries optional overrides for a rerun. Empty fields retain
// the job's stored documents.
type RerunInput struct {
	Requirements string
	ModelDoc     string
}

// Rerun queues a fresh run for a done or errored job. The previous estimate
// stays visible until the new run completes; chat history starts over and
// any enrichment snapshot is reused, never fetched again.
func (o *Orchestrator) Rerun(ctx context.Context, id string, in RerunInput) (*Snapshot, error) {
	if err := o.store.Requeue(id, in.Requirements, in.ModelDoc, o.runner.Enqueue); err != nil {
		return nil, err
	}
	logger.Info("estimation rerun queued", "job_id", id)
	return o.store.Snapshot(id)
}

// ChatResult is the conversational outcome of a chat-patch call. Updated
// reports whether the model replaced the estimate; Changes lists the
// per-metric diff when it did.
type ChatResult struct {
	Reply   string                  `json:"reply"`
	Updated bool                    `json:"estimate_updated"`
	Changes []estimate.MetricChange `json:"changes,omitempty"`
	Report  string                  `json:"report_markdown,omitempty"`
}

// Chat refines a completed estimate through one conversational exchange.
// A prose answer leaves the estimate untouched; a structured answer
// replaces the estimate, financials and report atomically. Gateway
// failures restore the job unchanged and surface to the caller.
func (o *Orchestrator) Chat(ctx context.Context, id, message string) (*ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("estimator: chat message is required")
	}
	cv, err := o.store.BeginChat(id)
	if err != nil {
		return nil, err
	}
	res, err := o.gateway.Refine(ctx, ai.RefineInput{
		ModelDoc: cv.ModelDoc,
		History:  cv.History,
		Message:  message,
		Current:  cv.Estimate,
	})
	if err != nil {
		o.store.EndChat(id)
		logger.Error("refine failed", "job_id", id, "err", err)
		return nil, fmt.Errorf("refine estimate: %w", err)
	}

	userTurn := models.ChatTurn{Role: "user", Content: message}
	if res.Estimate == nil {
		o.store.EndChat(id, userTurn, models.ChatTurn{Role: "assistant", Content: res.Reply})
		return &ChatResult{Reply: res.Reply}, nil
	}

	fin, err := estimate.Compute(res.Estimate, cv.Rate, cv.Currency)
	if err != nil {
		o.store.EndChat(id)
		return nil, err
	}
	changes := estimate.Diff(cv.Estimate, res.Estimate)
	reply := res.Reply
	if reply == "" {
		reply = estimate.RenderReply(changes)
	}
	md, err := report.Render(res.Estimate, fin, cv.EnrichmentWarning, time.Now().UTC())
	if err != nil {
		o.store.EndChat(id)
		return nil, err
	}
	o.store.CompleteChat(id, res.Estimate, fin, md, userTurn, models.ChatTurn{Role: "assistant", Content: reply})
	logger.Info("estimate refined", "job_id", id, "changes", len(changes))
	return &ChatResult{Reply: reply, Updated: true, Changes: changes, Report: md}, nil
}

// Status returns the polling view of a job.
func (o *Orchestrator) Status(id string) (*StatusView, error) {
	return o.store.Status(id)
}

// Snapshot returns the full consistent view of a job.
func (o *Orchestrator) Snapshot(id string) (*Snapshot, error) {
	return o.store.Snapshot(id)
}

// Report returns the rendered report once a successful run produced one.
func (o *Orchestrator) Report(id string) (string, error) {
	snap, err := o.store.Snapshot(id)
	if err != nil {
		return "", err
	}
	if snap.Report == "" {
		return "", ErrNotDone
	}
	return snap.Report, nil
}

// Plan returns the role split and delivery phases of the current estimate.
func (o *Orchestrator) Plan(id string) (*PlanView, error) {
	snap, err := o.store.Snapshot(id)
	if err != nil {
		return nil, err
	}
	if snap.Estimate == nil {
		return nil, ErrNotDone
	}
	return &PlanView{
		ProjectName: snap.Estimate.ProjectName,
		Roles:       snap.Estimate.Roles,
		Phases:      snap.Estimate.PlanPhases,
	}, nil
}

// Context returns the documents a job estimates from.
func (o *Orchestrator) Context(id string) (*ContextView, error) {
	snap, err := o.store.Snapshot(id)
	if err != nil {
		return nil, err
	}
	return &ContextView{
		RequirementsMD: snap.Requirements,
		ModelMD:        snap.ModelDoc,
		RepoURL:        snap.RepoURL,
		LinkedSaveID:   snap.LinkedSaveID,
	}, nil
}

// RestoreInput rebuilds a done job from a save's stored fields.
type RestoreInput struct {
	SaveID       string
	Requirements string
	ModelDoc     string
	Estimate     *models.Estimate
	Financials   models.FinancialSummary
	Report       string
}

// Restore registers a completed job carrying a save's snapshot, linked back
// to the save it came from. The job starts a fresh editing session: chat
// and reruns work as usual and sync back through the save layer.
func (o *Orchestrator) Restore(ctx context.Context, in RestoreInput) (*Snapshot, error) {
	if in.Estimate == nil {
		return nil, errors.New("estimator: restore requires an estimate")
	}
	rate := in.Financials.MandayCost
	if rate <= 0 {
		rate = o.rate
	}
	currency := in.Financials.Currency
	if currency == "" {
		currency = o.currency
	}
	j := &job{
		ID:           uuid.NewString(),
		Requirements: in.Requirements,
		ModelDoc:     in.ModelDoc,
		Rate:         rate,
		Currency:     currency,
		Estimate:     in.Estimate,
		Financials:   in.Financials,
		Report:       in.Report,
		LinkedSaveID: in.SaveID,
	}
	o.store.InsertCompleted(j)
	logger.Info("job restored from save", "job_id", j.ID, "save_id", in.SaveID)
	return o.store.Snapshot(j.ID)
}

// LinkSave records the save a job's edits sync back to.
func (o *Orchestrator) LinkSave(id, saveID string) error {
	return o.store.LinkSave(id, saveID)
}
