package estimator

import "github.com/lucaresi/stima/pkg/models"

// Job statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Progress messages, overwritten on every phase transition.
const (
	progressWaiting    = "Waiting to start..."
	progressStarting   = "Starting estimation..."
	progressFetching   = "Fetching repository context..."
	progressCalling    = "Calling the estimation model. This may take 30-90 seconds..."
	progressFinancials = "Computing financials..."
	progressReport     = "Generating report..."
	progressReady      = "Report ready."
	progressFailed     = "Estimation failed."
	progressRefining   = "Refining the estimate..."
)

// job is the registry record for one estimation work unit. All access goes
// through the Store, which guards every field group under a single lock.
type job struct {
	ID                string
	Status            string
	Progress          string
	Requirements      string
	ModelDoc          string
	RepoURL           string
	RepoToken         string
	Enrichment        string
	EnrichmentWarning string
	EnrichmentFetched bool
	Rate              float64
	Currency          string
	Estimate          *models.Estimate
	Financials        models.FinancialSummary
	Report            string
	ErrorDetail       string
	ChatHistory       []models.ChatTurn
	LinkedSaveID      string
	Created           int64
	Updated           int64
}

// Snapshot is a consistent read view of a job. The estimate pointer is
// shared with the registry record; installed estimates are replaced
// wholesale, never mutated in place.
type Snapshot struct {
	ID                string
	Status            string
	Progress          string
	Requirements      string
	ModelDoc          string
	RepoURL           string
	Enrichment        string
	EnrichmentWarning string
	Rate              float64
	Currency          string
	Estimate          *models.Estimate
	Financials        models.FinancialSummary
	Report            string
	ErrorDetail       string
	ChatHistory       []models.ChatTurn
	LinkedSaveID      string
	Created           int64
	Updated           int64
}

// StatusView is the polling contract for job progress.
type StatusView struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Progress    string `json:"progress_message"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// PlanView exposes the role split and delivery phases of the current
// estimate.
type PlanView struct {
	ProjectName string                `json:"project_name"`
	Roles       []models.RoleEstimate `json:"roles"`
	Phases      []models.PlanPhase    `json:"plan_phases"`
}

// ContextView exposes the input documents a job estimates from.
type ContextView struct {
	RequirementsMD string `json:"requirements_text"`
	ModelMD        string `json:"model_text"`
	RepoURL        string `json:"github_url,omitempty"`
	LinkedSaveID   string `json:"save_id,omitempty"`
}
