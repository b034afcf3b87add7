package models

// Domain models matching the estimate wire schema in db/seed/estimate_schema_v1.json
// and the database schema in db/migrations/0001_init.sql.

// Estimate is the structured output of the estimation model: a Core block
// covering build effort plus six independently activated satellite blocks.
type Estimate struct {
	ProjectName      string         `json:"project_name"`
	ProjectSummary   string         `json:"project_summary"`
	Core             Core           `json:"core"`
	Satellites       Satellites     `json:"satellites"`
	OverallReasoning string         `json:"overall_reasoning"`
	Roles            []RoleEstimate `json:"roles"`
	PlanPhases       []PlanPhase    `json:"plan_phases"`
}

// Core is the functional build estimate before governance satellites.
type Core struct {
	DataEntities          []DataEntity     `json:"data_entities"`
	APIIntegrations       []APIIntegration `json:"api_integrations"`
	BusinessLogicMandays  float64          `json:"business_logic_mandays"`
	ScalabilityTier       string           `json:"scalability_tier"`
	ScalabilityMultiplier float64          `json:"scalability_multiplier"`
	Spikes                []Spike          `json:"spikes"`
	BaseFCUMandays        float64          `json:"base_fcu_mandays"`
	TotalMandays          float64          `json:"total_mandays"`
	Reasoning             string           `json:"reasoning"`
}

type DataEntity struct {
	Name       string   `json:"name"`
	Operations []string `json:"operations"`
	Mandays    float64  `json:"mandays"`
}

type APIIntegration struct {
	Name       string  `json:"name"`
	Direction  string  `json:"direction"`
	Complexity string  `json:"complexity"`
	Mandays    float64 `json:"mandays"`
}

// Spike is a time-boxed technical investigation included in the core effort.
type Spike struct {
	Description string  `json:"description"`
	Mandays     float64 `json:"mandays"`
}

type Satellites struct {
	PMOrchestration      PMOrchestration      `json:"pm_orchestration"`
	DedicatedBA          DedicatedBA          `json:"dedicated_business_analysis"`
	SolutionArchitecture SolutionArchitecture `json:"solution_architecture"`
	Cybersecurity        Cybersecurity        `json:"cybersecurity"`
	DigitalExperience    DigitalExperience    `json:"digital_experience"`
	QualityAssurance     QualityAssurance     `json:"quality_assurance"`
}

type PMOrchestration struct {
	Active          bool    `json:"active"`
	Justification   string  `json:"justification"`
	ProjectSize     string  `json:"project_size"`
	BaseFTEPerMonth float64 `json:"base_fte_per_month"`
	ProjectMonths   float64 `json:"project_months"`
	TeamFactor      float64 `json:"team_factor"`
	TotalMandays    float64 `json:"total_mandays"`
}

type DedicatedBA struct {
	Active         bool    `json:"active"`
	Justification  string  `json:"justification"`
	FTEDedicated   float64 `json:"fte_dedicated"`
	DurationMonths float64 `json:"duration_months"`
	TotalMandays   float64 `json:"total_mandays"`
}

type SolutionArchitecture struct {
	Active                bool    `json:"active"`
	Justification         string  `json:"justification"`
	ExternalSystemsCount  int     `json:"external_systems_count"`
	EnvironmentComplexity string  `json:"environment_complexity"`
	FinOpsMonths          float64 `json:"finops_months"`
	TotalMandays          float64 `json:"total_mandays"`
}

type Cybersecurity struct {
	Active             bool     `json:"active"`
	Justification      string   `json:"justification"`
	SensitivityTier    string   `json:"sensitivity_tier"`
	SecurityGatesCount int      `json:"security_gates_count"`
	ComplianceAddons   []string `json:"compliance_addons"`
	TotalMandays       float64  `json:"total_mandays"`
}

type DigitalExperience struct {
	Active                bool    `json:"active"`
	Justification         string  `json:"justification"`
	UserJourneyComplexity string  `json:"user_journey_complexity"`
	AccessibilityRequired bool    `json:"accessibility_required"`
	TotalMandays          float64 `json:"total_mandays"`
}

type QualityAssurance struct {
	Active             bool    `json:"active"`
	Justification      string  `json:"justification"`
	VerificationPoints int     `json:"verification_points"`
	CriticalityTier    int     `json:"criticality_tier"`
	PerformanceTesting bool    `json:"performance_testing"`
	TotalMandays       float64 `json:"total_mandays"`
}

// RoleEstimate maps a share of the grand total mandays onto a named role.
type RoleEstimate struct {
	Role        string  `json:"role"`
	Mandays     float64 `json:"mandays"`
	Description string  `json:"description"`
}

// PlanPhase is one phase of the weekly delivery plan. Weeks are 1-indexed
// and phases may overlap.
type PlanPhase struct {
	Name      string      `json:"name"`
	StartWeek int         `json:"start_week"`
	EndWeek   int         `json:"end_week"`
	Roles     []PhaseRole `json:"roles"`
}

type PhaseRole struct {
	Role    string  `json:"role"`
	Mandays float64 `json:"mandays"`
}

// FinancialSummary is the derived cost breakdown for an estimate at a given
// manday rate. Inactive satellites carry zero mandays and zero cost.
type FinancialSummary struct {
	MandayCost   float64 `json:"manday_cost"`
	Currency     string  `json:"currency"`
	CoreMandays  float64 `json:"core_mandays"`
	CoreCost     float64 `json:"core_cost"`
	PMMandays    float64 `json:"pm_mandays"`
	PMCost       float64 `json:"pm_cost"`
	BAMandays    float64 `json:"ba_mandays"`
	BACost       float64 `json:"ba_cost"`
	SAMandays    float64 `json:"sa_mandays"`
	SACost       float64 `json:"sa_cost"`
	CyberMandays float64 `json:"cyber_mandays"`
	CyberCost    float64 `json:"cyber_cost"`
	DXMandays    float64 `json:"dx_mandays"`
	DXCost       float64 `json:"dx_cost"`
	QAMandays    float64 `json:"qa_mandays"`
	QACost       float64 `json:"qa_cost"`
	GrandMandays float64 `json:"grand_mandays"`
	GrandCost    float64 `json:"grand_cost"`
}

// ChatTurn is one turn of the refinement conversation attached to a job.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Save is a durable named snapshot of a completed estimation job.
// Status is "draft" until finalized, then "final" and immutable.
type Save struct {
	ID             string `json:"save_id" db:"id"`
	Name           string `json:"name" db:"name"`
	Status         string `json:"status" db:"status"`
	RequirementsMD string `json:"requirements_md" db:"requirements_md"`
	ModelMD        string `json:"model_md" db:"model_md"`
	EstimateJSON   string `json:"estimate_json" db:"estimate_json"`
	FinancialsJSON string `json:"financials_json" db:"financials_json"`
	ReportMD       string `json:"report_markdown" db:"report_md"`
	Created        int64  `json:"created_at" db:"created"`
	Updated        int64  `json:"updated_at" db:"updated"`
}

// SaveSummary is the list-view projection of a Save.
type SaveSummary struct {
	ID           string  `json:"save_id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	ProjectName  string  `json:"project_name"`
	GrandMandays float64 `json:"grand_mandays"`
	GrandCost    float64 `json:"grand_cost"`
	Currency     string  `json:"currency"`
	Created      int64   `json:"created_at"`
	Updated      int64   `json:"updated_at"`
}

const (
	SaveStatusDraft = "draft"
	SaveStatusFinal = "final"
)

type User struct {
	ID           int64  `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"password_hash,omitempty" db:"password_hash"`
	Created      int64  `json:"created" db:"created"`
	Updated      int64  `json:"updated" db:"updated"`
}

// Schema is a stored JSON schema used to validate structured model output.
type Schema struct {
	ID          int64  `json:"id" db:"id"`
	Version     string `json:"version" db:"version"`
	Description string `json:"description,omitempty" db:"description"`
	SchemaJSON  string `json:"schema_json" db:"schema_json"`
	Created     int64  `json:"created" db:"created"`
	Updated     int64  `json:"updated" db:"updated"`
}

// ModelDocument is a stored estimation model document. The seeded
// estimation/v1 document is the default when a request supplies none.
type ModelDocument struct {
	ID         int64  `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	Version    string `json:"version" db:"version"`
	DocumentMD string `json:"document_md" db:"document_md"`
	Created    int64  `json:"created" db:"created"`
	Updated    int64  `json:"updated" db:"updated"`
}
