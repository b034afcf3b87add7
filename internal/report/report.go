// Package report renders the markdown estimate report from a structured
// estimate and its financial summary.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/lucaresi/stima/pkg/models"
)

var ErrNilEstimate = errors.New("report: nil estimate")

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"md":    func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"join":  func(elems []string, sep string) string { return strings.Join(elems, sep) },
}).Parse(reportTemplate))

type satelliteRow struct {
	Name          string
	Active        bool
	Mandays       float64
	Cost          float64
	Justification string
}

type reportData struct {
	Estimate    *models.Estimate
	Financials  models.FinancialSummary
	Satellites  []satelliteRow
	Warning     string
	GeneratedAt string
}

// Render produces the markdown report for a completed estimate. Output is
// deterministic for fixed inputs.
func Render(est *models.Estimate, fin models.FinancialSummary, warning string, generatedAt time.Time) (string, error) {
	if est == nil {
		return "", ErrNilEstimate
	}

	s := est.Satellites
	data := reportData{
		Estimate:   est,
		Financials: fin,
		Satellites: []satelliteRow{
			{"PM & Orchestration", s.PMOrchestration.Active, fin.PMMandays, fin.PMCost, s.PMOrchestration.Justification},
			{"Dedicated Business Analysis", s.DedicatedBA.Active, fin.BAMandays, fin.BACost, s.DedicatedBA.Justification},
			{"Solution Architecture", s.SolutionArchitecture.Active, fin.SAMandays, fin.SACost, s.SolutionArchitecture.Justification},
			{"Cybersecurity", s.Cybersecurity.Active, fin.CyberMandays, fin.CyberCost, s.Cybersecurity.Justification},
			{"Digital Experience", s.DigitalExperience.Active, fin.DXMandays, fin.DXCost, s.DigitalExperience.Justification},
			{"Quality Assurance", s.QualityAssurance.Active, fin.QAMandays, fin.QACost, s.QualityAssurance.Justification},
		},
		Warning:     warning,
		GeneratedAt: generatedAt.UTC().Format("2006-01-02 15:04") + " UTC",
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("report: render: %w", err)
	}

	return buf.String(), nil
}

const reportTemplate = `# Project Estimate: {{.Estimate.ProjectName}}

_Generated: {{.GeneratedAt}}_
{{- if .Warning}}

> **Note**: {{.Warning}}
{{- end}}

## Executive Summary

{{.Estimate.ProjectSummary}}

## Financial Summary

| Item | Mandays | Cost ({{.Financials.Currency}}) |
|------|--------:|------:|
| Core build | {{md .Financials.CoreMandays}} | {{money .Financials.CoreCost}} |
{{- range .Satellites}}
{{- if .Active}}
| {{.Name}} | {{md .Mandays}} | {{money .Cost}} |
{{- end}}
{{- end}}
| **Grand total** | **{{md .Financials.GrandMandays}}** | **{{money .Financials.GrandCost}}** |

Manday rate: {{money .Financials.MandayCost}} {{.Financials.Currency}}

## Core Breakdown

- Base FCU effort: {{md .Estimate.Core.BaseFCUMandays}} mandays
- Business logic: {{md .Estimate.Core.BusinessLogicMandays}} mandays
- Scalability tier: {{.Estimate.Core.ScalabilityTier}} (multiplier {{.Estimate.Core.ScalabilityMultiplier}})
- Core total: {{md .Estimate.Core.TotalMandays}} mandays
{{- if .Estimate.Core.DataEntities}}

### Data Entities

| Entity | Operations | Mandays |
|--------|------------|--------:|
{{- range .Estimate.Core.DataEntities}}
| {{.Name}} | {{join .Operations ", "}} | {{md .Mandays}} |
{{- end}}
{{- end}}
{{- if .Estimate.Core.APIIntegrations}}

### API Integrations

| Integration | Direction | Complexity | Mandays |
|-------------|-----------|------------|--------:|
{{- range .Estimate.Core.APIIntegrations}}
| {{.Name}} | {{.Direction}} | {{.Complexity}} | {{md .Mandays}} |
{{- end}}
{{- end}}
{{- if .Estimate.Core.Spikes}}

### Technical Spikes
{{range .Estimate.Core.Spikes}}
- {{.Description}} ({{md .Mandays}} mandays)
{{- end}}
{{- end}}
{{- if .Estimate.Core.Reasoning}}

{{.Estimate.Core.Reasoning}}
{{- end}}

## Satellite Services
{{- range .Satellites}}
{{- if .Active}}

### {{.Name}} ({{md .Mandays}} mandays)

{{.Justification}}
{{- end}}
{{- end}}
{{- if .Estimate.Roles}}

## Team Composition

| Role | Mandays | Focus |
|------|--------:|-------|
{{- range .Estimate.Roles}}
| {{.Role}} | {{md .Mandays}} | {{.Description}} |
{{- end}}
{{- end}}
{{- if .Estimate.PlanPhases}}

## Delivery Plan

| Phase | Weeks | Roles |
|-------|-------|-------|
{{- range .Estimate.PlanPhases}}
| {{.Name}} | W{{.StartWeek}}-W{{.EndWeek}} | {{range $i, $r := .Roles}}{{if $i}}, {{end}}{{$r.Role}} ({{md $r.Mandays}} md){{end}} |
{{- end}}
{{- end}}
{{- if .Estimate.OverallReasoning}}

## Estimation Reasoning

{{.Estimate.OverallReasoning}}
{{- end}}
`
