// Package estimate derives financial figures and human-readable change
// summaries from structured estimates. Everything here is pure: the same
// inputs always produce the same outputs and no input is ever mutated.
package estimate

import (
	"errors"
	"math"

	"github.com/lucaresi/stima/pkg/models"
)

var ErrNilEstimate = errors.New("estimate: nil estimate")

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// effective returns the mandays a satellite contributes: its total when
// flagged active, zero otherwise.
func effective(active bool, mandays float64) float64 {
	if active {
		return mandays
	}

	return 0
}

// Compute derives the cost breakdown for an estimate at the given manday
// rate. Costs and grand totals are rounded to 2 decimals; the grand cost is
// computed from the rounded grand mandays so that grand_cost equals
// grand_mandays times the rate on the published figures.
func Compute(est *models.Estimate, rate float64, currency string) (models.FinancialSummary, error) {
	if est == nil {
		return models.FinancialSummary{}, ErrNilEstimate
	}

	s := est.Satellites

	coreMD := est.Core.TotalMandays
	pmMD := effective(s.PMOrchestration.Active, s.PMOrchestration.TotalMandays)
	baMD := effective(s.DedicatedBA.Active, s.DedicatedBA.TotalMandays)
	saMD := effective(s.SolutionArchitecture.Active, s.SolutionArchitecture.TotalMandays)
	cyberMD := effective(s.Cybersecurity.Active, s.Cybersecurity.TotalMandays)
	dxMD := effective(s.DigitalExperience.Active, s.DigitalExperience.TotalMandays)
	qaMD := effective(s.QualityAssurance.Active, s.QualityAssurance.TotalMandays)

	grandMD := round2(coreMD + pmMD + baMD + saMD + cyberMD + dxMD + qaMD)

	return models.FinancialSummary{
		MandayCost:   rate,
		Currency:     currency,
		CoreMandays:  coreMD,
		CoreCost:     round2(coreMD * rate),
		PMMandays:    pmMD,
		PMCost:       round2(pmMD * rate),
		BAMandays:    baMD,
		BACost:       round2(baMD * rate),
		SAMandays:    saMD,
		SACost:       round2(saMD * rate),
		CyberMandays: cyberMD,
		CyberCost:    round2(cyberMD * rate),
		DXMandays:    dxMD,
		DXCost:       round2(dxMD * rate),
		QAMandays:    qaMD,
		QACost:       round2(qaMD * rate),
		GrandMandays: grandMD,
		GrandCost:    round2(grandMD * rate),
	}, nil
}
