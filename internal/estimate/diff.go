package estimate

import (
	"fmt"
	"math"
	"strings"

	"github.com/lucaresi/stima/pkg/models"
)

// changeThreshold is the smallest manday delta the diff reports.
const changeThreshold = 0.01

// MetricChange describes one figure that moved between two estimates.
// An activation flip is reported as a transition from or to zero with
// Flipped set; Active then carries the new activation state.
type MetricChange struct {
	Metric  string  `json:"metric"`
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Flipped bool    `json:"flipped,omitempty"`
	Active  bool    `json:"active,omitempty"`
}

type satState struct {
	active  bool
	mandays float64
}

func satStates(e *models.Estimate) []struct {
	name string
	s    satState
} {
	sat := e.Satellites

	return []struct {
		name string
		s    satState
	}{
		{"PM & Orchestration", satState{sat.PMOrchestration.Active, sat.PMOrchestration.TotalMandays}},
		{"Dedicated Business Analysis", satState{sat.DedicatedBA.Active, sat.DedicatedBA.TotalMandays}},
		{"Solution Architecture", satState{sat.SolutionArchitecture.Active, sat.SolutionArchitecture.TotalMandays}},
		{"Cybersecurity", satState{sat.Cybersecurity.Active, sat.Cybersecurity.TotalMandays}},
		{"Digital Experience", satState{sat.DigitalExperience.Active, sat.DigitalExperience.TotalMandays}},
		{"Quality Assurance", satState{sat.QualityAssurance.Active, sat.QualityAssurance.TotalMandays}},
	}
}

// Diff reports the top-level metrics that changed between two estimates:
// core total mandays and each satellite's effective contribution. Deltas at
// or below the threshold are ignored.
func Diff(old, new *models.Estimate) []MetricChange {
	var changes []MetricChange

	if math.Abs(old.Core.TotalMandays-new.Core.TotalMandays) > changeThreshold {
		changes = append(changes, MetricChange{
			Metric: "Core",
			From:   old.Core.TotalMandays,
			To:     new.Core.TotalMandays,
		})
	}

	oldSats := satStates(old)
	newSats := satStates(new)
	for i := range oldSats {
		name := oldSats[i].name
		o, n := oldSats[i].s, newSats[i].s

		switch {
		case o.active != n.active:
			changes = append(changes, MetricChange{
				Metric:  name,
				From:    effective(o.active, o.mandays),
				To:      effective(n.active, n.mandays),
				Flipped: true,
				Active:  n.active,
			})
		case o.active && n.active && math.Abs(o.mandays-n.mandays) > changeThreshold:
			changes = append(changes, MetricChange{
				Metric: name,
				From:   o.mandays,
				To:     n.mandays,
			})
		}
	}

	return changes
}

// RenderReply turns a diff into the assistant reply used when the model
// returns an updated estimate without any prose.
func RenderReply(changes []MetricChange) string {
	if len(changes) == 0 {
		return "I've applied the requested changes to the estimate."
	}

	lines := make([]string, 0, len(changes))
	for _, c := range changes {
		switch {
		case c.Flipped && c.Active:
			lines = append(lines, fmt.Sprintf("- **%s**: activated", c.Metric))
		case c.Flipped:
			lines = append(lines, fmt.Sprintf("- **%s**: deactivated", c.Metric))
		default:
			lines = append(lines, fmt.Sprintf("- **%s**: %.1f -> %.1f mandays", c.Metric, c.From, c.To))
		}
	}

	return "Done. Here's what changed:\n\n" + strings.Join(lines, "\n")
}
