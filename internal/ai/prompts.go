package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucaresi/stima/pkg/models"
)

const estimateSystemPrompt = `You are an expert software project estimator. Follow the ESTIMATION MODEL below as the primary methodology reference.

STRICT RULES (structural - always apply):
1. Enumerate EVERY data entity that requires CRUD operations - do not bundle them.
2. List EVERY external API integration separately with direction and complexity.
3. Apply scalability multipliers and formulas EXACTLY as defined in the ESTIMATION MODEL below.
4. Only activate satellites that are GENUINELY needed - justify each with a concrete reason.
5. Flag every technology unknown or legacy integration as a SPIKE with a specific manday cost.
6. When a codebase analysis is provided, distinguish clearly between existing (no cost) and new components.
7. Return ONLY the tool call - no prose outside the structured output.
8. Use realistic manday estimates: simple CRUD entity is roughly 1-3 md; complex integration 3-8 md.
9. Produce a complete roles list mapping ALL mandays from Core and active Satellites to named roles. Sum must equal grand total.
10. Produce a plan_phases list as a realistic sequential weekly schedule. Mandays per role across phases must match role totals.

## ESTIMATION MODEL

%s`

const refineSystemPreamble = `You are an expert software estimation assistant helping the user refine a project estimate built on the Core & Satellites model.

The user may ask you to:
- Explain any estimation choice or assumption
- Override specific manday values for entities, integrations, or satellites
- Add/remove data entities, API integrations, or SPIKEs
- Activate or deactivate satellite services
- Change the scalability tier

RULES:
- When the user requests a CHANGE: call the produce_estimate tool with the COMPLETE updated estimate (all fields). Recompute base_fcu_mandays and total_mandays correctly after any change.
- When the user asks a QUESTION or wants an EXPLANATION: reply with plain text - do NOT call the tool.
- When updating the estimate, also update roles and plan_phases to reflect the changes.
- Be concise and precise.`

func buildEstimateSystemPrompt(modelDoc string) string {
	return fmt.Sprintf(estimateSystemPrompt, modelDoc)
}

func buildUserPrompt(requirements, enrichment string) string {
	parts := []string{"## PROJECT REQUIREMENTS\n\n" + requirements}
	if enrichment != "" {
		parts = append(parts, "## CODEBASE ANALYSIS\n\n"+enrichment)
	}

	return strings.Join(parts, "\n\n---\n\n")
}

func buildRefineSystemPrompt(modelDoc string, current *models.Estimate) (string, error) {
	currentJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal current estimate: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(refineSystemPreamble)
	if modelDoc != "" {
		sb.WriteString("\n\n## ESTIMATION MODEL\n\n")
		sb.WriteString(modelDoc)
	}
	sb.WriteString("\n\n## Current Estimate\n```json\n")
	sb.Write(currentJSON)
	sb.WriteString("\n```")

	return sb.String(), nil
}
