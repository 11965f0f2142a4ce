// Package execution turns an approved agent request into a model call and the
// model's answer into a structured payload.
package execution

import (
	"fmt"
	"strings"

	"github.com/dativo-io/steward/internal/agentapi"
	"github.com/dativo-io/steward/internal/llm"
	"github.com/dativo-io/steward/internal/recipe"
)

const outputContract = `Respond with a single JSON object of the form
{"result": <your answer>, "citations": [{"transcript_id": "...", "segment_index": 0, "text": "...", "confidence": 0.0}]}`

// BuildPrompt renders the system and user messages for one run.
func BuildPrompt(rec recipe.Recipe, req *agentapi.Request) []llm.Message {
	actx := req.Context
	var b strings.Builder

	b.WriteString(rec.Role)
	b.WriteString("\n\nCultural safety constraints:\n")
	fmt.Fprintf(&b, "- Sensitivity level: %s\n", actx.Sensitivity)
	if len(actx.CulturalAffiliations) > 0 {
		fmt.Fprintf(&b, "- Cultural affiliations: %s\n", strings.Join(actx.CulturalAffiliations, ", "))
	}
	if len(rec.Guardrails) > 0 {
		kinds := make([]string, 0, len(rec.Guardrails))
		for _, g := range rec.Guardrails {
			kinds = append(kinds, string(g.Kind))
		}
		fmt.Fprintf(&b, "- Active guardrails: %s\n", strings.Join(kinds, ", "))
	}
	if rec.RequiresCitations {
		b.WriteString("- Every claim must cite the transcript segment it comes from. Do not state anything the input does not support.\n")
	}
	b.WriteString("- If the content touches sacred, ceremonial or restricted knowledge, say so explicitly and recommend elder review instead of elaborating.\n")
	if actx.Sensitivity == agentapi.SensitivitySacred {
		b.WriteString("- This material is sacred. Handle it with the utmost care and do not reproduce restricted detail.\n")
	}
	b.WriteString("\n")
	b.WriteString(outputContract)

	return []llm.Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: "Input:\n" + req.SerializedInput()},
	}
}
