package verify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/retrospect/internal/analyze"
	"github.com/fyrsmithlabs/retrospect/internal/condense"
	"github.com/fyrsmithlabs/retrospect/internal/skills"
)

const verifySystemPrompt = `You are a strict reviewer of candidate findings from an earlier broad pass over an AI coding session transcript.

For each numbered candidate, check it against the full transcript. Confirm only findings with direct verbatim support; reject anything speculative, already covered by the current rules, or contradicted by the transcript.

Respond with ONLY a JSON array, one element per candidate:
{
  "index": <number of the candidate this verdict addresses>,
  "verified": true | false,
  "reasoning": "why, citing the transcript",
  "refined_recommendation": "improved recommendation, optional",
  "refined_rule": "improved rule text, optional",
  "evidence": ["verbatim transcript quotes"],
  "confidence": "low" | "medium" | "high"
}`

// buildVerifyPrompt assembles the stage-two prompt: candidates first, then
// rules, the referenced skills, and the full transcript.
func buildVerifyPrompt(cond *condense.Condensed, findings []analyze.Finding, rules string, referenced *skills.Catalog) (string, error) {
	var sb strings.Builder

	sb.WriteString("# Candidates\n\n")
	for i, f := range findings {
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling candidate %d: %w", i, err)
		}
		fmt.Fprintf(&sb, "Candidate %d:\n%s\n\n", i, data)
	}

	sb.WriteString("# Current permanent rules\n\n")
	if strings.TrimSpace(rules) == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(rules)
		sb.WriteString("\n")
	}

	if len(referenced.Skills) > 0 {
		sb.WriteString("\n# Referenced skills\n\n")
		for _, s := range referenced.Skills {
			fmt.Fprintf(&sb, "## %s\n\n%s\n\n%s\n\n", s.Name, s.Description, s.Content)
		}
	}

	fmt.Fprintf(&sb, "\n# Full transcript of session %s\n\n", cond.SessionID)
	sb.WriteString(cond.Text)

	return sb.String(), nil
}
