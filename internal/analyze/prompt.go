package analyze

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/retrospect/internal/condense"
	"github.com/fyrsmithlabs/retrospect/internal/skills"
)

const scanSystemPrompt = `You audit transcripts of AI-assisted coding sessions for configuration gaps.

Look for exactly three kinds of issue:
1. "repeated-instruction": the user gives the same instruction or correction more than once. It should become a permanent rule.
2. "unused-skill": an available skill clearly matched the work but was never invoked.
3. "skill-misfire": a skill was invoked but its output had to be corrected or was rejected by the user.

Respond with ONLY a JSON array. Each element:
{
  "type": "repeated-instruction" | "unused-skill" | "skill-misfire",
  "excerpt": "verbatim evidence from the transcript",
  "description": "one sentence: what happened",
  "recommendation": "one sentence: what to change",
  "confidence": "low" | "medium" | "high",
  "suggested_rule": "rule text, for repeated-instruction only",
  "skill_name": "skill name, for skill findings only"
}

Return [] when the session shows no issues. Do not invent evidence.`

// buildScanPrompt assembles the stage-one prompt from the condensed
// session, the current rules and the skill catalog.
func buildScanPrompt(cond *condense.Condensed, rules string, catalog *skills.Catalog) string {
	var sb strings.Builder

	sb.WriteString("# Current permanent rules\n\n")
	if strings.TrimSpace(rules) == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(rules)
		sb.WriteString("\n")
	}

	sb.WriteString("\n# Available skills\n\n")
	if len(catalog.Skills) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, s := range catalog.Skills {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}

	sb.WriteString("\n# Skills invoked in this session\n\n")
	if len(cond.SkillsUsed) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, name := range cond.SkillsUsed {
		fmt.Fprintf(&sb, "- %s\n", name)
	}

	fmt.Fprintf(&sb, "\n# Session %s (%d messages)\n\n", cond.SessionID, cond.MessageCount)
	sb.WriteString(cond.Text)

	return sb.String()
}
