// Package analyze implements the first analysis stage: a broad classifier
// pass over bounded-mode condensed sessions that produces candidate
// findings for later verification.
package analyze

import (
	"fmt"

	"github.com/fyrsmithlabs/retrospect/internal/claude"
)

// FindingType classifies a candidate finding.
type FindingType string

const (
	// TypeRepeatedInstruction marks an instruction the user gave
	// repeatedly that should become a permanent rule.
	TypeRepeatedInstruction FindingType = "repeated-instruction"
	// TypeUnusedSkill marks a skill that was relevant but never invoked.
	TypeUnusedSkill FindingType = "unused-skill"
	// TypeSkillMisfire marks a skill that was invoked but produced output
	// the user had to correct.
	TypeSkillMisfire FindingType = "skill-misfire"
)

// Confidence is the classifier's self-assessed certainty.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ValidConfidence reports whether c is one of the three known levels.
func ValidConfidence(c Confidence) bool {
	return c == ConfidenceLow || c == ConfidenceMedium || c == ConfidenceHigh
}

// Finding is one unit of stage-one output. Immutable once produced.
type Finding struct {
	Type           FindingType `json:"type"`
	Excerpt        string      `json:"excerpt"`
	Description    string      `json:"description"`
	Recommendation string      `json:"recommendation"`
	Confidence     Confidence  `json:"confidence"`
	SuggestedRule  string      `json:"suggested_rule,omitempty"`
	SkillName      string      `json:"skill_name,omitempty"`
}

// Validate checks a finding against the required shape.
func (f *Finding) Validate() error {
	switch f.Type {
	case TypeRepeatedInstruction, TypeUnusedSkill, TypeSkillMisfire:
	default:
		return fmt.Errorf("unknown finding type %q", f.Type)
	}
	if f.Excerpt == "" {
		return fmt.Errorf("excerpt is required")
	}
	if f.Description == "" {
		return fmt.Errorf("description is required")
	}
	if f.Recommendation == "" {
		return fmt.Errorf("recommendation is required")
	}
	if !ValidConfidence(f.Confidence) {
		return fmt.Errorf("unknown confidence %q", f.Confidence)
	}
	return nil
}

// Result is one session's stage-one output.
type Result struct {
	SessionID string       `json:"session_id"`
	Findings  []Finding    `json:"findings"`
	Usage     claude.Usage `json:"usage"`
}
