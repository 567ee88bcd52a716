// Package verify implements the second analysis stage: a strict classifier
// pass that confirms or rejects each candidate finding against the
// session's full, untruncated transcript.
//
// The output invariant is strict 1:1 positional correspondence: for k
// input candidates the verdict list has length exactly k, and verdict i
// wraps candidate i. A candidate the classifier failed to address degrades
// to an explicit unverified reject; an unverifiable candidate must never
// silently become a confirmed finding.
package verify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrospect/internal/analyze"
	"github.com/fyrsmithlabs/retrospect/internal/claude"
	"github.com/fyrsmithlabs/retrospect/internal/condense"
	"github.com/fyrsmithlabs/retrospect/internal/skills"
)

var tracer = otel.Tracer("retrospect.verify")

// Verdict is one confirm/reject decision over exactly one candidate.
type Verdict struct {
	Finding               analyze.Finding    `json:"finding"`
	Verified              bool               `json:"verified"`
	Reasoning             string             `json:"reasoning"`
	RefinedRecommendation string             `json:"refined_recommendation,omitempty"`
	RefinedRule           string             `json:"refined_rule,omitempty"`
	Evidence              []string           `json:"evidence,omitempty"`
	Confidence            analyze.Confidence `json:"confidence"`
}

// Result is one session's stage-two output.
type Result struct {
	SessionID string       `json:"session_id"`
	Verdicts  []Verdict    `json:"verdicts"`
	Confirmed int          `json:"confirmed"`
	Rejected  int          `json:"rejected"`
	Usage     claude.Usage `json:"usage"`
}

// Verifier runs the strict classifier over prior candidates.
type Verifier struct {
	client claude.Completer
	logger *zap.Logger
}

// NewVerifier creates a stage-two verifier.
func NewVerifier(client claude.Completer, logger *zap.Logger) *Verifier {
	return &Verifier{
		client: client,
		logger: logger.Named("verify"),
	}
}

// Verify re-examines one session's candidates against its full-mode
// condensed transcript. All candidates are batched into a single request;
// the catalog is narrowed to the skills the candidates reference.
func (v *Verifier) Verify(ctx context.Context, cond *condense.Condensed, findings []analyze.Finding, rules string, catalog *skills.Catalog) (*Result, error) {
	ctx, span := tracer.Start(ctx, "verify.Verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", cond.SessionID),
		attribute.Int("candidates", len(findings)),
	)

	if len(findings) == 0 {
		return &Result{SessionID: cond.SessionID, Verdicts: []Verdict{}}, nil
	}

	prompt, err := buildVerifyPrompt(cond, findings, rules, referencedSkills(findings, catalog))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("building prompt: %w", err)
	}

	response, usage, err := v.client.Complete(ctx, verifySystemPrompt, prompt)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("classifier call: %w", err)
	}

	verdicts := parseVerdicts(response, findings)

	result := &Result{
		SessionID: cond.SessionID,
		Verdicts:  verdicts,
		Usage:     usage,
	}
	for _, verdict := range verdicts {
		if verdict.Verified {
			result.Confirmed++
		} else {
			result.Rejected++
		}
	}

	v.logger.Debug("session verified",
		zap.String("session_id", cond.SessionID),
		zap.Int("confirmed", result.Confirmed),
		zap.Int("rejected", result.Rejected))

	return result, nil
}

// referencedSkills narrows the catalog to the skills named by candidates,
// keeping verification context cost proportional to the findings.
func referencedSkills(findings []analyze.Finding, catalog *skills.Catalog) *skills.Catalog {
	var names []string
	for _, f := range findings {
		if f.SkillName != "" {
			names = append(names, f.SkillName)
		}
	}
	return catalog.Subset(names)
}

// rawVerdict is the wire shape of one response element. Index is an
// explicit back-reference to the candidate; position in the array is the
// fallback when it is absent.
type rawVerdict struct {
	Index                 *int     `json:"index"`
	Verified              bool     `json:"verified"`
	Reasoning             string   `json:"reasoning"`
	RefinedRecommendation string   `json:"refined_recommendation"`
	RefinedRule           string   `json:"refined_rule"`
	Evidence              []string `json:"evidence"`
	Confidence            string   `json:"confidence"`
}

// parseVerdicts maps a classifier response onto the candidate list,
// synthesizing fail-closed defaults for anything missing or malformed.
func parseVerdicts(response string, findings []analyze.Finding) []Verdict {
	verdicts := make([]Verdict, len(findings))
	filled := make([]bool, len(findings))

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(analyze.StripFences(response)), &elements); err != nil {
		for i, f := range findings {
			verdicts[i] = fallbackVerdict(f, "verifier response was not a JSON array")
		}
		return verdicts
	}

	for pos, el := range elements {
		var rv rawVerdict
		if err := json.Unmarshal(el, &rv); err != nil {
			continue
		}

		idx := pos
		if rv.Index != nil && *rv.Index >= 0 && *rv.Index < len(findings) {
			idx = *rv.Index
		}
		if idx >= len(findings) || filled[idx] {
			continue
		}

		verdicts[idx] = verdictFrom(rv, findings[idx])
		filled[idx] = true
	}

	for i, f := range findings {
		if !filled[i] {
			verdicts[i] = fallbackVerdict(f, fmt.Sprintf("no well-formed verdict at position %d", i))
		}
	}
	return verdicts
}

// verdictFrom extracts a verdict, defaulting confidence to the original
// candidate's when the response value is outside the known levels.
func verdictFrom(rv rawVerdict, finding analyze.Finding) Verdict {
	confidence := analyze.Confidence(rv.Confidence)
	if !analyze.ValidConfidence(confidence) {
		confidence = finding.Confidence
	}
	evidence := rv.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	return Verdict{
		Finding:               finding,
		Verified:              rv.Verified,
		Reasoning:             rv.Reasoning,
		RefinedRecommendation: rv.RefinedRecommendation,
		RefinedRule:           rv.RefinedRule,
		Evidence:              evidence,
		Confidence:            confidence,
	}
}

// fallbackVerdict is the deterministic fail-closed default.
func fallbackVerdict(finding analyze.Finding, reason string) Verdict {
	return Verdict{
		Finding:    finding,
		Verified:   false,
		Reasoning:  "unverified: " + reason,
		Evidence:   []string{},
		Confidence: analyze.ConfidenceLow,
	}
}
