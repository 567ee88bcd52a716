package verify

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrospect/internal/analyze"
	"github.com/fyrsmithlabs/retrospect/internal/claude"
	"github.com/fyrsmithlabs/retrospect/internal/condense"
	"github.com/fyrsmithlabs/retrospect/internal/skills"
)

type mockCompleter struct {
	response  string
	usage     claude.Usage
	err       error
	gotPrompt string
}

func (m *mockCompleter) Complete(_ context.Context, _, prompt string) (string, claude.Usage, error) {
	m.gotPrompt = prompt
	return m.response, m.usage, m.err
}

func (m *mockCompleter) Model() string { return "mock-model" }

func candidates(n int) []analyze.Finding {
	out := make([]analyze.Finding, n)
	for i := range out {
		out[i] = analyze.Finding{
			Type:           analyze.TypeRepeatedInstruction,
			Excerpt:        fmt.Sprintf("excerpt %d", i),
			Description:    fmt.Sprintf("description %d", i),
			Recommendation: fmt.Sprintf("recommendation %d", i),
			Confidence:     analyze.ConfidenceMedium,
		}
	}
	return out
}

func TestParseVerdicts_PositionalMapping(t *testing.T) {
	findings := candidates(2)
	response := `[
  {"verified": true, "reasoning": "confirmed in transcript", "confidence": "high", "evidence": ["line one"]},
  {"verified": false, "reasoning": "not actually repeated", "confidence": "low"}
]`
	verdicts := parseVerdicts(response, findings)
	require.Len(t, verdicts, 2)

	assert.True(t, verdicts[0].Verified)
	assert.Equal(t, findings[0], verdicts[0].Finding)
	assert.Equal(t, analyze.ConfidenceHigh, verdicts[0].Confidence)
	assert.Equal(t, []string{"line one"}, verdicts[0].Evidence)

	assert.False(t, verdicts[1].Verified)
	assert.Equal(t, findings[1], verdicts[1].Finding)
}

func TestParseVerdicts_IndexBackReference(t *testing.T) {
	findings := candidates(3)
	// Out of order; index wins over position.
	response := `[
  {"index": 2, "verified": true, "reasoning": "third candidate holds", "confidence": "high"},
  {"index": 0, "verified": false, "reasoning": "first does not", "confidence": "medium"},
  {"index": 1, "verified": true, "reasoning": "second holds", "confidence": "low"}
]`
	verdicts := parseVerdicts(response, findings)
	require.Len(t, verdicts, 3)

	assert.False(t, verdicts[0].Verified)
	assert.Equal(t, "first does not", verdicts[0].Reasoning)
	assert.True(t, verdicts[1].Verified)
	assert.True(t, verdicts[2].Verified)
	for i, verdict := range verdicts {
		assert.Equal(t, findings[i], verdict.Finding)
	}
}

func TestParseVerdicts_LengthInvariantAlwaysHolds(t *testing.T) {
	findings := candidates(3)

	cases := map[string]string{
		"too few elements":  `[{"verified": true, "reasoning": "ok", "confidence": "high"}]`,
		"too many elements": `[{"verified":true,"reasoning":"a","confidence":"high"},{"verified":true,"reasoning":"b","confidence":"high"},{"verified":true,"reasoning":"c","confidence":"high"},{"verified":true,"reasoning":"d","confidence":"high"}]`,
		"not an array":      `{"verified": true}`,
		"prose":             `These all look fine to me.`,
		"empty":             ``,
	}
	for name, response := range cases {
		verdicts := parseVerdicts(response, findings)
		assert.Len(t, verdicts, 3, name)
		for i, verdict := range verdicts {
			assert.Equal(t, findings[i], verdict.Finding, name)
		}
	}
}

func TestParseVerdicts_FailClosedOnNonArray(t *testing.T) {
	findings := candidates(2)
	verdicts := parseVerdicts("I verified both findings, looks good!", findings)
	require.Len(t, verdicts, 2)
	for _, verdict := range verdicts {
		assert.False(t, verdict.Verified, "unaddressed candidates must not be confirmed")
		assert.Contains(t, verdict.Reasoning, "unverified:")
		assert.Equal(t, analyze.ConfidenceLow, verdict.Confidence)
		assert.NotNil(t, verdict.Evidence)
	}
}

func TestParseVerdicts_MissingPositionFallsBack(t *testing.T) {
	findings := candidates(3)
	// Only the middle candidate gets addressed.
	response := `[{"index": 1, "verified": true, "reasoning": "holds", "confidence": "high"}]`
	verdicts := parseVerdicts(response, findings)

	assert.False(t, verdicts[0].Verified)
	assert.Contains(t, verdicts[0].Reasoning, "unverified:")
	assert.True(t, verdicts[1].Verified)
	assert.False(t, verdicts[2].Verified)
}

func TestParseVerdicts_DuplicateAndOutOfRangeIndexes(t *testing.T) {
	findings := candidates(2)
	response := `[
  {"index": 0, "verified": true, "reasoning": "first wins", "confidence": "high"},
  {"index": 0, "verified": false, "reasoning": "duplicate ignored", "confidence": "low"},
  {"index": 7, "verified": true, "reasoning": "no such candidate", "confidence": "high"}
]`
	verdicts := parseVerdicts(response, findings)
	require.Len(t, verdicts, 2)

	assert.True(t, verdicts[0].Verified)
	assert.Equal(t, "first wins", verdicts[0].Reasoning)
	assert.False(t, verdicts[1].Verified, "out-of-range index must not leak into another slot")
}

func TestParseVerdicts_UnknownConfidenceKeepsOriginal(t *testing.T) {
	findings := candidates(1)
	response := `[{"verified": true, "reasoning": "ok", "confidence": "very sure"}]`
	verdicts := parseVerdicts(response, findings)
	assert.Equal(t, analyze.ConfidenceMedium, verdicts[0].Confidence)
}

func TestVerify(t *testing.T) {
	findings := []analyze.Finding{{
		Type:           analyze.TypeSkillMisfire,
		Excerpt:        "that commit message is wrong",
		Description:    "Skill output was corrected.",
		Recommendation: "Tighten the skill's format section.",
		Confidence:     analyze.ConfidenceMedium,
		SkillName:      "commit-helper",
	}}
	mock := &mockCompleter{
		response: `[{"verified": true, "reasoning": "user rejected the generated message", "refined_recommendation": "Pin the message format in the skill body.", "confidence": "high", "evidence": ["that commit message is wrong"]}]`,
		usage:    claude.Usage{InputTokens: 2000, OutputTokens: 150},
	}
	verifier := NewVerifier(mock, zap.NewNop())

	catalog := &skills.Catalog{Skills: []skills.Skill{
		{Name: "commit-helper", Description: "Writes commit messages", Content: "Use imperative mood."},
		{Name: "pr-review", Description: "Reviews pull requests", Content: "Unrelated."},
	}}
	cond := &condense.Condensed{SessionID: "sess-1", Text: "User: that commit message is wrong"}

	result, err := verifier.Verify(context.Background(), cond, findings, "# Rules", catalog)
	require.NoError(t, err)

	assert.Equal(t, "sess-1", result.SessionID)
	require.Len(t, result.Verdicts, 1)
	assert.Equal(t, 1, result.Confirmed)
	assert.Equal(t, 0, result.Rejected)
	assert.Equal(t, "Pin the message format in the skill body.", result.Verdicts[0].RefinedRecommendation)
	assert.Equal(t, claude.Usage{InputTokens: 2000, OutputTokens: 150}, result.Usage)

	// Only the referenced skill goes into the prompt.
	assert.Contains(t, mock.gotPrompt, "commit-helper")
	assert.NotContains(t, mock.gotPrompt, "pr-review")
}

func TestVerify_NoCandidates(t *testing.T) {
	mock := &mockCompleter{}
	verifier := NewVerifier(mock, zap.NewNop())

	result, err := verifier.Verify(context.Background(), &condense.Condensed{SessionID: "s"}, nil, "", &skills.Catalog{})
	require.NoError(t, err)
	assert.Empty(t, result.Verdicts)
	assert.Empty(t, mock.gotPrompt, "no model call should be made without candidates")
}

func TestVerify_CountsRejected(t *testing.T) {
	findings := candidates(2)
	mock := &mockCompleter{
		response: `[{"verified": true, "reasoning": "a", "confidence": "high"}, {"verified": false, "reasoning": "b", "confidence": "low"}]`,
	}
	verifier := NewVerifier(mock, zap.NewNop())

	result, err := verifier.Verify(context.Background(), &condense.Condensed{SessionID: "s"}, findings, "", &skills.Catalog{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Confirmed)
	assert.Equal(t, 1, result.Rejected)
}
