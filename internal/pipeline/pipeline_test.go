package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrospect/internal/analyze"
	"github.com/fyrsmithlabs/retrospect/internal/claude"
	"github.com/fyrsmithlabs/retrospect/internal/ledger"
	"github.com/fyrsmithlabs/retrospect/internal/report"
	"github.com/fyrsmithlabs/retrospect/internal/skills"
	"github.com/fyrsmithlabs/retrospect/internal/transcript"
	"github.com/fyrsmithlabs/retrospect/internal/verify"
)

// mockCompleter returns a canned response per call.
type mockCompleter struct {
	response string
	err      error
}

func (m *mockCompleter) Complete(context.Context, string, string) (string, claude.Usage, error) {
	if m.err != nil {
		return "", claude.Usage{}, m.err
	}
	return m.response, claude.Usage{InputTokens: 100, OutputTokens: 20}, nil
}

func (m *mockCompleter) Model() string { return "mock-model" }

const findingResponse = `[{
  "type": "repeated-instruction",
  "excerpt": "use yarn not npm",
  "description": "Package manager corrected repeatedly.",
  "recommendation": "Add a yarn rule.",
  "confidence": "high",
  "suggested_rule": "Always use yarn."
}]`

const verdictResponse = `[{
  "index": 0,
  "verified": true,
  "reasoning": "the correction appears twice in the transcript",
  "confidence": "high",
  "evidence": ["use yarn not npm"]
}]`

// testEnv bundles a service over temporary directories.
type testEnv struct {
	service      *Service
	sessionsRoot string
	ledger       *ledger.Ledger
	reports      *report.Store
	scanMock     *mockCompleter
	verifyMock   *mockCompleter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()

	led, err := ledger.Open(filepath.Join(dataDir, "ledger.json"))
	require.NoError(t, err)
	reports := report.NewStore(filepath.Join(dataDir, "reports"))

	scanMock := &mockCompleter{response: findingResponse}
	verifyMock := &mockCompleter{response: verdictResponse}

	logger := zap.NewNop()
	service := NewService(logger,
		transcript.NewReader(),
		analyze.NewAnalyzer(scanMock, logger),
		verify.NewVerifier(verifyMock, logger),
		led, reports,
		&skills.Catalog{}, "# Rules\nBe terse.",
		"mock-scan-model", "mock-verify-model")

	return &testEnv{
		service:      service,
		sessionsRoot: t.TempDir(),
		ledger:       led,
		reports:      reports,
		scanMock:     scanMock,
		verifyMock:   verifyMock,
	}
}

// writeSession drops a small but realistic session log.
func (e *testEnv) writeSession(t *testing.T, project, id string, messages int) {
	t.Helper()
	dir := filepath.Join(e.sessionsRoot, project)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var lines string
	for i := 0; i < messages; i++ {
		role, kind := "user", "user"
		text := "use yarn not npm"
		if i%2 == 1 {
			role, kind = "assistant", "assistant"
			text = "switching to yarn"
		}
		lines += fmt.Sprintf(`{"type":%q,"timestamp":"2026-01-02T03:04:%02dZ","message":{"role":%q,"content":%q}}`+"\n",
			kind, i, role, text)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".jsonl"), []byte(lines), 0o644))
}

func TestScan_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.writeSession(t, "proj-a", "sess-1", 4)
	env.writeSession(t, "proj-b", "sess-2", 6)

	sessions, err := env.service.Discover(env.sessionsRoot, Options{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	rep, err := env.service.Scan(context.Background(), sessions, Options{Concurrency: 2})
	require.NoError(t, err)
	require.NotNil(t, rep)

	assert.Equal(t, 2, rep.SessionsScanned)
	assert.Equal(t, 2, rep.TotalFindings)
	assert.Equal(t, 2, rep.SessionsWithFindings)
	assert.Equal(t, 2, rep.CountsByType["repeated-instruction"])
	assert.Greater(t, rep.EstimatedCost, 0.0)
	require.Len(t, rep.Sessions, 2)
	assert.Equal(t, "sess-1", rep.Sessions[0].SessionID, "results sorted by session ID")
	assert.Equal(t, "use yarn not npm", rep.Sessions[0].Summary)

	// Both sessions are now recorded and skipped on the next run.
	assert.Equal(t, 2, env.ledger.Len())
	again, err := env.service.Discover(env.sessionsRoot, Options{})
	require.NoError(t, err)
	assert.Empty(t, again)

	// Unless a full reprocess is requested.
	all, err := env.service.Discover(env.sessionsRoot, Options{ReprocessAll: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// The report landed on disk.
	latest, err := env.reports.LatestScan()
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, latest.RunID)
}

func TestScan_NoSessions(t *testing.T) {
	env := newTestEnv(t)

	rep, err := env.service.Scan(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Nil(t, rep)
	_, err = env.reports.LatestScan()
	assert.ErrorIs(t, err, report.ErrNoReport)
}

func TestScan_MinMessagesFilter(t *testing.T) {
	env := newTestEnv(t)
	env.writeSession(t, "proj-a", "tiny", 2)
	env.writeSession(t, "proj-a", "large", 10)

	sessions, err := env.service.Discover(env.sessionsRoot, Options{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	rep, err := env.service.Scan(context.Background(), sessions, Options{MinMessages: 5})
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.SessionsScanned)
	require.Len(t, rep.Sessions, 1)
	assert.Equal(t, "large", rep.Sessions[0].SessionID)
}

func TestScan_FailedSessionLeavesNoLedgerRecord(t *testing.T) {
	env := newTestEnv(t)
	env.writeSession(t, "proj-a", "sess-1", 4)
	env.scanMock.err = errors.New("model unavailable")

	sessions, err := env.service.Discover(env.sessionsRoot, Options{})
	require.NoError(t, err)

	rep, err := env.service.Scan(context.Background(), sessions, Options{})
	require.NoError(t, err, "one session's failure must not fail the batch")
	assert.Equal(t, 0, rep.SessionsScanned)
	assert.Equal(t, 0, env.ledger.Len())

	// The session is rediscovered on the next run.
	again, err := env.service.Discover(env.sessionsRoot, Options{})
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestDiscover_Filters(t *testing.T) {
	env := newTestEnv(t)
	env.writeSession(t, "proj-a", "sess-1", 2)
	env.writeSession(t, "proj-b", "sess-2", 2)
	env.writeSession(t, "proj-scratch", "sess-3", 2)

	byID, err := env.service.Discover(env.sessionsRoot, Options{SessionID: "sess-2"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "sess-2", byID[0].ID)

	excluded, err := env.service.Discover(env.sessionsRoot, Options{ExcludePaths: []string{"proj-scratch"}})
	require.NoError(t, err)
	assert.Len(t, excluded, 2)

	limited, err := env.service.Discover(env.sessionsRoot, Options{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestVerify_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.writeSession(t, "proj-a", "sess-1", 4)

	sessions, err := env.service.Discover(env.sessionsRoot, Options{})
	require.NoError(t, err)
	scanRep, err := env.service.Scan(context.Background(), sessions, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, scanRep.TotalFindings)

	verifyRep, err := env.service.Verify(context.Background(), scanRep, "latest.json", Options{})
	require.NoError(t, err)
	require.NotNil(t, verifyRep)

	assert.Equal(t, 1, verifyRep.SessionsVerified)
	assert.Equal(t, 1, verifyRep.FindingsInput)
	assert.Equal(t, 1, verifyRep.FindingsConfirmed)
	assert.Equal(t, 0, verifyRep.FindingsRejected)
	assert.Equal(t, "latest.json", verifyRep.SourceReport)
	require.Len(t, verifyRep.Sessions, 1)
	require.Len(t, verifyRep.Sessions[0].Verdicts, 1)
	assert.True(t, verifyRep.Sessions[0].Verdicts[0].Verified)

	latest, err := env.reports.LatestVerify()
	require.NoError(t, err)
	assert.Equal(t, verifyRep.RunID, latest.RunID)
}

func TestVerify_NothingToVerify(t *testing.T) {
	env := newTestEnv(t)

	src := &report.ScanReport{Sessions: []report.SessionResult{
		{SessionID: "clean", Findings: []analyze.Finding{}},
	}}
	rep, err := env.service.Verify(context.Background(), src, "latest.json", Options{})
	require.NoError(t, err)
	assert.Nil(t, rep)
}

func TestVerify_MissingLogSkipsSession(t *testing.T) {
	env := newTestEnv(t)
	env.writeSession(t, "proj-a", "sess-1", 4)

	sessions, err := env.service.Discover(env.sessionsRoot, Options{})
	require.NoError(t, err)
	scanRep, err := env.service.Scan(context.Background(), sessions, Options{})
	require.NoError(t, err)

	// The log vanishes between scan and verify.
	require.NoError(t, os.Remove(scanRep.Sessions[0].Path))

	verifyRep, err := env.service.Verify(context.Background(), scanRep, "latest.json", Options{})
	require.NoError(t, err)
	require.NotNil(t, verifyRep)
	assert.Equal(t, 0, verifyRep.SessionsVerified)
}
