// Package report persists and renders run reports.
//
// Reports are write-once per run: each scan writes a timestamped history
// copy plus a fixed "latest" pointer, and verification writes a
// "latest-verified" pointer. Verification reads the persisted scan report
// rather than in-memory state, so the two stages are independently
// resumable runs.
package report

import (
	"time"

	"github.com/fyrsmithlabs/retrospect/internal/analyze"
	"github.com/fyrsmithlabs/retrospect/internal/verify"
)

// SessionResult is one session's scan output.
type SessionResult struct {
	SessionID    string            `json:"session_id"`
	Path         string            `json:"path"`
	ProjectPath  string            `json:"project_path"`
	Summary      string            `json:"summary"`
	MessageCount int               `json:"message_count"`
	SkillsUsed   []string          `json:"skills_used,omitempty"`
	Findings     []analyze.Finding `json:"findings"`
}

// ScanReport aggregates one stage-one run.
type ScanReport struct {
	RunID                string          `json:"run_id"`
	GeneratedAt          time.Time       `json:"generated_at"`
	Model                string          `json:"model"`
	SessionsScanned      int             `json:"sessions_scanned"`
	SessionsWithFindings int             `json:"sessions_with_findings"`
	TotalFindings        int             `json:"total_findings"`
	CountsByType         map[string]int  `json:"counts_by_type"`
	EstimatedCost        float64         `json:"estimated_cost_usd"`
	Sessions             []SessionResult `json:"sessions"`
}

// SessionVerdicts is one session's verification output.
type SessionVerdicts struct {
	SessionID string           `json:"session_id"`
	Verdicts  []verify.Verdict `json:"verdicts"`
	Confirmed int              `json:"confirmed"`
	Rejected  int              `json:"rejected"`
}

// VerifyReport aggregates one stage-two run.
type VerifyReport struct {
	RunID             string            `json:"run_id"`
	GeneratedAt       time.Time         `json:"generated_at"`
	SourceReport      string            `json:"source_report"`
	Model             string            `json:"model"`
	SessionsVerified  int               `json:"sessions_verified"`
	FindingsInput     int               `json:"findings_input"`
	FindingsConfirmed int               `json:"findings_confirmed"`
	FindingsRejected  int               `json:"findings_rejected"`
	EstimatedCost     float64           `json:"estimated_cost_usd"`
	Sessions          []SessionVerdicts `json:"sessions"`
}
