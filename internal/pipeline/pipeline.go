// Package pipeline sequences discovery, condensation, analysis,
// verification and persistence for a run.
//
// Per-session work units run concurrently up to a configurable limit; the
// orchestrator never launches unbounded model calls. A single session's
// failure is caught at the loop boundary, logged, and skipped — it leaves
// no ledger record, so the next run retries it automatically.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrospect/internal/analyze"
	"github.com/fyrsmithlabs/retrospect/internal/claude"
	"github.com/fyrsmithlabs/retrospect/internal/condense"
	"github.com/fyrsmithlabs/retrospect/internal/ledger"
	"github.com/fyrsmithlabs/retrospect/internal/report"
	"github.com/fyrsmithlabs/retrospect/internal/skills"
	"github.com/fyrsmithlabs/retrospect/internal/transcript"
	"github.com/fyrsmithlabs/retrospect/internal/verify"
)

var tracer = otel.Tracer("retrospect.pipeline")

const defaultConcurrency = 5

// Options control a run.
type Options struct {
	// Concurrency bounds in-flight per-session work units.
	Concurrency int
	// ReprocessAll ignores ledger records.
	ReprocessAll bool
	// ExcludePaths drops sessions whose log path contains any entry.
	ExcludePaths []string
	// MinMessages drops sessions with fewer kept messages.
	MinMessages int
	// SessionID restricts the run to a single session.
	SessionID string
	// Limit caps the number of sessions processed (0 = no cap).
	Limit int
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return defaultConcurrency
	}
	return o.Concurrency
}

// Service orchestrates the two-stage pipeline.
type Service struct {
	logger   *zap.Logger
	reader   *transcript.Reader
	analyzer *analyze.Analyzer
	verifier *verify.Verifier
	ledger   *ledger.Ledger
	reports  *report.Store

	// Loaded once per run; immutable read-only snapshots. A mid-run edit
	// to the rules is not picked up until the next run.
	catalog *skills.Catalog
	rules   string

	scanModel   string
	verifyModel string
}

// NewService wires the pipeline.
func NewService(logger *zap.Logger, reader *transcript.Reader, analyzer *analyze.Analyzer, verifier *verify.Verifier, led *ledger.Ledger, reports *report.Store, catalog *skills.Catalog, rules, scanModel, verifyModel string) *Service {
	return &Service{
		logger:      logger.Named("pipeline"),
		reader:      reader,
		analyzer:    analyzer,
		verifier:    verifier,
		ledger:      led,
		reports:     reports,
		catalog:     catalog,
		rules:       rules,
		scanModel:   scanModel,
		verifyModel: verifyModel,
	}
}

// Discover enumerates sessions under root and applies the run filters.
func (s *Service) Discover(root string, opts Options) ([]transcript.SessionInfo, error) {
	sessions, err := transcript.Discover(root)
	if err != nil {
		return nil, fmt.Errorf("discovering sessions: %w", err)
	}

	filtered := make([]transcript.SessionInfo, 0, len(sessions))
	for _, info := range sessions {
		if opts.SessionID != "" && info.ID != opts.SessionID {
			continue
		}
		if excluded(info.Path, opts.ExcludePaths) {
			continue
		}
		if !opts.ReprocessAll && s.ledger.IsProcessed(info.ID, info.Signature) {
			continue
		}
		filtered = append(filtered, info)
		if opts.Limit > 0 && len(filtered) >= opts.Limit {
			break
		}
	}
	return filtered, nil
}

func excluded(path string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// scanOutcome carries one session's stage-one result across the worker
// boundary.
type scanOutcome struct {
	sessionID string
	result    *report.SessionResult
	usage     claude.Usage
	err       error
}

// Scan runs stage one over the filtered sessions, persists the report,
// and returns it. A nil report with nil error means nothing matched.
func (s *Service) Scan(ctx context.Context, sessions []transcript.SessionInfo, opts Options) (*report.ScanReport, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Scan")
	defer span.End()
	span.SetAttributes(attribute.Int("sessions", len(sessions)))

	if len(sessions) == 0 {
		return nil, nil
	}

	outcomes := make(chan scanOutcome, len(sessions))
	sem := make(chan struct{}, opts.concurrency())
	var wg sync.WaitGroup

	for _, info := range sessions {
		wg.Add(1)
		go func(info transcript.SessionInfo) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes <- scanOutcome{sessionID: info.ID, err: ctx.Err()}
				return
			}

			result, usage, err := s.scanSession(ctx, info, opts)
			outcomes <- scanOutcome{sessionID: info.ID, result: result, usage: usage, err: err}
		}(info)
	}

	wg.Wait()
	close(outcomes)

	var (
		results []report.SessionResult
		usage   claude.Usage
		scanned int
	)
	for outcome := range outcomes {
		if outcome.err != nil {
			// Failed sessions leave no ledger record and are retried on
			// the next run.
			s.logger.Warn("session failed, skipping",
				zap.String("session_id", outcome.sessionID),
				zap.Error(outcome.err))
			continue
		}
		usage.Add(outcome.usage)
		if outcome.result == nil {
			continue // filtered out after read (min-messages)
		}
		scanned++
		results = append(results, *outcome.result)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].SessionID < results[j].SessionID
	})

	rep := &report.ScanReport{
		RunID:           uuid.New().String(),
		GeneratedAt:     time.Now().UTC(),
		Model:           s.scanModel,
		SessionsScanned: scanned,
		CountsByType:    make(map[string]int),
		EstimatedCost:   report.EstimateCost(s.scanModel, usage),
		Sessions:        results,
	}
	for _, r := range results {
		if len(r.Findings) > 0 {
			rep.SessionsWithFindings++
		}
		rep.TotalFindings += len(r.Findings)
		for _, f := range r.Findings {
			rep.CountsByType[string(f.Type)]++
		}
	}

	path, err := s.reports.SaveScan(rep)
	if err != nil {
		return nil, fmt.Errorf("persisting scan report: %w", err)
	}
	s.logger.Info("scan report written",
		zap.String("path", path),
		zap.Int("sessions", scanned),
		zap.Int("findings", rep.TotalFindings))

	return rep, nil
}

// scanSession is one stage-one work unit: read, condense bounded, analyze,
// record progress. A nil result with nil error means the session was
// filtered out after reading.
func (s *Service) scanSession(ctx context.Context, info transcript.SessionInfo, opts Options) (*report.SessionResult, claude.Usage, error) {
	rr, err := s.reader.Read(info.Path)
	if err != nil {
		return nil, claude.Usage{}, fmt.Errorf("reading transcript: %w", err)
	}
	if rr.ErrorCount > 0 {
		s.logger.Debug("transcript had unparseable lines",
			zap.String("session_id", info.ID),
			zap.Int("skipped", rr.ErrorCount))
	}
	if opts.MinMessages > 0 && rr.MessageCount < opts.MinMessages {
		return nil, claude.Usage{}, nil
	}

	cond := condense.Build(info, rr, condense.Bounded())

	res, err := s.analyzer.Analyze(ctx, cond, s.rules, s.catalog)
	if err != nil {
		return nil, claude.Usage{}, fmt.Errorf("analyzing: %w", err)
	}

	// The ledger serializes its own writes; saved after every session so a
	// crash loses at most one session's result.
	if err := s.ledger.MarkProcessed(info.ID, info.Signature, len(res.Findings)); err != nil {
		return nil, res.Usage, fmt.Errorf("recording progress: %w", err)
	}

	return &report.SessionResult{
		SessionID:    info.ID,
		Path:         info.Path,
		ProjectPath:  cond.ProjectPath,
		Summary:      cond.Summary,
		MessageCount: cond.MessageCount,
		SkillsUsed:   cond.SkillsUsed,
		Findings:     res.Findings,
	}, res.Usage, nil
}

// verifyOutcome carries one session's stage-two result across the worker
// boundary.
type verifyOutcome struct {
	sessionID string
	result    *verify.Result
	err       error
}

// Verify runs stage two over a persisted scan report: every session with
// at least one candidate is re-condensed in full mode and re-examined.
// A nil report with nil error means there was nothing to verify.
func (s *Service) Verify(ctx context.Context, src *report.ScanReport, sourcePath string, opts Options) (*report.VerifyReport, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Verify")
	defer span.End()

	var candidates []report.SessionResult
	for _, sess := range src.Sessions {
		if len(sess.Findings) > 0 {
			candidates = append(candidates, sess)
		}
	}
	span.SetAttributes(attribute.Int("sessions", len(candidates)))
	if len(candidates) == 0 {
		return nil, nil
	}

	outcomes := make(chan verifyOutcome, len(candidates))
	sem := make(chan struct{}, opts.concurrency())
	var wg sync.WaitGroup

	for _, sess := range candidates {
		wg.Add(1)
		go func(sess report.SessionResult) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes <- verifyOutcome{sessionID: sess.SessionID, err: ctx.Err()}
				return
			}

			result, err := s.verifySession(ctx, sess)
			outcomes <- verifyOutcome{sessionID: sess.SessionID, result: result, err: err}
		}(sess)
	}

	wg.Wait()
	close(outcomes)

	var (
		results []report.SessionVerdicts
		usage   claude.Usage
	)
	for outcome := range outcomes {
		if outcome.err != nil {
			s.logger.Warn("session verification failed, skipping",
				zap.String("session_id", outcome.sessionID),
				zap.Error(outcome.err))
			continue
		}
		usage.Add(outcome.result.Usage)
		results = append(results, report.SessionVerdicts{
			SessionID: outcome.result.SessionID,
			Verdicts:  outcome.result.Verdicts,
			Confirmed: outcome.result.Confirmed,
			Rejected:  outcome.result.Rejected,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].SessionID < results[j].SessionID
	})

	rep := &report.VerifyReport{
		RunID:            uuid.New().String(),
		GeneratedAt:      time.Now().UTC(),
		SourceReport:     sourcePath,
		Model:            s.verifyModel,
		SessionsVerified: len(results),
		EstimatedCost:    report.EstimateCost(s.verifyModel, usage),
		Sessions:         results,
	}
	for _, r := range results {
		rep.FindingsInput += len(r.Verdicts)
		rep.FindingsConfirmed += r.Confirmed
		rep.FindingsRejected += r.Rejected
	}

	path, err := s.reports.SaveVerify(rep)
	if err != nil {
		return nil, fmt.Errorf("persisting verify report: %w", err)
	}
	s.logger.Info("verification report written",
		zap.String("path", path),
		zap.Int("confirmed", rep.FindingsConfirmed),
		zap.Int("rejected", rep.FindingsRejected))

	return rep, nil
}

// verifySession is one stage-two work unit: re-read, condense in full
// mode, verify the session's candidates in a single batched call.
func (s *Service) verifySession(ctx context.Context, sess report.SessionResult) (*verify.Result, error) {
	info, err := transcript.Stat(sess.Path, sess.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("locating session log: %w", err)
	}

	rr, err := s.reader.Read(info.Path)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	cond := condense.Build(info, rr, condense.Full())

	result, err := s.verifier.Verify(ctx, cond, sess.Findings, s.rules, s.catalog)
	if err != nil {
		return nil, fmt.Errorf("verifying: %w", err)
	}
	return result, nil
}
