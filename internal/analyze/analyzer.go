package analyze

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrospect/internal/claude"
	"github.com/fyrsmithlabs/retrospect/internal/condense"
	"github.com/fyrsmithlabs/retrospect/internal/skills"
)

var tracer = otel.Tracer("retrospect.analyze")

// Analyzer runs the broad classifier over condensed sessions.
type Analyzer struct {
	client claude.Completer
	logger *zap.Logger
}

// NewAnalyzer creates a stage-one analyzer.
func NewAnalyzer(client claude.Completer, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		client: client,
		logger: logger.Named("analyze"),
	}
}

// Analyze classifies one bounded-mode condensed session against the rule
// set and the full skill catalog. A response the classifier mangles beyond
// parsing yields zero findings, not an error: one session's ambiguous
// output must not block the batch.
func (a *Analyzer) Analyze(ctx context.Context, cond *condense.Condensed, rules string, catalog *skills.Catalog) (*Result, error) {
	ctx, span := tracer.Start(ctx, "analyze.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", cond.SessionID))

	prompt := buildScanPrompt(cond, rules, catalog)

	response, usage, err := a.client.Complete(ctx, scanSystemPrompt, prompt)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("classifier call: %w", err)
	}

	findings, dropped := parseFindings(response)
	if dropped > 0 {
		a.logger.Warn("dropped malformed findings",
			zap.String("session_id", cond.SessionID),
			zap.Int("dropped", dropped))
	}

	a.logger.Debug("session analyzed",
		zap.String("session_id", cond.SessionID),
		zap.Int("findings", len(findings)),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens))

	return &Result{
		SessionID: cond.SessionID,
		Findings:  findings,
		Usage:     usage,
	}, nil
}
