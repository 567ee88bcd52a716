// Package main implements the retrospect CLI: an offline batch analyzer
// that surfaces configuration gaps in AI-assisted coding sessions.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrospect/internal/analyze"
	"github.com/fyrsmithlabs/retrospect/internal/claude"
	"github.com/fyrsmithlabs/retrospect/internal/config"
	"github.com/fyrsmithlabs/retrospect/internal/ledger"
	"github.com/fyrsmithlabs/retrospect/internal/logging"
	"github.com/fyrsmithlabs/retrospect/internal/pipeline"
	"github.com/fyrsmithlabs/retrospect/internal/report"
	"github.com/fyrsmithlabs/retrospect/internal/skills"
	"github.com/fyrsmithlabs/retrospect/internal/transcript"
	"github.com/fyrsmithlabs/retrospect/internal/verify"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "retrospect",
	Short: "Analyze AI coding session transcripts for configuration gaps",
	Long: `retrospect analyzes recorded AI-assisted coding sessions and surfaces
configuration gaps: instructions the user gave repeatedly that should become
permanent rules, skills that existed but were never invoked, and skills that
were invoked but produced output the user had to correct.

It runs as an offline two-stage batch: a fast broad scan produces candidate
findings, and a stricter verification pass confirms or rejects each one
against the full transcript.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/retrospect/config.yaml)")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(resetCmd)
}

// app bundles the wired services a command needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	ledger  *ledger.Ledger
	reports *report.Store
	service *pipeline.Service
}

// close flushes the logger.
func (a *app) close() {
	_ = logging.Sync(a.logger)
}

// setup loads config, the skill and rule collaborators, the ledger, and
// wires the pipeline. Failures here are the only unrecoverable errors:
// per-session problems later are logged and skipped.
func setup(verifyModelOverride string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	catalog, err := skills.LoadCatalog(cfg.SkillsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("loading skill catalog: %w", err)
	}
	rules, err := skills.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	led, err := ledger.Open(ledgerPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	verifyModel := cfg.Claude.VerifyModel
	if verifyModelOverride != "" {
		verifyModel = verifyModelOverride
	}

	scanClient, err := newClient(cfg, cfg.Claude.ScanModel)
	if err != nil {
		return nil, err
	}
	verifyClient, err := newClient(cfg, verifyModel)
	if err != nil {
		return nil, err
	}

	reports := report.NewStore(cfg.DataDir)
	service := pipeline.NewService(
		logger,
		transcript.NewReader(),
		analyze.NewAnalyzer(scanClient, logger),
		verify.NewVerifier(verifyClient, logger),
		led,
		reports,
		catalog,
		rules,
		cfg.Claude.ScanModel,
		verifyModel,
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		ledger:  led,
		reports: reports,
		service: service,
	}, nil
}

func newClient(cfg *config.Config, model string) (*claude.Client, error) {
	client, err := claude.New(claude.Config{
		APIKey:          cfg.Claude.APIKey,
		BaseURL:         cfg.Claude.BaseURL,
		Model:           model,
		MaxTokens:       cfg.Claude.MaxTokens,
		Timeout:         time.Duration(cfg.Claude.TimeoutSeconds) * time.Second,
		MaxRetries:      cfg.Claude.MaxRetries,
		RequestInterval: time.Duration(cfg.Claude.RequestDelayMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("creating claude client (%s): %w", model, err)
	}
	return client, nil
}

func ledgerPath(cfg *config.Config) string {
	return cfg.DataDir + "/ledger.json"
}
