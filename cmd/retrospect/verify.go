package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/retrospect/internal/pipeline"
	"github.com/fyrsmithlabs/retrospect/internal/report"
)

var verifyFlags struct {
	reportPath  string
	model       string
	dryRun      bool
	concurrency int
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify candidate findings against full transcripts",
	Long: `Verify re-examines each session from the latest scan report (or a named
one) with the strict classifier, condensing the transcript in full mode.
Each candidate gets an explicit confirm or reject verdict; candidates the
classifier fails to address are rejected by default.

Examples:
  # Verify the latest scan
  retrospect verify

  # Verify a specific report with a different model
  retrospect verify --report scan-20260830-120000.json --model claude-sonnet-4-20250514`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFlags.reportPath, "report", "", "scan report to verify (default: latest)")
	verifyCmd.Flags().StringVar(&verifyFlags.model, "model", "", "override the verification model")
	verifyCmd.Flags().BoolVar(&verifyFlags.dryRun, "dry-run", false, "list candidate sessions without verifying")
	verifyCmd.Flags().IntVar(&verifyFlags.concurrency, "concurrency", 0, "max concurrent sessions (default from config)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := setup(verifyFlags.model)
	if err != nil {
		return err
	}
	defer a.close()

	src, sourcePath, err := loadSourceReport(a)
	if err != nil {
		return err
	}

	if verifyFlags.dryRun {
		count := 0
		for _, sess := range src.Sessions {
			if len(sess.Findings) > 0 {
				fmt.Fprintf(os.Stdout, "  %s  %d finding(s)\n", sess.SessionID, len(sess.Findings))
				count++
			}
		}
		fmt.Fprintf(os.Stdout, "Would verify %d session(s).\n", count)
		return nil
	}

	concurrency := verifyFlags.concurrency
	if concurrency <= 0 {
		concurrency = a.cfg.Concurrency
	}
	rep, err := a.service.Verify(cmd.Context(), src, sourcePath, pipeline.Options{Concurrency: concurrency})
	if err != nil {
		return err
	}
	if rep == nil {
		fmt.Fprintln(os.Stdout, "Nothing to verify.")
		return nil
	}
	report.RenderVerify(os.Stdout, rep)
	return nil
}

// loadSourceReport resolves the stage-one report verification reads from.
func loadSourceReport(a *app) (*report.ScanReport, string, error) {
	if verifyFlags.reportPath != "" {
		path := verifyFlags.reportPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.cfg.DataDir, path)
		}
		src, err := a.reports.LoadScan(path)
		if err != nil {
			return nil, "", fmt.Errorf("loading scan report: %w", err)
		}
		return src, path, nil
	}

	src, err := a.reports.LatestScan()
	if err != nil {
		if errors.Is(err, report.ErrNoReport) {
			return nil, "", errors.New("no scan report found; run 'retrospect scan' first")
		}
		return nil, "", err
	}
	return src, filepath.Join(a.cfg.DataDir, "latest.json"), nil
}
