package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/retrospect/internal/report"
)

var pipelineFlags struct {
	model string
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run scan then verify in one pass",
	Long: `Pipeline runs the full two-stage analysis: scan every matching session,
persist the candidate report, then verify each candidate against the full
transcript and persist the verification report.

Stage two reads the persisted stage-one report, so an interrupted pipeline
can be resumed with 'retrospect verify'.`,
	RunE: runPipeline,
}

func init() {
	addScanFlags(pipelineCmd)
	pipelineCmd.Flags().StringVar(&pipelineFlags.model, "model", "", "override the verification model")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	a, err := setup(pipelineFlags.model)
	if err != nil {
		return err
	}
	defer a.close()

	scanReport, err := executeScan(cmd, a)
	if err != nil {
		return err
	}
	if scanReport == nil {
		return nil
	}
	if scanReport.TotalFindings == 0 {
		fmt.Fprintln(os.Stdout, "\nScan complete, nothing to verify.")
		return nil
	}

	sourcePath := filepath.Join(a.cfg.DataDir, "latest.json")
	verifyReport, err := a.service.Verify(cmd.Context(), scanReport, sourcePath, scanOptions(a))
	if err != nil {
		return err
	}
	if verifyReport != nil {
		fmt.Fprintln(os.Stdout)
		report.RenderVerify(os.Stdout, verifyReport)
	}
	return nil
}
