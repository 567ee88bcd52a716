package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/retrospect/internal/pipeline"
	"github.com/fyrsmithlabs/retrospect/internal/report"
)

var scanFlags struct {
	all         bool
	dryRun      bool
	exclude     []string
	minMessages int
	sessionID   string
	limit       int
	concurrency int
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the broad first-pass analysis over session transcripts",
	Long: `Scan discovers session logs, condenses each into a bounded transcript,
and runs the fast classifier to produce candidate findings. Sessions already
processed at their current content version are skipped unless --all is set.

Examples:
  # Analyze everything new
  retrospect scan

  # List what would be analyzed without calling the model
  retrospect scan --dry-run

  # One session, reprocessed
  retrospect scan --session 7f3a2b1c --all`,
	RunE: runScan,
}

func init() {
	addScanFlags(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&scanFlags.all, "all", false, "reprocess sessions the ledger already covers")
	cmd.Flags().BoolVar(&scanFlags.dryRun, "dry-run", false, "list matching sessions without analyzing")
	cmd.Flags().StringSliceVar(&scanFlags.exclude, "exclude", nil, "skip sessions whose log path contains this substring (repeatable)")
	cmd.Flags().IntVar(&scanFlags.minMessages, "min-messages", 0, "skip sessions with fewer messages")
	cmd.Flags().StringVar(&scanFlags.sessionID, "session", "", "analyze a single session by id")
	cmd.Flags().IntVar(&scanFlags.limit, "limit", 0, "cap the number of sessions analyzed")
	cmd.Flags().IntVar(&scanFlags.concurrency, "concurrency", 0, "max concurrent sessions (default from config)")
}

func scanOptions(a *app) pipeline.Options {
	concurrency := scanFlags.concurrency
	if concurrency <= 0 {
		concurrency = a.cfg.Concurrency
	}
	return pipeline.Options{
		Concurrency:  concurrency,
		ReprocessAll: scanFlags.all,
		ExcludePaths: scanFlags.exclude,
		MinMessages:  scanFlags.minMessages,
		SessionID:    scanFlags.sessionID,
		Limit:        scanFlags.limit,
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := setup("")
	if err != nil {
		return err
	}
	defer a.close()

	_, err = executeScan(cmd, a)
	return err
}

// executeScan runs discovery and stage one, honoring dry-run. Returns the
// scan report, or nil when the run short-circuited.
func executeScan(cmd *cobra.Command, a *app) (*report.ScanReport, error) {
	opts := scanOptions(a)

	sessions, err := a.service.Discover(a.cfg.SessionsDir, opts)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(os.Stdout, "No sessions to analyze.")
		return nil, nil
	}

	if scanFlags.dryRun {
		fmt.Fprintf(os.Stdout, "Would analyze %d session(s):\n", len(sessions))
		for _, info := range sessions {
			fmt.Fprintf(os.Stdout, "  %s  %s  (%s)\n", info.ID, info.ModifiedAt.Format("2006-01-02 15:04"), info.Path)
		}
		return nil, nil
	}

	rep, err := a.service.Scan(cmd.Context(), sessions, opts)
	if err != nil {
		return nil, err
	}
	if rep != nil {
		report.RenderScan(os.Stdout, rep)
	}
	return rep, nil
}
