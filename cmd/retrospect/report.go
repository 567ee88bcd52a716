package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/retrospect/internal/report"
)

var reportFlags struct {
	verified bool
	raw      bool
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the latest scan or verification report",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportFlags.verified, "verified", false, "print the verification report instead of the scan report")
	reportCmd.Flags().BoolVar(&reportFlags.raw, "json", false, "print raw JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := setup("")
	if err != nil {
		return err
	}
	defer a.close()

	if reportFlags.verified {
		rep, err := a.reports.LatestVerify()
		if err != nil {
			if errors.Is(err, report.ErrNoReport) {
				return errors.New("no verification report found; run 'retrospect verify' first")
			}
			return err
		}
		return printReport(rep, func() { report.RenderVerify(os.Stdout, rep) })
	}

	rep, err := a.reports.LatestScan()
	if err != nil {
		if errors.Is(err, report.ErrNoReport) {
			return errors.New("no scan report found; run 'retrospect scan' first")
		}
		return err
	}
	return printReport(rep, func() { report.RenderScan(os.Stdout, rep) })
}

func printReport(v any, render func()) error {
	if !reportFlags.raw {
		render()
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
