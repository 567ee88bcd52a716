package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the progress ledger so the next scan reprocesses everything",
	RunE:  runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := setup("")
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.ledger.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "Ledger cleared.")
	return nil
}
