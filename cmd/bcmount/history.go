package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigreer/bcmount/internal/history"
	"github.com/sigreer/bcmount/internal/report"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded mount attempts",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of attempts to show")
	historyCmd.Flags().String("uuid", "", "only attempts on this filesystem")
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	fsUUID, _ := cmd.Flags().GetString("uuid")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	db, err := a.openHistory()
	if err != nil {
		return fmt.Errorf("mount history at %s: %w", a.cfg.History.Path, err)
	}

	var attempts []*history.Attempt
	if fsUUID != "" {
		attempts, err = db.AttemptsForUUID(fsUUID, limit)
	} else {
		attempts, err = db.RecentAttempts(limit)
	}
	if err != nil {
		return err
	}

	report.PrintHistory(cmd.OutOrStdout(), attempts)
	return nil
}
