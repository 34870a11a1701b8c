package main

import (
	"github.com/spf13/cobra"

	"github.com/sigreer/bcmount/internal/report"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <device>...",
	Short: "Show the member devices of bcachefs filesystems",
	Long: `Resolve device specifiers the way mount does and print the members.

Examples:
  bcmount resolve /dev/sda
  bcmount resolve UUID=2f4ca112-c476-4f4e-8d0a-1f3a4a8e9b77 -o table
  bcmount resolve /dev/sda /dev/sdc -q`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringP("output", "o", "json", "Output format: json, table")
	resolveCmd.Flags().BoolP("quiet", "q", false, "Only output the colon-joined device list")
}

func runResolve(cmd *cobra.Command, args []string) error {
	outputFmt, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// all specifiers share the cached enumeration pass
	var results []*report.Filesystem
	for _, spec := range args {
		fs, err := a.resolver.Resolve(cmd.Context(), spec)
		if err != nil {
			return err
		}
		results = append(results, report.Build(spec, fs, a.sysfs))
	}

	w := cmd.OutOrStdout()
	if quiet {
		report.PrintQuiet(w, results)
		return nil
	}

	switch outputFmt {
	case "table":
		report.PrintTable(w, results)
	default:
		return report.PrintJSON(w, results)
	}
	return nil
}
