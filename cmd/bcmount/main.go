package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// helperName is the name mount(8) runs for -t bcachefs
const helperName = "mount.bcachefs"

var (
	cfgFile   string
	colorize  bool
	verbosity int
)

var rootCmd = &cobra.Command{
	Use:   "bcmount",
	Short: "Mount bcachefs filesystems",
	Long: `bcmount resolves a bcachefs filesystem from a device, a colon-separated
device list or UUID=<uuid>, unlocks it when it is encrypted, and mounts it.

Installed as mount.bcachefs it acts as the mount(8) helper:
  mount.bcachefs <device> <mountpoint> [-o options]`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/bcmount/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&colorize, "colorize", "c", isatty.IsTerminal(os.Stderr.Fd()), "colorize log output")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "verbose logging, repeat for more")

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// helperArgs rewrites argv for the mount(8) helper form
func helperArgs(argv []string) []string {
	if len(argv) == 0 {
		return nil
	}
	if filepath.Base(argv[0]) == helperName {
		return append([]string{"mount"}, argv[1:]...)
	}
	return argv[1:]
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetArgs(helperArgs(os.Args))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
