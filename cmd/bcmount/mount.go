package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigreer/bcmount/internal/mounter"
	"github.com/sigreer/bcmount/internal/unlock"
)

var (
	mountOptions   string
	passphraseFile string
	keyLocation    = unlock.PolicyAsk
)

// mountRunner runs one mount request
type mountRunner interface {
	Mount(ctx context.Context, req mounter.Request) (*mounter.Result, error)
}

var newMountRunner = func(a *app) mountRunner { return a.mounter() }

var mountCmd = &cobra.Command{
	Use:   "mount <device> [mountpoint]",
	Short: "Mount a bcachefs filesystem",
	Long: `Mount a bcachefs filesystem.

<device> is a device path, a colon-separated list of member devices, or
UUID=<uuid> (OLD_BLKID_UUID=<uuid> is also accepted). A single device is
expanded to every device of its filesystem.

Without a mountpoint the filesystem is resolved and unlocked but not mounted.

Examples:
  bcmount mount /dev/sda /mnt
  bcmount mount /dev/sda:/dev/sdb /mnt -o noatime,degraded
  bcmount mount UUID=2f4ca112-c476-4f4e-8d0a-1f3a4a8e9b77 /mnt -k wait
  bcmount mount -f /etc/bcachefs.key /dev/nvme0n1p3 /srv`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runMount,
}

func init() {
	mountCmd.Flags().StringVarP(&mountOptions, "options", "o", "", "mount options, comma-separated")
	mountCmd.Flags().StringVarP(&passphraseFile, "passphrase_file", "f", "", "read the passphrase from this file")
	mountCmd.Flags().VarP(&keyLocation, "key_location", "k", "how to get the key when it is not loaded: fail, wait, ask")
}

func runMount(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	policy := keyLocation
	if !cmd.Flags().Changed("key_location") {
		if policy, err = unlock.ParsePolicy(a.cfg.UnlockPolicy); err != nil {
			return err
		}
	}

	req := mounter.Request{
		Specifier:      args[0],
		Options:        mountOptions,
		PassphraseFile: passphraseFile,
		Policy:         policy,
		FSType:         a.cfg.FSType,
	}
	if len(args) > 1 {
		req.Target = args[1]
	}

	res, err := newMountRunner(a).Mount(cmd.Context(), req)
	if err != nil {
		return err
	}

	if res.DryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "would mount %s with options %q\n", res.Devices, res.Options.String())
		return nil
	}
	a.log.Info().Str("target", req.Target).Msg("Successfully mounted")
	return nil
}
