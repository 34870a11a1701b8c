package blockdev

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// Lsblk enumerates block devices from lsblk's JSON output
type Lsblk struct {
	// Run executes a command and returns its stdout
	Run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewLsblk returns an enumerator running the system lsblk
func NewLsblk() *Lsblk {
	return &Lsblk{Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).Output()
	}}
}

type lsblkOutput struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Path     string        `json:"path"`
	Children []lsblkDevice `json:"children,omitempty"`
}

func (l *Lsblk) ListBlockDevices(ctx context.Context) ([]string, error) {
	out, err := l.Run(ctx, "lsblk", "-J", "-p", "-o", "PATH")
	if err != nil {
		return nil, fmt.Errorf("%w: lsblk: %w", ErrEnumerationFailed, err)
	}

	var output lsblkOutput
	if err := json.Unmarshal(out, &output); err != nil {
		return nil, fmt.Errorf("%w: parse lsblk output: %w", ErrEnumerationFailed, err)
	}

	var devs []string
	seen := make(map[string]bool)
	for _, dev := range output.Blockdevices {
		collectPaths(dev, seen, &devs)
	}
	return devs, nil
}

// collectPaths walks the device tree depth first; a device shared by several
// parents (e.g. a dm target over two disks) is listed once.
func collectPaths(dev lsblkDevice, seen map[string]bool, devs *[]string) {
	if dev.Path != "" && !seen[dev.Path] {
		seen[dev.Path] = true
		*devs = append(*devs, dev.Path)
	}
	for _, child := range dev.Children {
		collectPaths(child, seen, devs)
	}
}
