package blockdev

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Sysfs enumerates block devices from /sys/class/block (no process spawning).
// Partitions are included, since a filesystem member may live on one.
type Sysfs struct {
	Fs       afero.Fs
	Root     string // /sys/class/block
	UdevData string // /run/udev/data
}

// NewSysfs returns a sysfs enumerator rooted at the standard locations
func NewSysfs(fs afero.Fs) *Sysfs {
	return &Sysfs{
		Fs:       fs,
		Root:     "/sys/class/block",
		UdevData: "/run/udev/data",
	}
}

func (s *Sysfs) ListBlockDevices(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(s.Fs, s.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}

	devs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		devs = append(devs, s.devNode(entry.Name()))
	}
	return devs, nil
}

// devNode finds the /dev node for a kernel block device name
func (s *Sysfs) devNode(name string) string {
	uevent := s.readUevent(name)
	if devName := uevent["DEVNAME"]; devName != "" {
		return filepath.Join("/dev", devName)
	}

	// The udev database records the node name on its N: line
	if major, minor := uevent["MAJOR"], uevent["MINOR"]; major != "" && minor != "" {
		if node := s.udevNodeName(major + ":" + minor); node != "" {
			return filepath.Join("/dev", node)
		}
	}

	return filepath.Join("/dev", name)
}

// readUevent parses KEY=VALUE lines from the device's uevent file
func (s *Sysfs) readUevent(name string) map[string]string {
	vals := make(map[string]string)

	data, err := afero.ReadFile(s.Fs, filepath.Join(s.Root, name, "uevent"))
	if err != nil {
		return vals
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "=", 2)
		if len(parts) != 2 {
			continue
		}
		vals[parts[0]] = parts[1]
	}
	return vals
}

func (s *Sysfs) udevNodeName(majMin string) string {
	data, err := afero.ReadFile(s.Fs, filepath.Join(s.UdevData, "b"+majMin))
	if err != nil {
		return ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "N:") {
			return strings.TrimPrefix(line, "N:")
		}
	}
	return ""
}

// SizeBytes returns the size of the device behind a /dev node
func (s *Sysfs) SizeBytes(devPath string) (uint64, bool) {
	data, err := afero.ReadFile(s.Fs, filepath.Join(s.Root, filepath.Base(devPath), "size"))
	if err != nil {
		return 0, false
	}

	// size is always in 512-byte sectors
	sectors, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return sectors * 512, true
}
