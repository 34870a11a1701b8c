// Package report renders resolved filesystems and mount history.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/sigreer/bcmount/internal/history"
	"github.com/sigreer/bcmount/internal/resolve"
	"github.com/sigreer/bcmount/internal/superblock"
)

// Sizer reports a block device's size
type Sizer interface {
	SizeBytes(devPath string) (uint64, bool)
}

// Member is one device of a resolved filesystem
type Member struct {
	Path      string `json:"path"`
	DevIdx    *uint8 `json:"dev_idx,omitempty"`
	SizeBytes uint64 `json:"size_bytes,omitempty"`
	Size      string `json:"size,omitempty"`
}

// Filesystem is the printable result of resolving one specifier
type Filesystem struct {
	Query     string   `json:"query"`
	UUID      string   `json:"uuid"`
	Label     string   `json:"label,omitempty"`
	NrDevices int      `json:"nr_devices,omitempty"`
	Encrypted bool     `json:"encrypted"`
	Locked    bool     `json:"locked"`
	DevList   string   `json:"device_list"`
	Members   []Member `json:"members"`
}

// Build describes fs, sizing members through sizer when it is not nil
func Build(query string, fs *resolve.Filesystem, sizer Sizer) *Filesystem {
	out := &Filesystem{
		Query:   query,
		DevList: fs.DeviceList(),
		Members: make([]Member, 0, len(fs.Devices)),
	}

	if rep := fs.Representative(); rep != nil {
		out.UUID = rep.Identity().String()
		out.Encrypted = rep.Crypt() != nil && rep.Crypt().KeyEncrypted()
		out.Locked = rep.IsEncryptedAndLocked()
		if sb, ok := rep.(*superblock.Superblock); ok {
			out.Label = sb.Label
			out.NrDevices = int(sb.NrDevices)
		}
	}

	for _, d := range fs.Devices {
		m := Member{Path: d.Path}
		if sb, ok := d.Superblock.(*superblock.Superblock); ok {
			idx := sb.DevIdx
			m.DevIdx = &idx
		}
		if sizer != nil {
			if size, ok := sizer.SizeBytes(d.Path); ok {
				m.SizeBytes = size
				m.Size = humanize.IBytes(size)
			}
		}
		out.Members = append(out.Members, m)
	}

	return out
}

// PrintJSON outputs the filesystems as JSON
func PrintJSON(w io.Writer, filesystems []*Filesystem) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(filesystems)
}

// PrintTable outputs each filesystem as a formatted table
func PrintTable(w io.Writer, filesystems []*Filesystem) {
	for i, fs := range filesystems {
		if i > 0 {
			fmt.Fprintln(w)
		}

		fmt.Fprintf(w, "Query:      %s\n", fs.Query)
		fmt.Fprintf(w, "UUID:       %s\n", fs.UUID)
		printField(w, "Label:     ", fs.Label)
		fmt.Fprintf(w, "Encryption: %s\n", encryption(fs))
		if fs.NrDevices > 0 {
			fmt.Fprintf(w, "Members:    %d of %d\n", len(fs.Members), fs.NrDevices)
		}
		fmt.Fprintln(w)

		fmt.Fprintf(w, "%-24s %-6s %s\n", "DEVICE", "INDEX", "SIZE")
		fmt.Fprintln(w, strings.Repeat("-", 44))
		for _, m := range fs.Members {
			idx := "-"
			if m.DevIdx != nil {
				idx = fmt.Sprintf("%d", *m.DevIdx)
			}
			size := m.Size
			if size == "" {
				size = "-"
			}
			fmt.Fprintf(w, "%-24s %-6s %s\n", m.Path, idx, size)
		}
	}
}

// PrintQuiet outputs only the colon-joined device lists
func PrintQuiet(w io.Writer, filesystems []*Filesystem) {
	for _, fs := range filesystems {
		fmt.Fprintln(w, fs.DevList)
	}
}

// PrintHistory outputs recorded attempts, newest first
func PrintHistory(w io.Writer, attempts []*history.Attempt) {
	if len(attempts) == 0 {
		fmt.Fprintln(w, "No mount attempts recorded")
		return
	}

	fmt.Fprintf(w, "%-16s %-9s %-30s %-16s %s\n", "WHEN", "OUTCOME", "SPECIFIER", "TARGET", "DETAIL")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, a := range attempts {
		target := a.Target
		if target == "" {
			target = "-"
		}
		detail := a.Devices
		if a.Error != "" {
			detail = a.Error
		}
		fmt.Fprintf(w, "%-16s %-9s %-30s %-16s %s\n",
			humanize.Time(a.Timestamp), a.Outcome, truncate(a.Specifier, 30), target, detail)
	}
}

func encryption(fs *Filesystem) string {
	switch {
	case !fs.Encrypted:
		return "none"
	case fs.Locked:
		return "locked"
	default:
		return "unlocked"
	}
}

// printField prints a field if value is non-empty
func printField(w io.Writer, label, value string) {
	if value != "" {
		fmt.Fprintf(w, "%s %s\n", label, value)
	}
}

// truncate shortens s to n runes, marking the cut with "..."
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
