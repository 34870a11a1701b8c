package mountopts

import (
	"maps"
	"slices"
	"strings"

	"golang.org/x/sys/unix"
)

// flagTable maps mount option keywords to kernel mount flags.
// Keywords mapping to 0 are accepted and contribute nothing.
var flagTable = map[string]uintptr{
	"dirsync":     unix.MS_DIRSYNC,
	"lazytime":    unix.MS_LAZYTIME,
	"mand":        unix.MS_MANDLOCK,
	"noatime":     unix.MS_NOATIME,
	"nodev":       unix.MS_NODEV,
	"nodiratime":  unix.MS_NODIRATIME,
	"noexec":      unix.MS_NOEXEC,
	"nosuid":      unix.MS_NOSUID,
	"relatime":    unix.MS_RELATIME,
	"remount":     unix.MS_REMOUNT,
	"ro":          unix.MS_RDONLY,
	"rw":          0,
	"strictatime": unix.MS_STRICTATIME,
	"sync":        unix.MS_SYNCHRONOUS,
	"":            0,
}

// flagNames lists the keywords in a stable order for String
var flagNames = slices.Sorted(maps.Keys(flagTable))

// Options is a classified mount option string
type Options struct {
	Flags uintptr
	// Data holds filesystem-specific options, nil when there are none
	Data *string
}

// Classify splits a comma-separated option string into kernel mount flags
// and filesystem-specific data. Unknown options are never rejected: they are
// passed through to the filesystem in the order they appeared.
func Classify(options string) Options {
	var opts Options
	var data []string

	for _, tok := range strings.Split(options, ",") {
		if flag, ok := flagTable[tok]; ok {
			opts.Flags |= flag
			continue
		}
		data = append(data, tok)
	}

	if len(data) > 0 {
		joined := strings.Join(data, ",")
		opts.Data = &joined
	}
	return opts
}

// isFlag reports whether the option keyword is a kernel mount flag
func isFlag(option string) bool {
	_, ok := flagTable[option]
	return ok
}

// Has reports whether every bit of flag is set
func (o Options) Has(flag uintptr) bool {
	return o.Flags&flag == flag
}

// String renders the options back as a comma-separated list, flags first
func (o Options) String() string {
	var parts []string
	for _, name := range flagNames {
		if name == "" || name == "rw" {
			continue
		}
		if o.Has(flagTable[name]) {
			parts = append(parts, name)
		}
	}
	if o.Data != nil && *o.Data != "" {
		parts = append(parts, *o.Data)
	}
	return strings.Join(parts, ",")
}

// DataString returns the filesystem data, or "" when there is none
func (o Options) DataString() string {
	if o.Data == nil {
		return ""
	}
	return *o.Data
}
