// Package mount performs the privileged mount(2) call for a resolved filesystem.
package mount

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/sigreer/bcmount/internal/mountopts"
)

// FSType is the filesystem type passed to mount(2)
const FSType = "bcachefs"

// ErrMountFailed matches every error returned by the mount syscall
var ErrMountFailed = errors.New("mount failed")

// ErrInvalidArgument is returned when an argument cannot be passed to the
// kernel at all; mount(2) is not called
var ErrInvalidArgument = errors.New("invalid mount argument")

// Error is a failed mount(2) call
type Error struct {
	Source string
	Target string
	Errno  unix.Errno
}

func (e *Error) Error() string {
	return fmt.Sprintf("mount %s on %s: %v", e.Source, e.Target, e.Errno)
}

func (e *Error) Is(target error) bool { return target == ErrMountFailed }

func (e *Error) Unwrap() error { return e.Errno }

// Func is the mount primitive; data is nil when there is no filesystem data
type Func func(source, target, fstype string, flags uintptr, data *string) error

// Invoker mounts filesystems
type Invoker struct {
	Syscall Func
	Log     zerolog.Logger
}

// NewInvoker returns an invoker calling the real mount(2)
func NewInvoker(log zerolog.Logger) *Invoker {
	return &Invoker{Syscall: Syscall, Log: log}
}

// Mount mounts the colon-joined device list on target. Requires CAP_SYS_ADMIN.
// A failed mount is reported once and never retried.
func (i *Invoker) Mount(devices, target, fstype string, opts mountopts.Options) error {
	i.Log.Info().
		Str("devices", devices).
		Str("target", target).
		Str("fstype", fstype).
		Str("flags", fmt.Sprintf("%#x", opts.Flags)).
		Str("data", opts.DataString()).
		Msg("mounting filesystem")

	err := i.Syscall(devices, target, fstype, opts.Flags, opts.Data)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidArgument) {
		return err
	}

	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%w: %s on %s: %w", ErrMountFailed, devices, target, err)
	}
	return &Error{Source: devices, Target: target, Errno: errno}
}
