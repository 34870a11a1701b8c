// Package mounter runs one mount request end to end: resolve the
// filesystem, unlock it if needed, then mount it or report what would be
// mounted.
package mounter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sigreer/bcmount/internal/history"
	"github.com/sigreer/bcmount/internal/mount"
	"github.com/sigreer/bcmount/internal/mountopts"
	"github.com/sigreer/bcmount/internal/resolve"
	"github.com/sigreer/bcmount/internal/superblock"
	"github.com/sigreer/bcmount/internal/unlock"
)

// Resolver finds the member devices of a filesystem
type Resolver interface {
	Resolve(ctx context.Context, spec string) (*resolve.Filesystem, error)
}

// Unlocker makes sure an encrypted filesystem's key is available
type Unlocker interface {
	Unlock(ctx context.Context, h superblock.Handle, passphraseFile string, policy unlock.Policy) (unlock.State, error)
}

// Invoker performs the mount
type Invoker interface {
	Mount(devices, target, fstype string, opts mountopts.Options) error
}

// Recorder journals attempts
type Recorder interface {
	RecordAttempt(a *history.Attempt) error
}

// Request describes one invocation
type Request struct {
	Specifier string
	// Target is the mount point; empty means dry run
	Target         string
	Options        string
	PassphraseFile string
	Policy         unlock.Policy
	FSType         string
}

// DryRun reports whether the request only resolves and unlocks
func (r Request) DryRun() bool {
	return r.Target == ""
}

// Result describes what was (or would have been) mounted
type Result struct {
	Filesystem  *resolve.Filesystem
	Devices     string
	Options     mountopts.Options
	UnlockState unlock.State
	DryRun      bool
}

// Mounter wires the stages together. History may be nil.
type Mounter struct {
	Resolver Resolver
	Unlocker Unlocker
	Invoker  Invoker
	History  Recorder
	Log      zerolog.Logger
}

// Mount runs req and records the outcome
func (m *Mounter) Mount(ctx context.Context, req Request) (*Result, error) {
	res, err := m.run(ctx, req)
	m.record(req, res, err)
	return res, err
}

func (m *Mounter) run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{
		Options: mountopts.Classify(req.Options),
		DryRun:  req.DryRun(),
	}

	fs, err := m.Resolver.Resolve(ctx, req.Specifier)
	if err != nil {
		return res, err
	}
	if fs == nil || len(fs.Devices) == 0 {
		return res, fmt.Errorf("%w: %s", resolve.ErrNotFound, req.Specifier)
	}
	res.Filesystem = fs
	res.Devices = fs.DeviceList()

	m.Log.Debug().
		Str("uuid", fs.Representative().Identity().String()).
		Strs("devices", fs.Paths()).
		Msg("resolved filesystem")

	res.UnlockState, err = m.Unlocker.Unlock(ctx, fs.Representative(), req.PassphraseFile, req.Policy)
	if err != nil {
		return res, err
	}

	if res.DryRun {
		m.Log.Info().
			Str("devices", res.Devices).
			Str("options", res.Options.String()).
			Msg("would mount with params")
		return res, nil
	}

	fstype := req.FSType
	if fstype == "" {
		fstype = mount.FSType
	}

	if err := m.Invoker.Mount(res.Devices, req.Target, fstype, res.Options); err != nil {
		return res, err
	}
	return res, nil
}

func (m *Mounter) record(req Request, res *Result, runErr error) {
	if m.History == nil {
		return
	}

	a := &history.Attempt{
		Specifier: req.Specifier,
		Target:    req.Target,
		Options:   req.Options,
		Outcome:   history.OutcomeMounted,
	}
	if res != nil {
		a.Devices = res.Devices
		a.UnlockState = res.UnlockState.String()
		if fs := res.Filesystem; fs != nil && len(fs.Devices) > 0 {
			a.UUID = fs.Representative().Identity().String()
		}
	}
	switch {
	case runErr != nil:
		a.Outcome = history.OutcomeFailed
		a.Error = runErr.Error()
	case req.DryRun():
		a.Outcome = history.OutcomeDryRun
	}

	if err := m.History.RecordAttempt(a); err != nil {
		m.Log.Warn().Err(err).Msg("failed to record mount attempt")
	}
}
