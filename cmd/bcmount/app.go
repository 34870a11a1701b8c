package main

import (
	"errors"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/sigreer/bcmount/internal/blockdev"
	"github.com/sigreer/bcmount/internal/cache"
	"github.com/sigreer/bcmount/internal/config"
	"github.com/sigreer/bcmount/internal/history"
	"github.com/sigreer/bcmount/internal/key"
	"github.com/sigreer/bcmount/internal/keyring"
	"github.com/sigreer/bcmount/internal/logging"
	"github.com/sigreer/bcmount/internal/mount"
	"github.com/sigreer/bcmount/internal/mounter"
	"github.com/sigreer/bcmount/internal/resolve"
	"github.com/sigreer/bcmount/internal/superblock"
	"github.com/sigreer/bcmount/internal/unlock"
)

// app holds the components built for one invocation
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	fs       afero.Fs
	sysfs    *blockdev.Sysfs
	resolver *resolve.Resolver
	history  *history.DB
}

func newApp() (*app, error) {
	log := logging.New(os.Stderr, verbosity, colorize)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	enum, err := blockdev.New(cfg.Discovery, fs)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		fs:    fs,
		sysfs: blockdev.NewSysfs(fs),
		resolver: &resolve.Resolver{
			Probe: superblock.NewProber(fs, keyring.Kernel{}),
			Devices: &blockdev.Cached{
				Enumerator: enum,
				Cache:      cache.Global(),
				TTL:        cfg.EnumerationTTL,
				Log:        log,
			},
			Log: log,
		},
	}
	return a, nil
}

var errHistoryDisabled = errors.New("mount history is disabled (set history.enabled in the config)")

// openHistory opens the journal once per invocation
func (a *app) openHistory() (*history.DB, error) {
	if a.history != nil {
		return a.history, nil
	}
	if !a.cfg.History.Enabled {
		return nil, errHistoryDisabled
	}
	db, err := history.New(a.cfg.History.Path)
	if err != nil {
		return nil, err
	}
	a.history = db
	return db, nil
}

// deferredHistory opens the journal on the first record, which the mounter
// makes only after the mount has run
type deferredHistory struct {
	a *app
}

func (d *deferredHistory) RecordAttempt(at *history.Attempt) error {
	db, err := d.a.openHistory()
	if err != nil {
		return err
	}
	return db.RecordAttempt(at)
}

func (a *app) mounter() *mounter.Mounter {
	m := &mounter.Mounter{
		Resolver: a.resolver,
		Unlocker: &unlock.Orchestrator{
			Keys: &key.Source{
				Fs:           a.fs,
				Keys:         keyring.Kernel{},
				Clock:        clockwork.NewRealClock(),
				PollInterval: a.cfg.WaitInterval,
				Prompt:       key.NewTerminal(),
				Log:          a.log,
			},
			Log: a.log,
		},
		Invoker: mount.NewInvoker(a.log),
		Log:     a.log,
	}
	if a.cfg.History.Enabled {
		m.History = &deferredHistory{a: a}
	}
	return m
}

func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
}
