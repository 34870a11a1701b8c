// Package unlock decides whether a filesystem needs a key and runs the
// ordered fallback chain that obtains one.
package unlock

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sigreer/bcmount/internal/superblock"
)

// ErrLockedFilesystem is returned when every way of obtaining the key failed
var ErrLockedFilesystem = errors.New("filesystem is encrypted and locked")

// State of a filesystem's key
type State int

const (
	StateUnencrypted State = iota
	StateNeedsKey
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateUnencrypted:
		return "unencrypted"
	case StateNeedsKey:
		return "needs_key"
	case StateUnlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// KeySource obtains keys; see key.Source
type KeySource interface {
	UnlockFromFile(ctx context.Context, h superblock.Handle, path string) error
	Wait(ctx context.Context, h superblock.Handle) error
	Ask(ctx context.Context, h superblock.Handle) error
}

// Orchestrator runs the unlock sequence for one filesystem
type Orchestrator struct {
	Keys KeySource
	Log  zerolog.Logger
}

// Attempt is one way of obtaining the key
type Attempt struct {
	Name string
	Run  func(ctx context.Context) error
}

// Attempts returns the ordered unlock attempts: the passphrase file when one
// is given, then the policy.
func (o *Orchestrator) Attempts(h superblock.Handle, passphraseFile string, policy Policy) []Attempt {
	var attempts []Attempt

	if passphraseFile != "" {
		attempts = append(attempts, Attempt{
			Name: "passphrase_file",
			Run: func(ctx context.Context) error {
				return o.Keys.UnlockFromFile(ctx, h, passphraseFile)
			},
		})
	}

	return append(attempts, o.policyAttempt(h, policy))
}

func (o *Orchestrator) policyAttempt(h superblock.Handle, policy Policy) Attempt {
	var run func(ctx context.Context) error

	switch policy {
	case PolicyFail:
		run = func(context.Context) error {
			return errors.New("unlock policy is fail")
		}
	case PolicyWait:
		run = func(ctx context.Context) error { return o.Keys.Wait(ctx, h) }
	case PolicyAsk:
		run = func(ctx context.Context) error { return o.Keys.Ask(ctx, h) }
	default:
		run = func(context.Context) error {
			return fmt.Errorf("unknown unlock policy %s", policy)
		}
	}

	return Attempt{Name: "policy_" + policy.String(), Run: run}
}

// Unlock makes sure the kernel holds the key for h's filesystem. The first
// successful attempt wins; failures before the last attempt are logged and
// skipped, the last failure is returned.
func (o *Orchestrator) Unlock(ctx context.Context, h superblock.Handle, passphraseFile string, policy Policy) (State, error) {
	if !h.IsEncryptedAndLocked() {
		return StateUnencrypted, nil
	}

	o.Log.Debug().Str("uuid", h.Identity().String()).Msg("filesystem is encrypted and locked")

	attempts := o.Attempts(h, passphraseFile, policy)
	for i, a := range attempts {
		err := a.Run(ctx)
		if err == nil {
			o.Log.Debug().Str("attempt", a.Name).Msg("filesystem unlocked")
			return StateUnlocked, nil
		}

		if i == len(attempts)-1 {
			return StateNeedsKey, fmt.Errorf("%w: %s: %w", ErrLockedFilesystem, a.Name, err)
		}
		o.Log.Error().Err(err).Str("attempt", a.Name).Msg("unlock attempt failed, falling back")
	}

	// unreachable: attempts always ends with the policy
	return StateNeedsKey, ErrLockedFilesystem
}
