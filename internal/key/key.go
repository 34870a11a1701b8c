// Package key obtains the key for an encrypted bcachefs filesystem and
// hands it to the kernel keyring.
package key

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/scrypt"

	"github.com/sigreer/bcmount/internal/keyring"
	"github.com/sigreer/bcmount/internal/superblock"
)

var (
	// ErrWrongPassphrase is returned when the derived key does not decrypt the master key
	ErrWrongPassphrase = errors.New("incorrect passphrase")
	// ErrNotEncrypted is returned when asked to unlock a filesystem without a crypt field
	ErrNotEncrypted = errors.New("filesystem is not encrypted")
)

// DefaultPollInterval is how often Wait checks the keyring
const DefaultPollInterval = time.Second

// keySize is the size of a bcachefs key (struct bch_key)
const keySize = 32

// Source unlocks filesystems from a passphrase file, another process, or the user
type Source struct {
	Fs           afero.Fs
	Keys         keyring.Keyring
	Clock        clockwork.Clock
	PollInterval time.Duration
	Prompt       Prompter
	Log          zerolog.Logger
}

// UnlockFromFile derives the key from the contents of a passphrase file
func (s *Source) UnlockFromFile(_ context.Context, h superblock.Handle, path string) error {
	data, err := afero.ReadFile(s.Fs, path)
	if err != nil {
		return fmt.Errorf("read passphrase file: %w", err)
	}
	defer wipe(data)

	return s.Unlock(h, bytes.TrimRight(data, "\r\n"))
}

// Wait blocks until some other agent installs the filesystem's key or ctx ends
func (s *Source) Wait(ctx context.Context, h superblock.Handle) error {
	desc := keyring.Description(h.Identity())
	if s.Keys.Has(desc) {
		return nil
	}

	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	s.Log.Info().Str("key", desc).Msg("waiting for key to become available")
	ticker := s.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", desc, ctx.Err())
		case <-ticker.Chan():
			if s.Keys.Has(desc) {
				return nil
			}
		}
	}
}

// Ask prompts for a passphrase once and unlocks with it
func (s *Source) Ask(_ context.Context, h superblock.Handle) error {
	if s.Prompt == nil {
		return errors.New("no passphrase prompt available")
	}

	pass, err := s.Prompt.ReadPassphrase(fmt.Sprintf("Enter passphrase for %s: ", h.Identity()))
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}
	defer wipe(pass)

	return s.Unlock(h, pass)
}

// Unlock checks passphrase against the master key and installs the derived key
func (s *Source) Unlock(h superblock.Handle, passphrase []byte) error {
	crypt := h.Crypt()
	if crypt == nil {
		return ErrNotEncrypted
	}

	derived, err := Derive(passphrase, crypt)
	if err != nil {
		return err
	}
	defer wipe(derived)

	if err := checkKey(derived, crypt); err != nil {
		return err
	}

	desc := keyring.Description(h.Identity())
	if err := s.Keys.Add(desc, derived); err != nil {
		return err
	}
	s.Log.Debug().Str("key", desc).Msg("key added to keyring")
	return nil
}

// Derive runs the filesystem's key derivation function over passphrase
func Derive(passphrase []byte, crypt *superblock.Crypt) ([]byte, error) {
	if kdf := crypt.KDFType(); kdf != superblock.KDFScrypt {
		return nil, fmt.Errorf("unsupported key derivation function %d", kdf)
	}

	derived, err := scrypt.Key(passphrase, nil,
		1<<crypt.ScryptN(), 1<<crypt.ScryptR(), 1<<crypt.ScryptP(), keySize)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	return derived, nil
}

// checkKey decrypts the master key with derived and verifies its magic
func checkKey(derived []byte, crypt *superblock.Crypt) error {
	c, err := chacha20.NewUnauthenticatedCipher(derived, crypt.Nonce[:])
	if err != nil {
		return err
	}

	plain := make([]byte, superblock.EncryptedKeySize)
	defer wipe(plain)
	c.XORKeyStream(plain, crypt.Key[:])

	if binary.LittleEndian.Uint64(plain[:8]) != superblock.KeyMagic {
		return ErrWrongPassphrase
	}
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
