package key

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/chacha20"

	"github.com/sigreer/bcmount/internal/keyring"
	"github.com/sigreer/bcmount/internal/superblock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type handle struct {
	id    uuid.UUID
	crypt *superblock.Crypt
}

func (h *handle) Device() string             { return "/dev/sda" }
func (h *handle) Identity() uuid.UUID        { return h.id }
func (h *handle) Crypt() *superblock.Crypt   { return h.crypt }
func (h *handle) IsEncryptedAndLocked() bool { return h.crypt != nil }

// sealed builds a crypt field whose master key opens with passphrase
func sealed(t *testing.T, passphrase string) *handle {
	t.Helper()

	internal := uuid.New()
	c := &superblock.Crypt{Nonce: superblock.KeyNonce(internal)}
	c.SetScrypt(4, 3, 0)

	derived, err := Derive([]byte(passphrase), c)
	require.NoError(t, err)

	plain := make([]byte, superblock.EncryptedKeySize)
	binary.LittleEndian.PutUint64(plain, superblock.KeyMagic)
	copy(plain[8:], []byte("0123456789abcdef0123456789abcdef"))

	cipher, err := chacha20.NewUnauthenticatedCipher(derived, c.Nonce[:])
	require.NoError(t, err)
	cipher.XORKeyStream(c.Key[:], plain)
	require.True(t, c.KeyEncrypted())

	return &handle{id: uuid.New(), crypt: c}
}

func newSource(fs afero.Fs, keys keyring.Keyring, clock clockwork.Clock) *Source {
	return &Source{Fs: fs, Keys: keys, Clock: clock, PollInterval: time.Second, Log: zerolog.Nop()}
}

type countingPrompt struct {
	answer []byte
	err    error
	calls  int
}

func (p *countingPrompt) ReadPassphrase(string) ([]byte, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return append([]byte(nil), p.answer...), nil
}

func TestUnlockCorrectPassphrase(t *testing.T) {
	h := sealed(t, "hunter2")
	keys := keyring.NewMemory()
	s := newSource(afero.NewMemMapFs(), keys, clockwork.NewFakeClock())

	require.NoError(t, s.Unlock(h, []byte("hunter2")))

	want, err := Derive([]byte("hunter2"), h.crypt)
	require.NoError(t, err)
	got, err := keys.Get(keyring.Description(h.id))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUnlockWrongPassphrase(t *testing.T) {
	h := sealed(t, "hunter2")
	keys := keyring.NewMemory()
	s := newSource(afero.NewMemMapFs(), keys, clockwork.NewFakeClock())

	err := s.Unlock(h, []byte("hunter3"))
	assert.ErrorIs(t, err, ErrWrongPassphrase)
	assert.False(t, keys.Has(keyring.Description(h.id)))
}

func TestUnlockUnencrypted(t *testing.T) {
	s := newSource(afero.NewMemMapFs(), keyring.NewMemory(), clockwork.NewFakeClock())
	assert.ErrorIs(t, s.Unlock(&handle{id: uuid.New()}, []byte("x")), ErrNotEncrypted)
}

func TestDeriveRejectsUnknownKDF(t *testing.T) {
	c := &superblock.Crypt{Flags: 3}
	_, err := Derive([]byte("x"), c)
	assert.Error(t, err)
}

func TestUnlockFromFileTrimsNewline(t *testing.T) {
	h := sealed(t, "correct horse")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/keys/pool", []byte("correct horse\n"), 0o600))
	keys := keyring.NewMemory()
	s := newSource(fs, keys, clockwork.NewFakeClock())

	require.NoError(t, s.UnlockFromFile(context.Background(), h, "/etc/keys/pool"))
	assert.True(t, keys.Has(keyring.Description(h.id)))
}

func TestUnlockFromMissingFile(t *testing.T) {
	h := sealed(t, "x")
	s := newSource(afero.NewMemMapFs(), keyring.NewMemory(), clockwork.NewFakeClock())

	assert.Error(t, s.UnlockFromFile(context.Background(), h, "/nope"))
}

func TestAskPromptsOnce(t *testing.T) {
	h := sealed(t, "pw")
	prompt := &countingPrompt{answer: []byte("pw")}
	keys := keyring.NewMemory()
	s := newSource(afero.NewMemMapFs(), keys, clockwork.NewFakeClock())
	s.Prompt = prompt

	require.NoError(t, s.Ask(context.Background(), h))
	assert.Equal(t, 1, prompt.calls)
	assert.True(t, keys.Has(keyring.Description(h.id)))
}

func TestAskFailures(t *testing.T) {
	h := sealed(t, "pw")
	s := newSource(afero.NewMemMapFs(), keyring.NewMemory(), clockwork.NewFakeClock())

	assert.Error(t, s.Ask(context.Background(), h))

	s.Prompt = &countingPrompt{err: errors.New("no tty")}
	assert.Error(t, s.Ask(context.Background(), h))

	s.Prompt = &countingPrompt{answer: []byte("wrong")}
	assert.ErrorIs(t, s.Ask(context.Background(), h), ErrWrongPassphrase)
}

func TestWaitKeyAlreadyPresent(t *testing.T) {
	h := sealed(t, "pw")
	keys := keyring.NewMemory()
	require.NoError(t, keys.Add(keyring.Description(h.id), []byte("k")))
	s := newSource(afero.NewMemMapFs(), keys, clockwork.NewFakeClock())

	assert.NoError(t, s.Wait(context.Background(), h))
}

func TestWaitUntilKeyAppears(t *testing.T) {
	h := sealed(t, "pw")
	keys := keyring.NewMemory()
	clock := clockwork.NewFakeClock()
	s := newSource(afero.NewMemMapFs(), keys, clock)

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background(), h) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Second)
	select {
	case err := <-done:
		t.Fatalf("Wait returned before the key existed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, keys.Add(keyring.Description(h.id), []byte("k")))
	clock.Advance(time.Second)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("Wait did not return after the key was added")
	}
}

func TestWaitCancelled(t *testing.T) {
	h := sealed(t, "pw")
	clock := clockwork.NewFakeClock()
	s := newSource(afero.NewMemMapFs(), keyring.NewMemory(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx, h) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}
