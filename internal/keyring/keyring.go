// Package keyring wraps the kernel key retention service used to hand
// unlocked filesystem keys to the kernel.
package keyring

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const keyType = "user"

// Keyring looks up and installs user keys
type Keyring interface {
	Has(description string) bool
	Add(description string, payload []byte) error
}

// Description returns the key description the kernel expects for a filesystem
func Description(id uuid.UUID) string {
	return "bcachefs:" + id.String()
}

// Kernel is the process user keyring
type Kernel struct{}

// Has searches the user keyring without triggering a request-key upcall
func (Kernel) Has(description string) bool {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_USER_KEYRING, keyType, description, 0)
	return err == nil && id > 0
}

// Add installs payload under description in the user keyring
func (Kernel) Add(description string, payload []byte) error {
	if _, err := unix.AddKey(keyType, description, payload, unix.KEY_SPEC_USER_KEYRING); err != nil {
		return fmt.Errorf("add_key %s: %w", description, err)
	}
	return nil
}

// ErrNoKey is returned by Memory lookups that miss
var ErrNoKey = errors.New("key not found")

// Memory is an in-process keyring, used when no kernel keyring is wanted
type Memory struct {
	mu   sync.Mutex
	keys map[string][]byte
}

// NewMemory returns an empty in-process keyring
func NewMemory() *Memory {
	return &Memory{keys: make(map[string][]byte)}
}

func (m *Memory) Has(description string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[description]
	return ok
}

func (m *Memory) Add(description string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[description] = append([]byte(nil), payload...)
	return nil
}

// Get returns the payload stored under description
func (m *Memory) Get(description string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.keys[description]
	if !ok {
		return nil, ErrNoKey
	}
	return p, nil
}
