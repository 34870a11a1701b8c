package superblock

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// KeyMagic marks a decrypted master key ("bch**key")
var KeyMagic = binary.LittleEndian.Uint64([]byte("bch**key"))

// KDF types stored in the crypt field flags
const (
	KDFScrypt = 0
)

// EncryptedKeySize is the size of the magic plus the 256-bit key
const EncryptedKeySize = 40

// Crypt is the superblock's encryption field
type Crypt struct {
	Flags    uint64
	KDFFlags uint64
	// Key is the master key, still encrypted unless its magic matches KeyMagic
	Key [EncryptedKeySize]byte
	// Nonce is the chacha20 nonce the master key is encrypted with
	Nonce [12]byte
}

func decodeCrypt(b []byte, internal uuid.UUID) *Crypt {
	c := &Crypt{
		Flags:    le.Uint64(b[8:]),
		KDFFlags: le.Uint64(b[16:]),
	}
	copy(c.Key[:], b[24:24+EncryptedKeySize])
	c.Nonce = KeyNonce(internal)
	return c
}

// KeyNonce derives the master key nonce from the internal filesystem UUID
func KeyNonce(internal uuid.UUID) [12]byte {
	var n [12]byte
	copy(n[4:], internal[:8])
	return n
}

// KeyEncrypted reports whether the stored master key is encrypted
func (c *Crypt) KeyEncrypted() bool {
	return binary.LittleEndian.Uint64(c.Key[:8]) != KeyMagic
}

// KDFType returns the key derivation function id
func (c *Crypt) KDFType() uint64 { return c.Flags & 0xf }

// ScryptN returns log2 of the scrypt cost parameter
func (c *Crypt) ScryptN() uint64 { return c.KDFFlags & 0xffff }

// ScryptR returns log2 of the scrypt block size
func (c *Crypt) ScryptR() uint64 { return (c.KDFFlags >> 16) & 0xffff }

// ScryptP returns log2 of the scrypt parallelism
func (c *Crypt) ScryptP() uint64 { return (c.KDFFlags >> 32) & 0xffff }

// SetScrypt stores scrypt parameters (as log2 values) in KDFFlags
func (c *Crypt) SetScrypt(n, r, p uint64) {
	c.KDFFlags = n&0xffff | (r&0xffff)<<16 | (p&0xffff)<<32
}
