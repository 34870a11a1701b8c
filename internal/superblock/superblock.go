// Package superblock reads the identity and encryption state of a bcachefs
// member device. Only the fields needed to resolve and unlock a filesystem
// are decoded; checksums are left to the kernel.
package superblock

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/sigreer/bcmount/internal/keyring"
)

// On-disk layout of struct bch_sb
const (
	Offset = 8 * 512

	offMagic     = 24
	offUUID      = 40
	offUserUUID  = 56
	offLabel     = 72
	labelSize    = 32
	offSeq       = 112
	offBlockSize = 120
	offDevIdx    = 122
	offNrDevices = 123
	offU64s      = 124
	offVersion   = 16
	offVerMin    = 18
	// HeaderSize is the fixed part of the superblock preceding its fields
	HeaderSize = 752

	fieldHeaderSize = 8
	fieldCrypt      = 2
	cryptFieldSize  = 64

	// superblocks are capped well below this; anything larger is corrupt
	maxFieldBytes = 1 << 20
)

var (
	bcacheMagic = uuid.MustParse("c68573f6-4e1a-45ca-8265-f57f48ba6d81")
	bchfsMagic  = uuid.MustParse("c68573f6-66ce-90a9-d96a-60cf803df7ef")
)

// ErrNotBcachefs is returned when a device carries no bcachefs superblock
var ErrNotBcachefs = errors.New("not a bcachefs superblock")

// Handle is the probed view of one member device
type Handle interface {
	Device() string
	Identity() uuid.UUID
	Crypt() *Crypt
	IsEncryptedAndLocked() bool
}

// Superblock holds the decoded superblock of a member device
type Superblock struct {
	Path         string
	Version      uint16
	VersionMin   uint16
	Magic        uuid.UUID
	InternalUUID uuid.UUID
	UserUUID     uuid.UUID
	Label        string
	Seq          uint64
	BlockSize    uint16
	DevIdx       uint8
	NrDevices    uint8

	crypt *Crypt
	keys  keyring.Keyring
}

func (sb *Superblock) Device() string { return sb.Path }

// Identity returns the external filesystem UUID shared by all members
func (sb *Superblock) Identity() uuid.UUID { return sb.UserUUID }

// Crypt returns the encryption field, nil for unencrypted filesystems
func (sb *Superblock) Crypt() *Crypt { return sb.crypt }

// IsEncrypted reports whether the master key is stored encrypted
func (sb *Superblock) IsEncrypted() bool {
	return sb.crypt != nil && sb.crypt.KeyEncrypted()
}

// IsEncryptedAndLocked reports whether the master key is encrypted and the
// kernel does not yet hold the key to decrypt it.
func (sb *Superblock) IsEncryptedAndLocked() bool {
	if !sb.IsEncrypted() {
		return false
	}
	if sb.keys == nil {
		return true
	}
	return !sb.keys.Has(keyring.Description(sb.UserUUID))
}

// Prober reads superblocks from block devices
type Prober struct {
	Fs   afero.Fs
	Keys keyring.Keyring
}

// NewProber returns a prober reading through fs and checking keys for unlocked filesystems
func NewProber(fs afero.Fs, keys keyring.Keyring) *Prober {
	return &Prober{Fs: fs, Keys: keys}
}

// Probe reads the superblock of path. It never writes to stdout or stderr,
// so it can be run against every block device on the system.
func (p *Prober) Probe(path string) (Handle, error) {
	sb, err := p.Read(path)
	if err != nil {
		return nil, err
	}
	return sb, nil
}

// Read is Probe returning the concrete superblock
func (p *Prober) Read(path string) (*Superblock, error) {
	f, err := p.Fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sb, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read superblock %s: %w", path, err)
	}
	sb.Path = path
	sb.keys = p.Keys
	return sb, nil
}

// Decode parses the superblock found at Offset in r
func Decode(r io.ReaderAt) (*Superblock, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := r.ReadAt(hdr, Offset); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotBcachefs
		}
		return nil, err
	}

	sb := &Superblock{
		Version:    le.Uint16(hdr[offVersion:]),
		VersionMin: le.Uint16(hdr[offVerMin:]),
		Seq:        le.Uint64(hdr[offSeq:]),
		BlockSize:  le.Uint16(hdr[offBlockSize:]),
		DevIdx:     hdr[offDevIdx],
		NrDevices:  hdr[offNrDevices],
	}
	copy(sb.Magic[:], hdr[offMagic:offMagic+16])
	if sb.Magic != bcacheMagic && sb.Magic != bchfsMagic {
		return nil, ErrNotBcachefs
	}
	copy(sb.InternalUUID[:], hdr[offUUID:offUUID+16])
	copy(sb.UserUUID[:], hdr[offUserUUID:offUserUUID+16])
	sb.Label = string(bytes.TrimRight(hdr[offLabel:offLabel+labelSize], "\x00"))

	fieldBytes := int64(le.Uint32(hdr[offU64s:])) * 8
	if fieldBytes > maxFieldBytes {
		return nil, fmt.Errorf("superblock fields too large: %d bytes", fieldBytes)
	}
	if fieldBytes == 0 {
		return sb, nil
	}

	fields := make([]byte, fieldBytes)
	if _, err := r.ReadAt(fields, Offset+HeaderSize); err != nil {
		return nil, fmt.Errorf("read superblock fields: %w", err)
	}

	crypt, err := findCrypt(fields, sb.InternalUUID)
	if err != nil {
		return nil, err
	}
	sb.crypt = crypt
	return sb, nil
}

var le = binary.LittleEndian

func findCrypt(fields []byte, internal uuid.UUID) (*Crypt, error) {
	for len(fields) >= fieldHeaderSize {
		size := int(le.Uint32(fields[0:])) * 8
		typ := le.Uint32(fields[4:])
		if size == 0 {
			break
		}
		if size > len(fields) {
			return nil, fmt.Errorf("superblock field type %d overruns superblock", typ)
		}
		if typ == fieldCrypt {
			if size < cryptFieldSize {
				return nil, fmt.Errorf("crypt field too small: %d bytes", size)
			}
			return decodeCrypt(fields[:size], internal), nil
		}
		fields = fields[size:]
	}
	return nil, nil
}
