package superblock

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/bcmount/internal/keyring"
)

type image struct {
	magic    uuid.UUID
	internal uuid.UUID
	user     uuid.UUID
	label    string
	devIdx   uint8
	nrDevs   uint8
	crypt    *Crypt
	junk     int // extra non-crypt field before the crypt field, in u64s
}

func (im image) bytes() []byte {
	var fields bytes.Buffer
	if im.junk > 0 {
		hdr := make([]byte, im.junk*8)
		binary.LittleEndian.PutUint32(hdr[0:], uint32(im.junk))
		binary.LittleEndian.PutUint32(hdr[4:], 1)
		fields.Write(hdr)
	}
	if im.crypt != nil {
		f := make([]byte, cryptFieldSize)
		binary.LittleEndian.PutUint32(f[0:], cryptFieldSize/8)
		binary.LittleEndian.PutUint32(f[4:], fieldCrypt)
		binary.LittleEndian.PutUint64(f[8:], im.crypt.Flags)
		binary.LittleEndian.PutUint64(f[16:], im.crypt.KDFFlags)
		copy(f[24:], im.crypt.Key[:])
		fields.Write(f)
	}

	buf := make([]byte, Offset+HeaderSize+fields.Len())
	hdr := buf[Offset:]
	binary.LittleEndian.PutUint16(hdr[offVersion:], 1030)
	copy(hdr[offMagic:], im.magic[:])
	copy(hdr[offUUID:], im.internal[:])
	copy(hdr[offUserUUID:], im.user[:])
	copy(hdr[offLabel:], im.label)
	binary.LittleEndian.PutUint64(hdr[offSeq:], 42)
	binary.LittleEndian.PutUint16(hdr[offBlockSize:], 8)
	hdr[offDevIdx] = im.devIdx
	hdr[offNrDevices] = im.nrDevs
	binary.LittleEndian.PutUint32(hdr[offU64s:], uint32(fields.Len()/8))
	copy(buf[Offset+HeaderSize:], fields.Bytes())
	return buf
}

func writeImage(t *testing.T, fs afero.Fs, path string, im image) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, im.bytes(), 0o600))
}

func TestProbeUnencrypted(t *testing.T) {
	fs := afero.NewMemMapFs()
	user := uuid.New()
	internal := uuid.New()
	writeImage(t, fs, "/dev/sda", image{
		magic: bchfsMagic, internal: internal, user: user,
		label: "pool", devIdx: 1, nrDevs: 2,
	})

	h, err := NewProber(fs, keyring.NewMemory()).Probe("/dev/sda")
	require.NoError(t, err)

	assert.Equal(t, "/dev/sda", h.Device())
	assert.Equal(t, user, h.Identity())
	assert.Nil(t, h.Crypt())
	assert.False(t, h.IsEncryptedAndLocked())

	sb := h.(*Superblock)
	assert.Equal(t, "pool", sb.Label)
	assert.Equal(t, internal, sb.InternalUUID)
	assert.Equal(t, uint8(1), sb.DevIdx)
	assert.Equal(t, uint8(2), sb.NrDevices)
	assert.Equal(t, uint64(42), sb.Seq)
}

func TestProbeAcceptsLegacyMagic(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/dev/sdb", image{magic: bcacheMagic, user: uuid.New()})

	_, err := NewProber(fs, nil).Probe("/dev/sdb")
	assert.NoError(t, err)
}

func TestProbeRejectsForeignDevice(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeImage(t, fs, "/dev/sdc", image{magic: uuid.New(), user: uuid.New()})
	require.NoError(t, afero.WriteFile(fs, "/dev/tiny", []byte("short"), 0o600))

	p := NewProber(fs, nil)

	_, err := p.Probe("/dev/sdc")
	assert.ErrorIs(t, err, ErrNotBcachefs)

	_, err = p.Probe("/dev/tiny")
	assert.ErrorIs(t, err, ErrNotBcachefs)

	_, err = p.Probe("/dev/missing")
	assert.Error(t, err)
}

func TestProbeEncryptedLockedUntilKeyInstalled(t *testing.T) {
	fs := afero.NewMemMapFs()
	user := uuid.New()
	internal := uuid.New()
	crypt := &Crypt{}
	crypt.SetScrypt(14, 3, 0)
	copy(crypt.Key[:], bytes.Repeat([]byte{0xaa}, EncryptedKeySize))
	writeImage(t, fs, "/dev/sdd", image{
		magic: bchfsMagic, internal: internal, user: user, crypt: crypt, junk: 3,
	})

	keys := keyring.NewMemory()
	h, err := NewProber(fs, keys).Probe("/dev/sdd")
	require.NoError(t, err)

	c := h.Crypt()
	require.NotNil(t, c)
	assert.True(t, c.KeyEncrypted())
	assert.Equal(t, uint64(14), c.ScryptN())
	assert.Equal(t, uint64(3), c.ScryptR())
	assert.Equal(t, uint64(0), c.ScryptP())
	assert.Equal(t, KeyNonce(internal), c.Nonce)
	assert.True(t, h.IsEncryptedAndLocked())

	require.NoError(t, keys.Add(keyring.Description(user), []byte("k")))
	assert.False(t, h.IsEncryptedAndLocked())
}

func TestProbePlaintextKeyIsNotLocked(t *testing.T) {
	fs := afero.NewMemMapFs()
	crypt := &Crypt{}
	binary.LittleEndian.PutUint64(crypt.Key[:], KeyMagic)
	writeImage(t, fs, "/dev/sde", image{magic: bchfsMagic, user: uuid.New(), crypt: crypt})

	h, err := NewProber(fs, nil).Probe("/dev/sde")
	require.NoError(t, err)
	require.NotNil(t, h.Crypt())
	assert.False(t, h.IsEncryptedAndLocked())
}

func TestKeyNonce(t *testing.T) {
	id := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	n := KeyNonce(id)
	assert.Equal(t, [12]byte{0, 0, 0, 0, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77}, n)
}

func TestKDFTypeIgnoresHigherFlagBits(t *testing.T) {
	c := &Crypt{Flags: 0x10}
	assert.Equal(t, uint64(KDFScrypt), c.KDFType())

	c.Flags = 0x13
	assert.Equal(t, uint64(3), c.KDFType())
}
