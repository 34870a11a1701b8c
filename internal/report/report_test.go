package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/bcmount/internal/history"
	"github.com/sigreer/bcmount/internal/resolve"
	"github.com/sigreer/bcmount/internal/superblock"
)

var fsID = uuid.MustParse("11111111-2222-4333-8444-555555555555")

type sizes map[string]uint64

func (s sizes) SizeBytes(dev string) (uint64, bool) {
	v, ok := s[dev]
	return v, ok
}

func pool() *resolve.Filesystem {
	member := func(path string, idx uint8) resolve.Device {
		return resolve.Device{Path: path, Superblock: &superblock.Superblock{
			Path:      path,
			UserUUID:  fsID,
			Label:     "tank",
			DevIdx:    idx,
			NrDevices: 2,
		}}
	}
	return &resolve.Filesystem{Devices: []resolve.Device{member("/dev/sda", 0), member("/dev/sdb", 1)}}
}

func TestBuild(t *testing.T) {
	fs := Build("UUID="+fsID.String(), pool(), sizes{"/dev/sda": 4 << 40})

	assert.Equal(t, fsID.String(), fs.UUID)
	assert.Equal(t, "tank", fs.Label)
	assert.Equal(t, 2, fs.NrDevices)
	assert.False(t, fs.Encrypted)
	assert.Equal(t, "/dev/sda:/dev/sdb", fs.DevList)

	require.Len(t, fs.Members, 2)
	assert.Equal(t, "4.0 TiB", fs.Members[0].Size)
	assert.Empty(t, fs.Members[1].Size)
	require.NotNil(t, fs.Members[1].DevIdx)
	assert.Equal(t, uint8(1), *fs.Members[1].DevIdx)
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, []*Filesystem{Build("/dev/sda", pool(), nil)}))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "/dev/sda:/dev/sdb", decoded[0]["device_list"])
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []*Filesystem{Build("/dev/sda", pool(), sizes{"/dev/sdb": 1 << 30})})

	out := buf.String()
	assert.Contains(t, out, "Label:      tank")
	assert.Contains(t, out, "Encryption: none")
	assert.Contains(t, out, "Members:    2 of 2")
	assert.Contains(t, out, "1.0 GiB")
}

func TestPrintQuiet(t *testing.T) {
	var buf bytes.Buffer
	PrintQuiet(&buf, []*Filesystem{Build("/dev/sda", pool(), nil)})
	assert.Equal(t, "/dev/sda:/dev/sdb\n", buf.String())
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	PrintHistory(&buf, nil)
	assert.Contains(t, buf.String(), "No mount attempts")

	buf.Reset()
	PrintHistory(&buf, []*history.Attempt{
		{Specifier: "/dev/sda", Target: "/mnt", Outcome: history.OutcomeMounted, Devices: "/dev/sda", Timestamp: time.Now().Add(-time.Hour)},
		{Specifier: "UUID=" + fsID.String(), Outcome: history.OutcomeFailed, Error: "mount failed", Timestamp: time.Now()},
	})
	out := buf.String()
	assert.Contains(t, out, "1 hour ago")
	assert.Contains(t, out, "mount failed")
	assert.Contains(t, out, "UUID=11111111-2222-4333-844...")
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "/dev/sda", truncate("/dev/sda", 30))
	assert.Equal(t, "żółć", truncate("żółć", 4))

	got := truncate("żółćąęśńxyz", 8)
	assert.Equal(t, "żółćą...", got)
	assert.True(t, utf8.ValidString(got))
}
