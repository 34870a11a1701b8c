package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, Level(-1))
	assert.Equal(t, zerolog.WarnLevel, Level(0))
	assert.Equal(t, zerolog.DebugLevel, Level(1))
	assert.Equal(t, zerolog.TraceLevel, Level(2))
	assert.Equal(t, zerolog.TraceLevel, Level(5))
}

func TestNewFiltersByVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, 0, false)

	log.Debug().Msg("hidden")
	log.Warn().Str("device", "/dev/sda").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "device=/dev/sda")
	assert.NotContains(t, out, "\x1b[", "no colour codes when colorize is off")
}

func TestNewVerbose(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, 2, false)

	log.Trace().Msg("deep")
	assert.Contains(t, buf.String(), "deep")
}
