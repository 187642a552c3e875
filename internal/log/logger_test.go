package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_AttachesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := build(Config{Level: "debug", Output: &buf, Service: "pitch-test"})
	cl := l.With().Str("component", "sequencer").Logger()
	cl.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pitch-test", entry["service"])
	assert.Equal(t, "sequencer", entry["component"])
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestBuild_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	build(Config{Level: "loud", Output: &buf})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
