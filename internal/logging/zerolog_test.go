package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestZerologLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, ZerologLevel("trace"))
	assert.Equal(t, zerolog.DebugLevel, ZerologLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ZerologLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ZerologLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ZerologLevel("bogus"))
}

func TestNewZerolog_FileCopyAndHook(t *testing.T) {
	var file bytes.Buffer
	logger := NewZerolog("info", nil, &file, func(e *zerolog.Event) {
		e.Int("remotePlayers", 3)
	})

	logger.Debug().Msg("hidden")
	logger.Info().Str("node", "res_1_2_0").Msg("gathered")

	out := file.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "gathered")
	assert.Contains(t, out, "node=res_1_2_0")
	assert.Contains(t, out, "remotePlayers=3")
	assert.NotContains(t, out, "\x1b[", "file copy is uncolored")
}

func TestNewZerolog_NoWriters(t *testing.T) {
	logger := NewZerolog("debug", nil, nil, nil)
	assert.Equal(t, zerolog.Disabled, logger.GetLevel())
}
