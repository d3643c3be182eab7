package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anpr-pipeline/internal/config"
)

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LogConfig{Level: "debug"}, "anpr-store", &buf)

	log.Debug().Str("plate", "AB123CD").Msg("stored")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "anpr-store", entry["service"])
	assert.Equal(t, "AB123CD", entry["plate"])
	assert.Equal(t, "debug", entry["level"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.LogConfig{Level: "chatty"}, "x", &buf)

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
