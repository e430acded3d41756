package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "debug", "json")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger.Debug().Str("testID", "t1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "t1", entry["testID"])
	assert.Equal(t, "jlpt-exam", entry["service"])
}

func TestSetupInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	setup(&buf, "chatty", "json")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	assert.Contains(t, buf.String(), "invalid log level")
}
