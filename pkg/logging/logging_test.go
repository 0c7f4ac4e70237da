package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	lvl, err = ParseLevel("TRACE")
	require.NoError(t, err)
	assert.Equal(t, zerolog.TraceLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestConfigureGlobalLogging_JSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(func() { ConfigureGlobal(os.Stderr, zerolog.WarnLevel, "text") })

	require.NoError(t, ConfigureGlobalLogging(&buf, "info", "json"))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	log.Debug().Msg("hidden")
	log.Info().Str("session", "s1").Msg("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"session":"s1"`)
}

func TestConfigureGlobalLogging_InvalidLevel(t *testing.T) {
	err := ConfigureGlobalLogging(os.Stderr, "loud", "text")
	assert.Error(t, err)
}

func TestConfigureGlobalLogging_TextIncludesCallerAtDebug(t *testing.T) {
	var buf bytes.Buffer
	t.Cleanup(func() { ConfigureGlobal(os.Stderr, zerolog.WarnLevel, "text") })

	require.NoError(t, ConfigureGlobalLogging(&buf, "debug", "text"))
	log.Debug().Msg("workspace ready")

	assert.Contains(t, buf.String(), "workspace ready")
	assert.Contains(t, buf.String(), "logging_test.go")
}
