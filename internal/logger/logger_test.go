package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		logger, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.NoError(t, logger.Close())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "orchestra.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		logger.Info().Str("plan_id", "p").Msg("plan started")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"plan_id":"p"`)
		assert.Contains(t, string(data), "plan started")
	})

	t.Run("redaction applies to file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "orchestra.log")

		logger, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)
		assert.NotNil(t, logger.redactor)

		logger.Info().Msg("calling with Bearer abc.def.ghi")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "abc.def.ghi")
		assert.Contains(t, string(data), "[REDACTED]")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.GetZerolog().GetLevel())
	})
}

func TestNew_InstallsGlobal(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	defer logger.Close()

	assert.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{logger: zerolog.New(&buf)}

	sub := l.Component("scheduler")
	sub.Info().Msg("spawned")

	assert.Contains(t, buf.String(), `"component":"scheduler"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Empty(t, cfg.File)
}
