package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ejector.log")

	logger, err := NewLogger(false, WithName("ejector"), WithOutputPaths(path))
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger.Named("pool").Info("reserve initialized")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"ejector.pool"`)
	assert.Contains(t, string(data), `"msg":"reserve initialized"`)
	assert.Contains(t, string(data), `"timestamp":`)
}

func TestNewLoggerDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	logger, err := NewLogger(true, WithOutputPaths(path))
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger.Debug("unnamed")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"logger":`)
}

func TestNewLoggerBadPath(t *testing.T) {
	_, err := NewLogger(false, WithOutputPaths(filepath.Join(t.TempDir(), "missing", "x.log")))
	assert.Error(t, err)
}
