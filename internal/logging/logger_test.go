package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	entry := logger.Check(zapcore.InfoLevel, "development logger ready")
	require.NotNil(t, entry)
	require.Equal(t, serviceName, entry.LoggerName)
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	entry := logger.Check(zapcore.InfoLevel, "production logger ready")
	require.NotNil(t, entry)
	require.Equal(t, serviceName, entry.LoggerName)
}
