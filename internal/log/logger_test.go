package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	prod, err := NewLogger("prod")
	require.NoError(t, err)
	defer prod.Sync()
	assert.False(t, prod.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, prod.Core().Enabled(zapcore.InfoLevel))

	dev, err := NewLogger("dev")
	require.NoError(t, err)
	defer dev.Sync()
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestNewSugar(t *testing.T) {
	logger, err := NewSugar("dev")
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync()
}
