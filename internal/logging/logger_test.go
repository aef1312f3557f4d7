package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Development(t *testing.T) {
	logger, err := New(true)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	logger.Debug("development logger active")
}

func TestNew_Production(t *testing.T) {
	logger, err := New(false)
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel), "production logger should not enable debug")
}
