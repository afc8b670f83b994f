package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	l, err := New("json", "debug")
	require.NoError(t, err)
	assert.True(t, l.Desugar().Core().Enabled(zap.DebugLevel))

	l, err = New("console", "")
	require.NoError(t, err)
	assert.False(t, l.Desugar().Core().Enabled(zap.DebugLevel))
	assert.True(t, l.Desugar().Core().Enabled(zap.InfoLevel))
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("json", "loud")
	assert.Error(t, err)
}
