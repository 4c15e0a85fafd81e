package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Level(t *testing.T) {
	logs, err := New("debug", false)
	require.NoError(t, err)
	require.True(t, logs.Core().Enabled(zapcore.DebugLevel))

	logs, err = New("bogus", true)
	require.NoError(t, err)
	require.False(t, logs.Core().Enabled(zapcore.DebugLevel))
	require.True(t, logs.Core().Enabled(zapcore.InfoLevel))
}
