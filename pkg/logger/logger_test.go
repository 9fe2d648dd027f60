package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.log")
	l := New(&Config{Level: "debug", Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	l.Info("hello")
	assert.NoError(t, l.Sync())
	assert.FileExists(t, path)
}

func TestReplace(t *testing.T) {
	nop := zap.NewNop()
	old := Replace(nop)
	defer Replace(old)

	assert.Same(t, nop, L())
	Info("discarded")
}
