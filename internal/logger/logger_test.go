package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	cfg := Config{Level: "debug", Filename: logPath, MaxSize: 1, MaxBackups: 1, MaxAge: 1}
	require.NoError(t, Init(cfg))

	Debug("debug message", String("key", "value"))
	Info("info message", Int("number", 42))
	Warn("warning message", Bool("flag", true))
	require.NoError(t, Sync())

	_, err := os.Stat(logPath)
	require.NoError(t, err)
}

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init(Config{Level: "not-a-level", Filename: filepath.Join(t.TempDir(), "x.log")})
	require.Error(t, err)
}

func TestWithReturnsChildLogger(t *testing.T) {
	require.NoError(t, Init(DefaultConfig()))
	child := With(String("component", "test"))
	require.NotNil(t, child)
}
