package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForServiceWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	EnableFileLogging(dir)
	t.Cleanup(func() {
		CloseFileLoggers()
		EnableFileLogging("")
	})

	logger := ForService("filetest")
	logger.Info("sweep finished", "processed", 3)

	again := ForService("filetest")
	assert.Same(t, logger, again, "service loggers are created once and reused")

	CloseFileLoggers()

	data, err := os.ReadFile(filepath.Join(dir, "filetest.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "sweep finished")
	assert.Contains(t, string(data), `"service":"filetest"`)
}

func TestForServiceWithoutFileLogging(t *testing.T) {
	EnableFileLogging("")
	logger := ForService("nofile")
	require.NotNil(t, logger)
	logger.Info("still logs to the default handler")
}
