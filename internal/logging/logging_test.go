package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeLevels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, Initialize("debug").GetLevel())
	assert.Equal(t, logrus.WarnLevel, Initialize("warn").GetLevel())
	// Unknown levels fall back to info.
	assert.Equal(t, logrus.InfoLevel, Initialize("verbose").GetLevel())
}

func TestJSONOutputFieldNames(t *testing.T) {
	logger := Initialize("info")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.WithField("component", "test").Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "test", entry["component"])
	assert.Contains(t, entry, "timestamp")
}

func TestSetupFileLogging(t *testing.T) {
	logger := Initialize("info")
	logFile := filepath.Join(t.TempDir(), "logs", "panel.log")

	require.NoError(t, SetupFileLogging(logger, logFile))
	logger.Info("written to file")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestSetupFileLoggingEmptyPathIsNoop(t *testing.T) {
	logger := Initialize("info")
	assert.NoError(t, SetupFileLogging(logger, ""))
}

func TestNewComponentLogger(t *testing.T) {
	entry := NewComponentLogger(Initialize("info"), "channel")
	assert.Equal(t, "channel", entry.Data["component"])
}
