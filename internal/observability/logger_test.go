// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/autodevops/internal/config"
)

// -- Test Helper Functions --

func newBufferSink() (*bytes.Buffer, zapcore.WriteSyncer) {
	buf := &bytes.Buffer{}
	return buf, zapcore.AddSync(buf)
}

// -- Test Cases --

func TestInitialize(t *testing.T) {
	t.Run("console format colorizes levels and suffixes names", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf, sink := newBufferSink()

		Initialize(config.LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "autodevops",
			Colors:      config.ColorConfig{Info: "green"},
		}, sink)

		Component("engine").Info("pass complete", zap.Int("decisions", 2))

		out := buf.String()
		assert.Contains(t, out, "\x1b[32mINFO\x1b[0m")
		assert.Contains(t, out, "autodevops.engine.")
		assert.Contains(t, out, "pass complete")
		assert.Contains(t, out, `"decisions": 2`)
	})

	t.Run("json format emits structured lines", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf, sink := newBufferSink()

		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "svc"}, sink)
		GetLogger().Debug("hello", zap.String("k", "v"))

		var line map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
		assert.Equal(t, "DEBUG", line["level"])
		assert.Equal(t, "svc", line["logger"])
		assert.Equal(t, "v", line["k"])
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf, sink := newBufferSink()

		Initialize(config.LoggerConfig{Level: "chatty", Format: "json"}, sink)
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("only the first initialization wins", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		first, firstSink := newBufferSink()
		second, secondSink := newBufferSink()

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, firstSink)
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, secondSink)
		GetLogger().Info("once")

		assert.Contains(t, first.String(), "once")
		assert.Empty(t, second.String())
	})

	t.Run("file sink receives JSON", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		_, sink := newBufferSink()
		logFile := filepath.Join(t.TempDir(), "autodevops.log")

		Initialize(config.LoggerConfig{Level: "info", Format: "console", LogFile: logFile, MaxSize: 1}, sink)
		GetLogger().Info("to disk")
		Sync()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		line := strings.TrimSpace(string(data))
		assert.True(t, strings.HasPrefix(line, "{"), "file output must be JSON: %s", line)
		assert.Contains(t, line, "to disk")
	})
}

func TestGetLogger_Fallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Equal(t, "fallback", logger.Name())
}
