// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/afterburner/internal/config"
)

// initBuffered initializes the global logger writing console output to a buffer.
func initBuffered(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		})

		GetLogger().Info("This is a test message.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, "TestService.")
		assert.Contains(t, output, colorGreen, "Info level should be colorized green")
		assert.Contains(t, output, colorReset)
	})

	t.Run("json logger", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "JSONTest",
		})

		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"), Styled(StyleQuiet))
		Sync()

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "Log output should be valid JSON")

		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "This is a JSON message.", logEntry["msg"])
		assert.Equal(t, "value", logEntry["key"])
		_, hasStyle := logEntry[styleKey]
		assert.False(t, hasStyle, "style fields must not reach the encoders")
	})

	t.Run("writes to a log file if configured", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "afterburner.log")
		initBuffered(t, config.LoggerConfig{
			Level:   "debug",
			Format:  "json",
			LogFile: logFile,
			MaxSize: 1,
		})

		GetLogger().Error("This should go to the file.")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "This should go to the file.")
	})

	t.Run("only initializes once", func(t *testing.T) {
		buf := initBuffered(t, config.LoggerConfig{Level: "info", ServiceName: "First"})
		logger1 := GetLogger()

		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		logger2 := GetLogger()

		assert.Equal(t, logger1, logger2)
		logger2.Info("test")
		Sync()

		assert.True(t, strings.Contains(buf.String(), "First"))
		assert.False(t, strings.Contains(buf.String(), "Second"))
	})

	t.Run("entries are recorded in the log book", func(t *testing.T) {
		initBuffered(t, config.LoggerConfig{Level: "info", Format: "json"})

		GetLogger().Info("page loaded", Styled(Style{Emoji: "📄", Color: "grey"}))
		GetLogger().Debug("below level, not recorded")
		GetLogger().Error("boom")

		entries := Book().Entries()
		require.Len(t, entries, 2)
		assert.Equal(t, "page loaded", entries[0].Text)
		assert.Equal(t, "📄", entries[0].Style.Emoji)
		assert.Equal(t, StyleFailure, entries[1].Style)
		assert.Less(t, entries[0].Seq, entries[1].Seq)
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("returns a fallback logger if not initialized", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
		assert.Empty(t, Book().Entries())
	})

	t.Run("returns the global logger after initialization", func(t *testing.T) {
		initBuffered(t, config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Equal(t, globalLogger.Load(), GetLogger())
	})
}

func TestInitialize_DefaultBookKeepsHistory(t *testing.T) {
	cfg := config.NewDefaultConfig().Logger()
	assert.Zero(t, cfg.BookSize, "the book is unbounded unless capped explicitly")
	cfg.LogFile = ""
	initBuffered(t, cfg)

	first := Book().Append("first entry", StyleQuiet)
	for i := 0; i < 20000; i++ {
		GetLogger().Info("filler")
	}
	Sync()

	since := Book().Since(first.Seq - 1)
	require.Len(t, since, 20001)
	assert.Equal(t, "first entry", since[0].Text)
	assert.Greater(t, Book().LastSeq(), uint64(20000))

	Book().Clear()
	assert.Empty(t, Book().Entries())
}
