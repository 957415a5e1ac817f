package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supervisory/internal/logging"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("verbose"))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New("info", "json", &buf)
	log.Debug("hidden")
	log.Info("registry loaded", "indexed", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "registry loaded", rec["msg"])
	assert.EqualValues(t, 3, rec["indexed"])
}

func TestConsoleFormatHasNoColourOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	logging.New("warn", "text", &buf).Warn("excluded", "path", "a/b/skill.yml")
	assert.Contains(t, buf.String(), "excluded")
	assert.NotContains(t, buf.String(), "\x1b[")
}
