package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/boothill-gm/internal/config"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&config.Config{Environment: "production", LogLevel: slog.LevelInfo}, &buf)
	WithSession(log, "s-1").Info("Decision presented", "decision_id", "d-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Decision presented", line["msg"])
	assert.Equal(t, "s-1", line["session_id"])
	assert.Equal(t, "d-1", line["decision_id"])
}

func TestNew_DevelopmentWritesText(t *testing.T) {
	var buf bytes.Buffer
	log := New(&config.Config{Environment: "development", LogLevel: slog.LevelWarn}, &buf)
	log.Info("hidden")
	WithError(log, errors.New("boom")).Warn("Storage ping failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "error=boom"), out)
}

func TestWithError_Nil(t *testing.T) {
	log := Discard()
	assert.Same(t, log, WithError(log, nil))
}
