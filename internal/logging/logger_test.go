package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewWithWriter_JSONAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "info", Format: "json"}, &buf)

	l = WithError(WithAttempt(WithJob(l, "job-1"), 2, "bold-trades"), errors.New("boom"))
	l.Info("attempt failed", Duration(1500*time.Millisecond))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "attempt failed", entry["msg"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, float64(2), entry["version"])
	assert.Equal(t, "bold-trades", entry["directive"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, 1500.0, entry["duration_ms"])
}

func TestNewWithWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn"}, &buf)
	l.Info("hidden")
	assert.Empty(t, buf.String())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithError_Nil(t *testing.T) {
	l := Discard()
	assert.Same(t, l, WithError(l, nil))
}
