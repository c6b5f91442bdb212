package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Info("store committed", "file", "a.txt", "bytes", 42)

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "store committed")
	assert.Contains(t, out, "file=a.txt")
	assert.Contains(t, out, "bytes=42")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")

	Debug("not visible")
	Info("not visible either")
	Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "not visible")
	assert.Contains(t, out, "visible")

	// Restore a permissive level for other tests in the package.
	SetLevel("INFO")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	Info("lock granted", "client_id", "c1")

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "lock granted", record["msg"])
	assert.Equal(t, "c1", record["client_id"])

	SetFormat("text")
}

func TestInvalidLevelIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	SetLevel("NOISY")
	Info("still info")
	assert.Contains(t, buf.String(), "still info")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	l := With("component", "server")
	l.Info("started")
	assert.Contains(t, buf.String(), "component=server")
}
