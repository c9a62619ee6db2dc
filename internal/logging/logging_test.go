package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithOutput("warn", &buf)
	require.NoError(t, err)

	l.Info("dropped")
	l.WithField("component", "scheduler").Warn("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "scheduler", line["component"])
	assert.Equal(t, "warning", line["level"])
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("loud")
	assert.Error(t, err)
}
