package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: DebugLevel, Output: &buf, JSON: true})

	log.With("source", "autos").Warn("record skipped", "id", "p-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "record skipped", entry["msg"])
	assert.Equal(t, "autos", entry["source"])
	assert.Equal(t, "p-1", entry["id"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: WarnLevel, Output: &buf})
	log.Info("hidden")
	assert.Empty(t, buf.String())
	log.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, ErrorLevel, ParseLevel("error"))
	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestContextRoundTrip(t *testing.T) {
	l := Discard()
	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
