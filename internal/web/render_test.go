package web

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	Slot                int
	Name, Remote, Since string
}

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, "dashboard", map[string]any{
		"Active":      1,
		"Capacity":    4,
		"Closing":     false,
		"Connections": []row{{Slot: 0, Name: "<alice>", Remote: "127.0.0.1:5000", Since: "now"}},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "1 / 4 connections (25%)")
	assert.Contains(t, out, "&lt;alice&gt;", "names must be escaped")
	assert.NotContains(t, out, "Shutting down")
}

func TestRenderUnknownFallsBackToBase(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, "nope", nil))
	assert.Contains(t, buf.String(), "<h1>chatrelay</h1>")
}
