package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type claimSummary struct {
	Target string `json:"target" yaml:"target"`
	Claims int    `json:"claims" yaml:"claims"`
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, claimSummary{Target: "scratch", Claims: 2}))

	out := buf.String()
	assert.Contains(t, out, `"target": "scratch"`)
	assert.Contains(t, out, `"claims": 2`)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestPrintJSONList(t *testing.T) {
	data := []claimSummary{
		{Target: "scratch", Claims: 1},
		{Target: "models", Claims: 3},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, data))

	out := buf.String()
	assert.Contains(t, out, `"target": "scratch"`)
	assert.Contains(t, out, `"target": "models"`)
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, claimSummary{Target: "scratch", Claims: 2}))

	out := buf.String()
	assert.Contains(t, out, "target: scratch")
	assert.Contains(t, out, "claims: 2")
}

func TestPrintYAMLList(t *testing.T) {
	data := []claimSummary{
		{Target: "scratch", Claims: 1},
		{Target: "models", Claims: 3},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, data))

	out := buf.String()
	assert.Contains(t, out, "- target: scratch")
	assert.Contains(t, out, "  claims: 3")
}
