package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableContainsCells(t *testing.T) {
	out := Table(
		[]string{"PROFILE", "PLUGIN", "NODES"},
		[][]string{
			{"default", "builtin v1.0.0", "5"},
			{"farm", "wind-turbine v1.0.0", "2"},
		},
	)

	for _, want := range []string{"PROFILE", "builtin v1.0.0", "wind-turbine v1.0.0", "5"} {
		assert.Contains(t, out, want)
	}
}

func TestWriteTableTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	WriteTable(&buf, []string{"A"}, [][]string{{"1"}})
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestMarkdown(t *testing.T) {
	out, err := Markdown("# builtin\n\nDeploys `count` identical nodes.\n")
	require.NoError(t, err)
	assert.Contains(t, out, "builtin")
	assert.Contains(t, out, "count")
}
