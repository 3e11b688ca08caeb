package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"KEY=value", "OTHER=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"KEY": "value", "OTHER": "a=b"}, vars)

	vars, err = parseVars(nil)
	require.NoError(t, err)
	assert.Nil(t, vars)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseVars([]string{"=value"})
	assert.Error(t, err)
}

func TestConfirm(t *testing.T) {
	cmd := New()

	cmd.SetIn(strings.NewReader("y\n"))
	cmd.SetOut(&bytes.Buffer{})
	ok, err := confirm(cmd, false, "Proceed?")
	require.NoError(t, err)
	assert.True(t, ok)

	cmd.SetIn(strings.NewReader("no\n"))
	ok, err = confirm(cmd, false, "Proceed?")
	require.NoError(t, err)
	assert.False(t, ok)

	// Forced confirmation never reads stdin.
	ok, err = confirm(cmd, true, "Proceed?")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCommandTree(t *testing.T) {
	root := New()

	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["instance"])
	assert.True(t, names["user"])
}
