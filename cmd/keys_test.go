package cmd

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runKeys(t *testing.T, args ...string) []string {
	t.Helper()
	var out bytes.Buffer
	cmd := newKeysCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return strings.Split(strings.TrimSpace(out.String()), "\n")
}

func TestKeys_PrintsDecodableCookieKeys(t *testing.T) {
	lines := runKeys(t)
	require.Len(t, lines, 2)

	for i, name := range []string{"COOKIE_HASH_KEY", "COOKIE_BLOCK_KEY"} {
		prefix := "export " + name + "="
		require.True(t, strings.HasPrefix(lines[i], prefix), lines[i])
		key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(lines[i], prefix))
		require.NoError(t, err)
		assert.Len(t, key, 32)
	}
}

func TestKeys_DotenvFormat(t *testing.T) {
	lines := runKeys(t, "--dotenv")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "COOKIE_HASH_KEY="))
	assert.True(t, strings.HasPrefix(lines[1], "COOKIE_BLOCK_KEY="))
}

func TestVersion_NamesBinary(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "teesched dev (commit=none"), out.String())
}
