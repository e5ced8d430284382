package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_UnknownAppIsConfigError(t *testing.T) {
	code := run([]string{"--server", "127.0.0.1:0", "nope:NoSuchApp"})
	assert.Equal(t, 1, code)
}

func TestRun_ConflictingTLSFlagsIsConfigError(t *testing.T) {
	dir := t.TempDir()
	pemPath := filepath.Join(dir, "root.pem")
	require.NoError(t, os.WriteFile(pemPath, []byte("not actually a cert"), 0o600))

	code := run([]string{
		"--insecure",
		"--root-certificates", pemPath,
		"examples.echo:App",
	})
	assert.Equal(t, 1, code)
}

func TestRun_MissingArgIsUsageError(t *testing.T) {
	code := run(nil)
	assert.Equal(t, 1, code)
}
