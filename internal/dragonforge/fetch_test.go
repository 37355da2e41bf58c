package dragonforge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Port 1 on loopback refuses connections, so every rung of the download
// ladder fails without leaving the machine.
const unreachableURL = "http://127.0.0.1:1/bundle.zip"

func TestDownloadFileSkipsExistingDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(dest, []byte("cached bytes"), 0o644))

	require.NoError(t, downloadFile(unreachableURL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "cached bytes", string(data))
}

func TestDownloadFileRemovesPartialOnFailure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "sub", "bundle.zip")

	err := downloadFile(unreachableURL, dest)
	require.Error(t, err)

	// No partial file may remain: the pre-download existence check would
	// accept it as a finished download on the next attempt.
	assert.NoFileExists(t, dest)
}
