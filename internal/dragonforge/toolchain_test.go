package dragonforge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeNDK(t *testing.T, root string) {
	t.Helper()
	bin := filepath.Join(root, "toolchains", "llvm", "prebuilt", "linux-x86_64", "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
}

func TestValidNDKRoot(t *testing.T) {
	assert.False(t, validNDKRoot(""))
	assert.False(t, validNDKRoot(t.TempDir()))

	root := t.TempDir()
	fakeNDK(t, root)
	assert.True(t, validNDKRoot(root))
}

func TestResolveToolchainPrefersEnvironment(t *testing.T) {
	root := t.TempDir()
	fakeNDK(t, root)
	t.Setenv("ANDROID_NDK_ROOT", root)

	got, err := resolveToolchain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestResolveToolchainIgnoresBrokenEnvRoot(t *testing.T) {
	// An env var pointing at garbage must not shadow a valid cache entry.
	t.Setenv("ANDROID_NDK_ROOT", t.TempDir())
	t.Setenv("ANDROID_NDK_HOME", "")

	ToolchainDir = t.TempDir()
	cached := filepath.Join(ToolchainDir, ndkRelease)
	fakeNDK(t, cached)

	got, err := resolveToolchain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cached, got)
}

func TestResolveToolchainDropsCorruptArchive(t *testing.T) {
	t.Setenv("ANDROID_NDK_ROOT", "")
	t.Setenv("ANDROID_NDK_HOME", "")
	ToolchainDir = t.TempDir()

	// A truncated download from an earlier run sits at the cache path.
	// If it survived the failed unpack, every later run would skip the
	// download and die on the same corrupt bytes.
	archiveName := fmt.Sprintf("%s-%s", hashString(ndkURL)[:16], filepath.Base(ndkURL))
	archivePath := filepath.Join(ToolchainDir, "_cache", archiveName)
	require.NoError(t, os.MkdirAll(filepath.Dir(archivePath), 0o755))
	require.NoError(t, os.WriteFile(archivePath, []byte("not a zip"), 0o644))

	_, err := resolveToolchain(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, archivePath)
}

func TestResolveToolchainUsesCache(t *testing.T) {
	t.Setenv("ANDROID_NDK_ROOT", "")
	t.Setenv("ANDROID_NDK_HOME", "")

	ToolchainDir = t.TempDir()
	cached := filepath.Join(ToolchainDir, ndkRelease)
	fakeNDK(t, cached)

	got, err := resolveToolchain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cached, got)
}
