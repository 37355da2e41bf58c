package dragonforge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveProfileIsPure(t *testing.T) {
	p1 := deriveProfile("/opt/ndk")
	p2 := deriveProfile("/opt/ndk")
	assert.Equal(t, p1, p2)

	assert.Equal(t, "aarch64-linux-android", p1.Triple)
	assert.Equal(t, androidAPI, p1.API)
	assert.True(t, strings.HasSuffix(p1.CC, "aarch64-linux-android30-clang"))
	assert.True(t, strings.HasSuffix(p1.CXX, "aarch64-linux-android30-clang++"))
	assert.True(t, strings.HasPrefix(p1.CC, "/opt/ndk/"))
}

func TestCrossFileContents(t *testing.T) {
	content := crossFileContents(deriveProfile("/opt/ndk"))

	assert.Contains(t, content, "[binaries]")
	assert.Contains(t, content, "c = '/opt/ndk/toolchains/llvm/prebuilt/linux-x86_64/bin/aarch64-linux-android30-clang'")
	assert.Contains(t, content, "ar = '/opt/ndk/toolchains/llvm/prebuilt/linux-x86_64/bin/llvm-ar'")
	assert.Contains(t, content, "c_args = ['-O2', '-g0']")
	assert.Contains(t, content, "system = 'android'")
	assert.Contains(t, content, "cpu_family = 'aarch64'")
}

type toolCall struct {
	dir  string
	name string
	args []string
}

func testBuilder(t *testing.T) (*buildExecutor, *[]toolCall) {
	t.Helper()
	LogDir = filepath.Join(t.TempDir(), "logs")

	var calls []toolCall
	b := newBuildExecutor(NewExecutor(context.Background()), "/opt/ndk")
	b.jobs = 4
	b.runTool = func(dir, logPath, name string, args ...string) error {
		calls = append(calls, toolCall{dir: dir, name: name, args: args})
		return os.WriteFile(logPath, []byte(name+" output\n"), 0o644)
	}
	return b, &calls
}

func TestBuildRunsConfigureThenCompile(t *testing.T) {
	b, calls := testBuilder(t)
	wc := &WorkingCopy{Root: t.TempDir(), Revision: "abc1234", Version: "25.2.0"}

	res, err := b.Build(wc, Variant{Name: "tiger", Label: "Tiger"})
	require.NoError(t, err)

	require.Len(t, *calls, 2)
	meson := (*calls)[0]
	assert.Equal(t, "meson", meson.name)
	assert.Equal(t, wc.Root, meson.dir)
	assert.Equal(t, "setup", meson.args[0])
	assert.Contains(t, meson.args, "--cross-file")
	assert.Contains(t, meson.args, "-Dvulkan-drivers=freedreno")

	ninja := (*calls)[1]
	assert.Equal(t, "ninja", ninja.name)
	assert.Contains(t, ninja.args, artifactRelPath)
	assert.Contains(t, ninja.args, "-j")
	assert.Contains(t, ninja.args, "4")

	assert.Equal(t, filepath.Join(wc.Root, "build-tiger", artifactRelPath), res.Artifact)
	assert.Equal(t, "tiger", res.Variant)

	// Successful logs get archived.
	assert.FileExists(t, filepath.Join(LogDir, "tiger-compile.log.xz"))
	assert.FileExists(t, filepath.Join(LogDir, "tiger-configure.log.xz"))
	assert.Equal(t, filepath.Join(LogDir, "tiger-compile.log.xz"), res.LogPath)
}

func TestBuildWritesCrossFile(t *testing.T) {
	b, _ := testBuilder(t)
	wc := &WorkingCopy{Root: t.TempDir()}

	_, err := b.Build(wc, Variant{Name: "vanilla", Label: "Vanilla"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(LogDir, "vanilla-cross.ini"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "aarch64-linux-android30-clang")
}

func TestBuildRemovesStaleBuildDir(t *testing.T) {
	b, _ := testBuilder(t)
	wc := &WorkingCopy{Root: t.TempDir()}

	stale := filepath.Join(wc.Root, "build-vanilla", "stale")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old meson cache"), 0o644))

	// runTool recreates nothing, so a surviving stale file would prove the
	// directory was not cleared.
	_, err := b.Build(wc, Variant{Name: "vanilla", Label: "Vanilla"})
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestBuildConfigureFailureGatesCompile(t *testing.T) {
	b, calls := testBuilder(t)
	failErr := errors.New("meson: compiler not found")
	b.runTool = func(dir, logPath, name string, args ...string) error {
		*calls = append(*calls, toolCall{dir: dir, name: name, args: args})
		os.WriteFile(logPath, []byte("error output\n"), 0o644)
		if name == "meson" {
			return failErr
		}
		return nil
	}
	wc := &WorkingCopy{Root: t.TempDir()}

	_, err := b.Build(wc, Variant{Name: "tiger", Label: "Tiger"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBuildFailed)

	require.Len(t, *calls, 1)
	assert.Equal(t, "meson", (*calls)[0].name)
}

func TestBuildCompileFailure(t *testing.T) {
	b, calls := testBuilder(t)
	b.runTool = func(dir, logPath, name string, args ...string) error {
		*calls = append(*calls, toolCall{dir: dir, name: name, args: args})
		os.WriteFile(logPath, []byte("ld.lld: undefined symbol\n"), 0o644)
		if name == "ninja" {
			return errors.New("subcommand failed")
		}
		return nil
	}
	wc := &WorkingCopy{Root: t.TempDir()}

	_, err := b.Build(wc, Variant{Name: "wyvern", Label: "Wyvern"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBuildFailed)
	assert.Contains(t, err.Error(), "compile step")
}
