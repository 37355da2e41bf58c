package dragonforge

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigParsesKeyValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dragonforge.conf")
	content := `# comment
DRAGONFORGE_CACHE_DIR=/var/cache/df
DRAGONFORGE_JOBS = 8
QUOTED="hello"

malformed line
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/df", cfg.Values["DRAGONFORGE_CACHE_DIR"])
	assert.Equal(t, "8", cfg.Values["DRAGONFORGE_JOBS"])
	assert.Equal(t, "hello", cfg.Values["QUOTED"])
	assert.Equal(t, "/tmp", cfg.Values["TMPDIR"])
}

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp", cfg.Values["TMPDIR"])
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dragonforge.conf")
	require.NoError(t, os.WriteFile(path, []byte("DRAGONFORGE_JOBS=8\n"), 0o644))
	t.Setenv("DRAGONFORGE_JOBS", "2")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "2", cfg.Values["DRAGONFORGE_JOBS"])
}

func TestInitConfigDefaults(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"DRAGONFORGE_CACHE_DIR": "/var/cache/df",
	}}
	initConfig(cfg)

	assert.Equal(t, "/var/cache/df", CacheDir)
	assert.Equal(t, filepath.Join("/var/cache/df", "packages"), OutDir)
	assert.Equal(t, filepath.Join("/var/cache/df", "src", "mesa"), WorkDir)
	assert.Equal(t, filepath.Join("/var/cache/df", "toolchains"), ToolchainDir)
	assert.Equal(t, filepath.Join("/var/cache/df", "logs"), LogDir)
	assert.Equal(t, runtime.NumCPU(), Jobs)
}

func TestInitConfigJobsOverride(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"DRAGONFORGE_CACHE_DIR": t.TempDir(),
		"DRAGONFORGE_JOBS":      "3",
	}}
	initConfig(cfg)
	assert.Equal(t, 3, Jobs)

	cfg.Values["DRAGONFORGE_JOBS"] = "banana"
	initConfig(cfg)
	assert.Equal(t, runtime.NumCPU(), Jobs)
}

func TestInitConfigMirror(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"DRAGONFORGE_CACHE_DIR": t.TempDir(),
		"DRAGONFORGE_MIRROR":    "https://mirror.example.org/drivers/",
	}}
	initConfig(cfg)
	assert.Equal(t, "https://mirror.example.org/drivers", UploadMirror)
}
