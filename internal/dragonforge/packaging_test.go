package dragonforge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPackager(t *testing.T) (*packager, *[][]string) {
	t.Helper()
	oldTmpDir := tmpDir
	tmpDir = t.TempDir()
	t.Cleanup(func() { tmpDir = oldTmpDir })

	var patchelfCalls [][]string
	p := newPackager(NewExecutor(context.Background()))
	p.outDir = filepath.Join(t.TempDir(), "packages")
	p.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	p.runPatchelf = func(args ...string) error {
		patchelfCalls = append(patchelfCalls, args)
		return nil
	}
	return p, &patchelfCalls
}

func fakeArtifact(t *testing.T) *BuildResult {
	t.Helper()
	path := filepath.Join(t.TempDir(), "libvulkan_freedreno.so")
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF fake driver"), 0o755))
	return &BuildResult{Artifact: path, Variant: "tiger"}
}

func TestPackageArchiveNameAndContents(t *testing.T) {
	p, patchelfCalls := testPackager(t)
	res := fakeArtifact(t)
	wc := &WorkingCopy{Version: "25.2.0", Revision: "abc1234"}

	archive, err := p.Package(res, wc, Variant{Name: "tiger", Label: "Tiger"})
	require.NoError(t, err)

	assert.Equal(t, "Dragon-Tiger-25.2.0-abc1234.zip", filepath.Base(archive))
	require.FileExists(t, archive)

	zr, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer zr.Close()

	names := make(map[string]*zip.File)
	for _, f := range zr.File {
		names[f.Name] = f
	}
	require.Contains(t, names, "meta.json")
	require.Contains(t, names, driverLibName)

	lib, err := names[driverLibName].Open()
	require.NoError(t, err)
	libData, err := io.ReadAll(lib)
	lib.Close()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x7fELF fake driver"), libData)

	// The soname is rewritten on the staged copy, never on the build output.
	require.Len(t, *patchelfCalls, 1)
	call := (*patchelfCalls)[0]
	assert.Equal(t, "--set-soname", call[0])
	assert.Equal(t, driverLibName, call[1])
	assert.NotEqual(t, res.Artifact, call[2])
}

func TestPackageMetaFields(t *testing.T) {
	p, _ := testPackager(t)
	res := fakeArtifact(t)
	wc := &WorkingCopy{Version: "25.2.0", Revision: "abc1234"}

	archive, err := p.Package(res, wc, Variant{Name: "tiger", Label: "Tiger"})
	require.NoError(t, err)

	zr, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer zr.Close()

	var meta driverMeta
	for _, f := range zr.File {
		if f.Name != "meta.json" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(rc).Decode(&meta))
		rc.Close()
	}

	assert.Equal(t, metaSchema, meta.SchemaVersion)
	assert.Equal(t, "Dragon Tiger 25.2.0", meta.Name)
	assert.Equal(t, packageAuthor, meta.Author)
	assert.Equal(t, packageVendor, meta.Vendor)
	assert.Equal(t, "25.2.0", meta.PackageVersion)
	assert.Equal(t, "25.2.0-abc1234", meta.DriverVersion)
	assert.Equal(t, packageMinAPI, meta.MinAPI)
	assert.Equal(t, driverLibName, meta.LibraryName)
	assert.Contains(t, meta.Description, "abc1234")
}

func TestPackageMissingArtifact(t *testing.T) {
	p, _ := testPackager(t)
	res := &BuildResult{Artifact: filepath.Join(t.TempDir(), "missing.so"), Variant: "tiger"}
	wc := &WorkingCopy{Version: "25.2.0", Revision: "abc1234"}

	_, err := p.Package(res, wc, Variant{Name: "tiger", Label: "Tiger"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errPackageFailed)
}

func TestPackagePatchelfFailure(t *testing.T) {
	p, _ := testPackager(t)
	p.runPatchelf = func(args ...string) error {
		return errors.New("not an ELF executable")
	}
	res := fakeArtifact(t)
	wc := &WorkingCopy{Version: "25.2.0", Revision: "abc1234"}

	_, err := p.Package(res, wc, Variant{Name: "tiger", Label: "Tiger"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errPackageFailed)

	// No archive may appear for a failed packaging run.
	entries, _ := os.ReadDir(p.outDir)
	assert.Empty(t, entries)
}

func TestPackageClearsCriticalFlag(t *testing.T) {
	p, _ := testPackager(t)
	res := fakeArtifact(t)
	wc := &WorkingCopy{Version: "25.2.0", Revision: "abc1234"}

	_, err := p.Package(res, wc, Variant{Name: "tiger", Label: "Tiger"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), isCriticalAtomic.Load())
}

func TestArchiveName(t *testing.T) {
	d := PackageDescriptor{Prefix: "Dragon", Label: "Phoenix", Version: "25.2.0", Revision: "deadbee"}
	assert.Equal(t, "Dragon-Phoenix-25.2.0-deadbee.zip", d.ArchiveName())
}
