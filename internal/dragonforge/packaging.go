package dragonforge

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
)

// PackageDescriptor carries the four fields the archive name is built from.
type PackageDescriptor struct {
	Prefix   string
	Label    string
	Version  string
	Revision string
}

func (d PackageDescriptor) ArchiveName() string {
	return fmt.Sprintf("%s-%s-%s-%s.zip", d.Prefix, d.Label, d.Version, d.Revision)
}

// driverMeta is the loader-facing manifest shipped next to the library
// inside every archive.
type driverMeta struct {
	SchemaVersion  int    `json:"schemaVersion"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Author         string `json:"author"`
	PackageVersion string `json:"packageVersion"`
	Vendor         string `json:"vendor"`
	DriverVersion  string `json:"driverVersion"`
	MinAPI         int    `json:"minApi"`
	LibraryName    string `json:"libraryName"`
}

type packager struct {
	exec   *Executor
	outDir string
	now    func() time.Time

	// runPatchelf is swappable so tests can package without patchelf on PATH.
	runPatchelf func(args ...string) error
}

func newPackager(e *Executor) *packager {
	p := &packager{exec: e, outDir: OutDir, now: time.Now}
	p.runPatchelf = p.patchelfCommand
	return p
}

func (p *packager) patchelfCommand(args ...string) error {
	cmd := exec.Command("patchelf", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return p.exec.Run(cmd)
}

// Package stages the built library under its shipping name, rewrites its
// soname, writes the manifest and zips both into the output directory.
// The whole step runs critical: a half-written archive in outDir would look
// like a finished package.
func (p *packager) Package(res *BuildResult, wc *WorkingCopy, v Variant) (string, error) {
	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)

	if !fileExists(res.Artifact) {
		return "", fmt.Errorf("%w: built artifact missing at %s", errPackageFailed, res.Artifact)
	}

	staging, err := os.MkdirTemp(tmpDir, "dragonforge-pkg-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", errPackageFailed, err)
	}
	defer os.RemoveAll(staging)

	libPath := filepath.Join(staging, driverLibName)
	if err := copyFile(res.Artifact, libPath); err != nil {
		return "", fmt.Errorf("%w: staging copy: %v", errPackageFailed, err)
	}

	// The loader dlopens the library by its packaged name, so the soname
	// baked in by the linker has to be rewritten to match.
	if err := p.runPatchelf("--set-soname", driverLibName, libPath); err != nil {
		return "", fmt.Errorf("%w: patchelf: %v", errPackageFailed, err)
	}

	meta := driverMeta{
		SchemaVersion:  metaSchema,
		Name:           fmt.Sprintf("%s %s %s", packagePrefix, v.Label, wc.Version),
		Description:    fmt.Sprintf("Turnip %s build from Mesa %s (%s), packaged %s", v.Label, wc.Version, wc.Revision, p.now().UTC().Format(time.RFC3339)),
		Author:         packageAuthor,
		PackageVersion: wc.Version,
		Vendor:         packageVendor,
		DriverVersion:  wc.Version + "-" + wc.Revision,
		MinAPI:         packageMinAPI,
		LibraryName:    driverLibName,
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", errPackageFailed, err)
	}
	metaPath := filepath.Join(staging, "meta.json")
	if err := os.WriteFile(metaPath, append(metaData, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", errPackageFailed, err)
	}

	if err := os.MkdirAll(p.outDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", errPackageFailed, err)
	}

	desc := PackageDescriptor{
		Prefix:   packagePrefix,
		Label:    v.Label,
		Version:  wc.Version,
		Revision: wc.Revision,
	}
	archivePath := filepath.Join(p.outDir, desc.ArchiveName())
	if err := writeZip(archivePath, map[string]string{
		"meta.json":   metaPath,
		driverLibName: libPath,
	}); err != nil {
		os.Remove(archivePath)
		return "", fmt.Errorf("%w: %v", errPackageFailed, err)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Packaged %s\n", archivePath)
	return archivePath, nil
}

// writeZip creates a flat archive mapping entry names to source files.
func writeZip(dest string, entries map[string]string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for name, src := range entries {
		f, err := os.Open(src)
		if err != nil {
			zw.Close()
			return err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			zw.Close()
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			f.Close()
			zw.Close()
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			f.Close()
			zw.Close()
			return err
		}
		if _, err := io.Copy(w, f); err != nil {
			f.Close()
			zw.Close()
			return err
		}
		f.Close()
	}
	return zw.Close()
}
