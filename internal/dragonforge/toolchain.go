package dragonforge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ToolchainProfile is the resolved cross-compilation descriptor for one
// build. It is derived fresh for every build from the NDK root plus fixed
// target constants; nothing here comes from or leaks into the ambient
// process environment.
type ToolchainProfile struct {
	NDKRoot string
	Triple  string
	API     int
	CC      string
	CXX     string
	AR      string
	Strip   string
	CFlags  []string
	LDFlags []string
}

// deriveProfile is a pure function of the NDK root: same input, same
// profile, so per-variant builds can regenerate it at will.
func deriveProfile(ndkRoot string) ToolchainProfile {
	bin := filepath.Join(ndkRoot, "toolchains", "llvm", "prebuilt", "linux-x86_64", "bin")
	triple := "aarch64-linux-android"
	return ToolchainProfile{
		NDKRoot: ndkRoot,
		Triple:  triple,
		API:     androidAPI,
		CC:      filepath.Join(bin, fmt.Sprintf("%s%d-clang", triple, androidAPI)),
		CXX:     filepath.Join(bin, fmt.Sprintf("%s%d-clang++", triple, androidAPI)),
		AR:      filepath.Join(bin, "llvm-ar"),
		Strip:   filepath.Join(bin, "llvm-strip"),
		CFlags:  []string{"-O2", "-g0"},
		LDFlags: []string{"-Wl,--build-id=sha1"},
	}
}

// validNDKRoot reports whether root looks like an unpacked NDK with the
// prebuilt llvm layout we key the profile on.
func validNDKRoot(root string) bool {
	if root == "" {
		return false
	}
	return dirExists(filepath.Join(root, "toolchains", "llvm", "prebuilt", "linux-x86_64", "bin"))
}

// resolveToolchain locates or provisions the NDK: an already-exported
// environment wins over the cache, the cache wins over a fresh download.
func resolveToolchain(ctx context.Context) (string, error) {
	for _, envKey := range []string{"ANDROID_NDK_ROOT", "ANDROID_NDK_HOME"} {
		if root := os.Getenv(envKey); validNDKRoot(root) {
			debugf("Using NDK from %s: %s\n", envKey, root)
			return root, nil
		}
	}

	cached := filepath.Join(ToolchainDir, ndkRelease)
	if validNDKRoot(cached) {
		debugf("Using cached NDK: %s\n", cached)
		return cached, nil
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Provisioning toolchain %s\n", ndkRelease)

	// Cache key includes the URL hash so a bumped ndkURL busts stale archives.
	archiveName := fmt.Sprintf("%s-%s", hashString(ndkURL)[:16], filepath.Base(ndkURL))
	archivePath := filepath.Join(ToolchainDir, "_cache", archiveName)

	if !fileExists(archivePath) {
		err := runWithRetry(ctx, "download toolchain", 3, 10*time.Second, func() error {
			return downloadFile(ndkURL, archivePath)
		})
		if err != nil {
			os.Remove(archivePath)
			return "", fmt.Errorf("failed to download toolchain: %w", err)
		}
	} else {
		debugf("Toolchain archive already in cache: %s\n", archivePath)
	}

	if err := unpackToolchain(archivePath, cached); err != nil {
		// A corrupt archive left in the cache would short-circuit the
		// download on every future run.
		os.Remove(archivePath)
		return "", err
	}

	if !validNDKRoot(cached) {
		return "", fmt.Errorf("unpacked toolchain at %s does not have the expected layout", cached)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Toolchain ready: %s\n", cached)
	return cached, nil
}

// unpackToolchain extracts the archive into a staging directory and renames
// it into place so a cancelled unpack never leaves a half-valid cache entry.
func unpackToolchain(archivePath, dest string) error {
	staging := dest + ".partial"
	os.RemoveAll(staging)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}

	var err error
	if strings.HasSuffix(archivePath, ".zip") {
		err = unzipGo(archivePath, staging)
	} else {
		err = extractTar(archivePath, staging)
	}
	if err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("failed to unpack toolchain: %w", err)
	}

	// Zip bundles keep their top-level "android-ndk-rXX" directory
	// (extractTar already strips it for tarballs). Flatten if present.
	root := staging
	if inner := filepath.Join(staging, ndkRelease); dirExists(inner) {
		root = inner
	}

	os.RemoveAll(dest)
	if err := os.Rename(root, dest); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("failed to move toolchain into place: %w", err)
	}
	os.RemoveAll(staging)
	return nil
}
