package dragonforge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// RepoEntry is one published driver package in the remote index.
type RepoEntry struct {
	Filename string `json:"filename"`
	Variant  string `json:"variant"`
	Version  string `json:"version"`
	Revision string `json:"revision"`
	B3Sum    string `json:"b3sum"`
	Size     int64  `json:"size"`
	BuiltAt  int64  `json:"builtAt"` // archive mtime, unix seconds
}

const remoteIndexName = "index.json"

// parseArchiveName splits "<prefix>-<label>-<version>-<revision>.zip" back
// into an index entry. Labels never contain dashes, versions may.
func parseArchiveName(filename string) (RepoEntry, error) {
	base := strings.TrimSuffix(filename, ".zip")
	if base == filename {
		return RepoEntry{}, fmt.Errorf("not a package archive: %s", filename)
	}
	parts := strings.Split(base, "-")
	if len(parts) < 4 || parts[0] != packagePrefix {
		return RepoEntry{}, fmt.Errorf("unrecognized archive name: %s", filename)
	}
	return RepoEntry{
		Filename: filename,
		Variant:  parts[1],
		Version:  strings.Join(parts[2:len(parts)-1], "-"),
		Revision: parts[len(parts)-1],
	}, nil
}

func parseRepoIndex(data []byte) ([]RepoEntry, error) {
	var entries []RepoEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// handleUploadCommand implements the 'dragonforge upload' command: push new
// or changed local packages to R2 and refresh the remote index.
func handleUploadCommand(args []string, cfg *Config) error {
	ctx := context.Background()

	cleanup := false
	for _, arg := range args {
		if arg == "--cleanup" || arg == "-c" {
			cleanup = true
		}
	}

	r2, err := NewR2Client(cfg)
	if err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Println("Fetching remote index from R2")
	remoteIndexData, err := r2.DownloadFile(ctx, remoteIndexName)
	var remoteIndex []RepoEntry
	if err != nil {
		debugf("Remote index not found or error fetching: %v\n", err)
	} else {
		remoteIndex, err = parseRepoIndex(remoteIndexData)
		if err != nil {
			return fmt.Errorf("failed to parse remote index: %w", err)
		}
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Scanning local packages in %s\n", OutDir)
	localFiles, err := filepath.Glob(filepath.Join(OutDir, "*.zip"))
	if err != nil {
		return err
	}

	// Keep only the newest local archive per variant.
	latestLocals := make(map[string]RepoEntry)
	for _, file := range localFiles {
		entry, err := parseArchiveName(filepath.Base(file))
		if err != nil {
			debugf("Warning: skipping %s: %v\n", file, err)
			continue
		}
		sum, err := hashFile(file)
		if err != nil {
			debugf("Warning: could not hash %s: %v\n", file, err)
			continue
		}
		entry.B3Sum = sum
		if info, err := os.Stat(file); err == nil {
			entry.Size = info.Size()
			entry.BuiltAt = info.ModTime().Unix()
		}
		if existing, ok := latestLocals[entry.Variant]; !ok || isNewer(entry, existing) {
			latestLocals[entry.Variant] = entry
		}
	}

	newIndexMap := make(map[string]RepoEntry)
	for _, entry := range remoteIndex {
		newIndexMap[entry.Variant] = entry
	}

	var sortedVariants []string
	for v := range latestLocals {
		sortedVariants = append(sortedVariants, v)
	}
	sort.Strings(sortedVariants)

	var uploadedCount int
	for _, variant := range sortedVariants {
		local := latestLocals[variant]
		remote, exists := newIndexMap[variant]

		needsUpload := !exists || isNewer(local, remote) || local.B3Sum != remote.B3Sum
		if !needsUpload {
			continue
		}

		colArrow.Print("-> ")
		if !askForConfirmation(colWarn, "Upload %s %s-%s (%s)? ", packagePrefix, local.Version, local.Revision, local.Variant) {
			continue
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Uploading to R2: %s\n", local.Filename)
		if err := r2.UploadLocalFile(ctx, local.Filename, filepath.Join(OutDir, local.Filename)); err != nil {
			return fmt.Errorf("failed to upload %s: %w", local.Filename, err)
		}
		newIndexMap[variant] = local
		uploadedCount++
	}

	if cleanup {
		colArrow.Print("-> ")
		colSuccess.Println("Checking for old versions on R2 to cleanup")
		remoteObjects, err := r2.ListObjects(ctx, "")
		if err != nil {
			return fmt.Errorf("failed to list remote files: %w", err)
		}

		activeFiles := make(map[string]bool)
		for _, entry := range newIndexMap {
			activeFiles[entry.Filename] = true
		}
		activeFiles[remoteIndexName] = true

		var deletedCount int
		for _, obj := range remoteObjects {
			if !activeFiles[obj.Key] && strings.HasSuffix(obj.Key, ".zip") {
				colArrow.Print("-> ")
				if askForConfirmation(colError, "Delete old version from R2: %s? ", obj.Key) {
					if err := r2.DeleteFile(ctx, obj.Key); err != nil {
						fmt.Fprintf(os.Stderr, "Warning: failed to delete %s: %v\n", obj.Key, err)
					} else {
						deletedCount++
					}
				}
			}
		}
		if deletedCount > 0 {
			colSuccess.Printf("Cleanup complete. Deleted %d old files.\n", deletedCount)
		}
	}

	colArrow.Print("-> ")
	colSuccess.Println("Calculating storage usage")
	allObjects, err := r2.ListObjects(ctx, "")
	if err == nil {
		var totalSize int64
		for _, obj := range allObjects {
			totalSize += obj.Size
		}

		const tenGB = 10 * 1024 * 1024 * 1024
		percent := (float64(totalSize) / float64(tenGB)) * 100
		colArrow.Print("-> ")
		colSuccess.Printf("Storage used: ")
		colInfo.Printf("%s / 10 GiB (%.1f%%)\n", humanReadableSize(totalSize), percent)

		if totalSize > (tenGB * 9 / 10) {
			colWarn.Println("Warning: You are using over 90% of your free R2 storage limit!")
		}
	}

	if uploadedCount > 0 || cleanup {
		colArrow.Print("-> ")
		colSuccess.Println("Updating remote index")

		finalizedIndex := make([]RepoEntry, 0, len(newIndexMap))
		for _, entry := range newIndexMap {
			finalizedIndex = append(finalizedIndex, entry)
		}
		sort.Slice(finalizedIndex, func(i, j int) bool {
			return finalizedIndex[i].Variant < finalizedIndex[j].Variant
		})

		indexBytes, err := json.MarshalIndent(finalizedIndex, "", "  ")
		if err != nil {
			return err
		}
		if err := r2.UploadFile(ctx, remoteIndexName, indexBytes); err != nil {
			return fmt.Errorf("failed to upload index: %w", err)
		}
		colSuccess.Printf("Sync complete. Updated index with %d new uploads.\n", uploadedCount)
	} else {
		colArrow.Print("-> ")
		colSuccess.Printf("Everything up to date.\n")
	}

	return nil
}

// isNewer returns true if a is newer than b. Equal versions tie-break on
// the build timestamp; revisions are git hashes and carry no ordering.
func isNewer(a, b RepoEntry) bool {
	cmp := compareVersions(a.Version, b.Version)
	if cmp != 0 {
		return cmp > 0
	}
	return a.BuiltAt > b.BuiltAt
}

// compareVersions compares dotted version strings numerically where the
// segments parse as numbers, lexically otherwise.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, ea := strconv.Atoi(sa)
		nb, eb := strconv.Atoi(sb)
		if ea == nil && eb == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if sa != sb {
			if sa < sb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func humanReadableSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
