package dragonforge

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// Load /etc/dragonforge.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge DRAGONFORGE_* env overrides
	mergeEnvOverrides(cfg)

	// Ensure TMPDIR has a default
	if tmp := cfg.Values["TMPDIR"]; tmp == "" {
		cfg.Values["TMPDIR"] = "/tmp"
	}

	return cfg, nil
}

// Merge DRAGONFORGE_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "DRAGONFORGE_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	CacheDir = cfg.Values["DRAGONFORGE_CACHE_DIR"]
	if CacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			CacheDir = filepath.Join(home, ".cache", "dragonforge")
		} else {
			CacheDir = "/var/cache/dragonforge"
		}
	}

	OutDir = cfg.Values["DRAGONFORGE_OUT_DIR"]
	if OutDir == "" {
		OutDir = filepath.Join(CacheDir, "packages")
	}

	tmpDir = cfg.Values["TMPDIR"]
	if tmpDir == "" {
		tmpDir = "/tmp"
	}

	Debug = cfg.Values["DRAGONFORGE_DEBUG"] == "1"
	Verbose = cfg.Values["DRAGONFORGE_VERBOSE"] == "1"

	Jobs = runtime.NumCPU()
	if j := cfg.Values["DRAGONFORGE_JOBS"]; j != "" {
		if n, err := strconv.Atoi(j); err == nil && n > 0 {
			Jobs = n
		} else {
			colWarn.Printf("Ignoring invalid DRAGONFORGE_JOBS=%q\n", j)
		}
	}

	if mirror, exists := cfg.Values["DRAGONFORGE_MIRROR"]; exists && mirror != "" {
		UploadMirror = strings.TrimRight(mirror, "/")
		debugf("=> Using upload mirror: %s\n", UploadMirror)
	}

	WorkDir = filepath.Join(CacheDir, "src", "mesa")
	ToolchainDir = filepath.Join(CacheDir, "toolchains")
	LogDir = filepath.Join(CacheDir, "logs")
}
