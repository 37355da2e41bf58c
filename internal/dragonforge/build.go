package dragonforge

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// BuildResult only exists for a successful build; failures surface a log
// tail and an error instead.
type BuildResult struct {
	Artifact string
	Variant  string
	LogPath  string
}

type buildExecutor struct {
	exec    *Executor
	ndkRoot string
	jobs    int

	// runTool is swappable so tests can fail the configure or compile step
	// deterministically.
	runTool func(dir, logPath, name string, args ...string) error
}

func newBuildExecutor(e *Executor, ndkRoot string) *buildExecutor {
	b := &buildExecutor{exec: e, ndkRoot: ndkRoot, jobs: Jobs}
	b.runTool = b.runToolCommand
	return b
}

func (b *buildExecutor) runToolCommand(dir, logPath, name string, args ...string) error {
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create log file %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	var w io.Writer = logFile
	if Verbose {
		w = io.MultiWriter(logFile, os.Stdout)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	return b.exec.Run(cmd)
}

// crossFileContents renders the meson cross file for a profile. Pure
// text generation: the same profile always yields the same file.
func crossFileContents(p ToolchainProfile) string {
	var sb strings.Builder
	sb.WriteString("[binaries]\n")
	fmt.Fprintf(&sb, "c = '%s'\n", p.CC)
	fmt.Fprintf(&sb, "cpp = '%s'\n", p.CXX)
	fmt.Fprintf(&sb, "ar = '%s'\n", p.AR)
	fmt.Fprintf(&sb, "strip = '%s'\n", p.Strip)
	sb.WriteString("\n[built-in options]\n")
	fmt.Fprintf(&sb, "c_args = [%s]\n", quoteList(p.CFlags))
	fmt.Fprintf(&sb, "cpp_args = [%s]\n", quoteList(p.CFlags))
	fmt.Fprintf(&sb, "c_link_args = [%s]\n", quoteList(p.LDFlags))
	fmt.Fprintf(&sb, "cpp_link_args = [%s]\n", quoteList(p.LDFlags))
	sb.WriteString("\n[host_machine]\n")
	sb.WriteString("system = 'android'\n")
	sb.WriteString("cpu_family = 'aarch64'\n")
	sb.WriteString("cpu = 'aarch64'\n")
	sb.WriteString("endian = 'little'\n")
	return sb.String()
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "'" + item + "'"
	}
	return strings.Join(quoted, ", ")
}

// mesonOptions pins the build to exactly what the driver package needs.
// Everything irrelevant to the one artifact we ship is switched off so
// configure stays fast and compile stays bounded.
func mesonOptions() []string {
	return []string{
		"-Dbuildtype=release",
		"-Dplatforms=android",
		"-Dplatform-sdk-version=" + strconv.Itoa(androidAPI),
		"-Dandroid-stub=true",
		"-Dgallium-drivers=",
		"-Dvulkan-drivers=freedreno",
		"-Dfreedreno-kmds=kgsl",
		"-Dandroid-libbacktrace=disabled",
		"-Db_lto=true",
	}
}

// Build configures and compiles one variant. The configuration directory is
// destroyed first: meson caches flags, and a stale cache from a previous
// variant would contaminate this one.
func (b *buildExecutor) Build(wc *WorkingCopy, v Variant) (*BuildResult, error) {
	profile := deriveProfile(b.ndkRoot)

	if err := os.MkdirAll(LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	buildDir := filepath.Join(wc.Root, "build-"+v.Name)
	if err := os.RemoveAll(buildDir); err != nil {
		return nil, fmt.Errorf("failed to remove stale build dir: %w", err)
	}

	crossPath := filepath.Join(LogDir, v.Name+"-cross.ini")
	if err := os.WriteFile(crossPath, []byte(crossFileContents(profile)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write cross file: %w", err)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Configuring %s (%s, api %d)\n", v.Label, profile.Triple, profile.API)

	configureLog := filepath.Join(LogDir, v.Name+"-configure.log")
	setupArgs := append([]string{"setup", buildDir, "--cross-file", crossPath}, mesonOptions()...)
	if err := b.runTool(wc.Root, configureLog, "meson", setupArgs...); err != nil {
		colArrow.Print("-> ")
		colError.Printf("Configure failed for %s: %v\n", v.Label, err)
		printLogTail(configureLog, 40)
		return nil, fmt.Errorf("%w: configure step for %s: %v", errBuildFailed, v.Name, err)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Compiling %s (%d jobs)\n", v.Label, b.jobs)

	compileLog := filepath.Join(LogDir, v.Name+"-compile.log")
	ninjaArgs := []string{"-C", buildDir, "-j", strconv.Itoa(b.jobs), artifactRelPath}
	if err := b.runTool(wc.Root, compileLog, "ninja", ninjaArgs...); err != nil {
		colArrow.Print("-> ")
		colError.Printf("Compile failed for %s: %v\n", v.Label, err)
		printLogTail(compileLog, 40)
		return nil, fmt.Errorf("%w: compile step for %s: %v", errBuildFailed, v.Name, err)
	}

	// Archive the logs of the successful build; keep the path of the
	// compressed compile log for the result.
	logPath := compileLog
	if err := compressXZ(compileLog, compileLog+".xz"); err == nil {
		logPath = compileLog + ".xz"
	} else {
		debugf("Could not compress compile log: %v\n", err)
	}
	if err := compressXZ(configureLog, configureLog+".xz"); err != nil {
		debugf("Could not compress configure log: %v\n", err)
	}

	return &BuildResult{
		Artifact: filepath.Join(buildDir, artifactRelPath),
		Variant:  v.Name,
		LogPath:  logPath,
	}, nil
}

// printLogTail surfaces a bounded tail of an external tool's log: enough to
// be actionable, never the whole thing.
func printLogTail(path string, n int) {
	data, err := os.ReadFile(path)
	if err != nil {
		debugf("Could not read log %s: %v\n", path, err)
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	colWarn.Printf("--- last %d lines of %s ---\n", len(lines), path)
	for _, line := range lines {
		fmt.Println(line)
	}
	colWarn.Println("--- end of log tail ---")
}
