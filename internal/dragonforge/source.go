package dragonforge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// WorkingCopy is the mutable on-disk checkout of the upstream tree. One
// working copy is shared by all variants of a run, strictly sequentially.
type WorkingCopy struct {
	Root     string
	Revision string // resolved short hash
	Version  string // declared version from the VERSION marker file
}

// sourceCandidate is one remote to try. Candidates are consulted strictly
// in declared order; the first one that yields a checkout wins.
type sourceCandidate struct {
	URL    string
	Branch string
}

var defaultSources = []sourceCandidate{
	{URL: upstreamPrimaryURL, Branch: upstreamBranch},
	{URL: upstreamMirrorURL, Branch: upstreamBranch},
}

type sourceAcquirer struct {
	exec     *Executor
	sources  []sourceCandidate
	attempts int
	delay    time.Duration

	// runGit is swappable so tests can observe the exact call sequence.
	runGit func(dir string, args ...string) (string, error)
}

func newSourceAcquirer(e *Executor) *sourceAcquirer {
	a := &sourceAcquirer{
		exec:     e,
		sources:  defaultSources,
		attempts: 3,
		delay:    10 * time.Second,
	}
	a.runGit = a.gitCommand
	return a
}

func (a *sourceAcquirer) gitCommand(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := a.exec.Run(cmd); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return msg, fmt.Errorf("git %s: %v: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(out.String()), nil
}

// Acquire resolves a working copy at dest, trying each candidate source in
// order with bounded retries. A pinned revision that cannot be fetched is a
// warning, not a failure: the build proceeds on whatever tip was obtained.
func (a *sourceAcquirer) Acquire(ctx context.Context, dest, revision string) (*WorkingCopy, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create source parent dir: %w", err)
	}

	if dirExists(filepath.Join(dest, ".git")) {
		// Reuse the cached clone. A failed refresh is tolerated: we would
		// rather build from a slightly stale tree than not build at all.
		debugf("Reusing working copy at %s\n", dest)
		if _, err := a.runGit(dest, "fetch", "--depth=1", "origin", upstreamBranch); err != nil {
			colArrow.Print("-> ")
			colWarn.Printf("Could not refresh working copy, building from cached tree: %v\n", err)
		} else if _, err := a.runGit(dest, "checkout", "--detach", "FETCH_HEAD"); err != nil {
			colArrow.Print("-> ")
			colWarn.Printf("Could not advance to fetched tip: %v\n", err)
		}
	} else {
		cloned := false
		for _, cand := range a.sources {
			desc := fmt.Sprintf("clone %s", cand.URL)
			err := runWithRetry(ctx, desc, a.attempts, a.delay, func() error {
				// Remove any partial clone left by a failed attempt.
				os.RemoveAll(dest)
				_, cloneErr := a.runGit("", "clone", "--depth=1", "--branch", cand.Branch, cand.URL, dest)
				return cloneErr
			})
			if err == nil {
				cloned = true
				break
			}
			colArrow.Print("-> ")
			colWarn.Printf("Source %s unavailable, trying next candidate\n", cand.URL)
		}
		if !cloned {
			return nil, fmt.Errorf("%w: no candidate source yielded a checkout", errAcquisition)
		}
	}

	if revision != "" {
		a.pinRevision(dest, revision)
	}

	wc := &WorkingCopy{Root: dest, Revision: "unknown", Version: "unknown"}
	if rev, err := a.runGit(dest, "rev-parse", "--short", "HEAD"); err == nil && rev != "" {
		wc.Revision = rev
	}
	if data, err := os.ReadFile(filepath.Join(dest, versionMarkerFile)); err == nil {
		if fields := strings.Fields(string(data)); len(fields) > 0 {
			wc.Version = fields[0]
		}
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Source ready: %s (rev %s, version %s)\n", dest, wc.Revision, wc.Version)
	return wc, nil
}

// pinRevision moves the working copy to an exact upstream revision. Shallow
// clones rarely contain arbitrary hashes, so try a local checkout first and
// fall back to fetching the revision explicitly. Both failing demotes the
// pin to a warning and the build continues on the current tip.
func (a *sourceAcquirer) pinRevision(dest, revision string) {
	if _, err := a.runGit(dest, "checkout", "--detach", revision); err == nil {
		return
	}
	if _, err := a.runGit(dest, "fetch", "--depth=1", "origin", revision); err == nil {
		if _, err := a.runGit(dest, "checkout", "--detach", "FETCH_HEAD"); err == nil {
			return
		}
	}
	colArrow.Print("-> ")
	colWarn.Printf("Requested revision %s not found upstream, building tip of %s instead\n", revision, upstreamBranch)
}

// Reset discards every local mutation (spell rewrites, applied patches,
// stray build directories) so the next variant starts from pristine source.
func (a *sourceAcquirer) Reset(wc *WorkingCopy) error {
	if _, err := a.runGit(wc.Root, "checkout", "--", "."); err != nil {
		return fmt.Errorf("failed to reset tracked files: %w", err)
	}
	if _, err := a.runGit(wc.Root, "clean", "-fdq"); err != nil {
		return fmt.Errorf("failed to remove untracked files: %w", err)
	}
	return nil
}
