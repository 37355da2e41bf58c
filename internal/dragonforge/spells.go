package dragonforge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

type spellKind int

const (
	diffPatch spellKind = iota
	textRewrite
)

// rewriteRule is one best-effort find->replace. A rule that matches nothing
// is skipped, not failed: upstream text drifts and the spell must survive it.
type rewriteRule struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// mkAssignRule builds a rule rewriting `lvalue = anything;` to
// `lvalue = value;`, the workhorse shape for capability overrides.
func mkAssignRule(name, lvalue, value string) rewriteRule {
	return rewriteRule{
		name:    name,
		pattern: regexp.MustCompile(`(\b` + regexp.QuoteMeta(lvalue) + `\s*=\s*)[^;]+;`),
		replace: "${1}" + value + ";",
	}
}

// Spell is one named source transformation. DiffPatch spells carry an
// embedded unified diff; TextRewrite spells carry a target file plus rules
// and are made idempotent by a marker comment written into the target.
type Spell struct {
	Name   string
	Kind   spellKind
	Patch  string // asset filename under assets/spells (DiffPatch only)
	Target string // tree-relative file (TextRewrite only)
	Rules  []rewriteRule
}

// marker is the literal whose presence in the target means "this spell has
// already run". Idempotency lives inside the mutated tree itself, so
// repeated orchestration runs (CI retries) need no external state.
func (s Spell) marker() string {
	return fmt.Sprintf("/* dragonforge: %s */", s.Name)
}

type applyStatus int

const (
	spellApplied applyStatus = iota
	spellAlreadyApplied
	spellPartiallyApplied
	spellNotFound
)

func (st applyStatus) String() string {
	switch st {
	case spellApplied:
		return "applied"
	case spellAlreadyApplied:
		return "already-applied"
	case spellPartiallyApplied:
		return "partial"
	case spellNotFound:
		return "not-found"
	}
	return "unknown"
}

// spellbook maps spell names to their definitions. The capability-override
// rules follow the upstream turnip sources; when those files move the rules
// silently stop matching, which is the intended failure mode.
var spellbook = map[string]Spell{
	"debug-off": {
		Name:   "debug-off",
		Kind:   textRewrite,
		Target: "src/freedreno/vulkan/tu_device.cc",
		Rules: []rewriteRule{
			mkAssignRule("clear_debug_flags", "instance->debug_flags", "0"),
			{
				name:    "disable_startup_debug",
				pattern: regexp.MustCompile(`#define\s+TU_DEBUG_STARTUP\s+1`),
				replace: "#define TU_DEBUG_STARTUP 0",
			},
		},
	},
	"descriptor-pool": {
		Name:   "descriptor-pool",
		Kind:   textRewrite,
		Target: "src/freedreno/vulkan/tu_descriptor_set.cc",
		Rules: []rewriteRule{
			{
				name:    "increase_descriptor_pool",
				pattern: regexp.MustCompile(`(\bmaxSets\s*=\s*)\d+`),
				replace: "${1}16384",
			},
		},
	},
	// tiger-clamp keys off the marker descriptor-pool leaves behind, so the
	// registry must order descriptor-pool first.
	"tiger-clamp": {
		Name:   "tiger-clamp",
		Kind:   textRewrite,
		Target: "src/freedreno/vulkan/tu_descriptor_set.cc",
		Rules: []rewriteRule{
			{
				name:    "clamp_after_pool_bump",
				pattern: regexp.MustCompile(`/\* dragonforge: descriptor-pool \*/`),
				replace: "/* dragonforge: descriptor-pool */\n#define TU_TIGER_DESCRIPTOR_CLAMP 1",
			},
			mkAssignRule("clamp_pool_entries", "pool->max_entry_count", "TU_TIGER_DESCRIPTOR_CLAMP ? 16384 : 4096"),
		},
	},
	"wavesize": {
		Name:  "wavesize",
		Kind:  diffPatch,
		Patch: "wavesize.patch",
	},
	"adrenaline": {
		Name:  "adrenaline",
		Kind:  diffPatch,
		Patch: "adrenaline.patch",
	},
}

// spellOutcome is the telemetry record for one application attempt. Every
// swallowed failure shows up here so the best-effort policy stays auditable.
// The same spell runs once per variant, so each record carries the variant
// it was cast for.
type spellOutcome struct {
	Variant string `json:"variant,omitempty"`
	Spell   string `json:"spell"`
	Status  string `json:"status"`
	Applied int    `json:"applied"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

type transformEngine struct {
	exec     *Executor
	dryRun   bool
	variant  string // stamped onto every outcome recorded
	outcomes []spellOutcome

	// gitApply is swappable so tests can exercise the conflict ladder
	// without a real git tree.
	gitApply func(root string, args ...string) error
}

func newTransformEngine(e *Executor, dryRun bool) *transformEngine {
	t := &transformEngine{exec: e, dryRun: dryRun}
	t.gitApply = t.gitApplyCommand
	return t
}

func (t *transformEngine) gitApplyCommand(root string, args ...string) error {
	cmd := exec.Command("git", append([]string{"apply"}, args...)...)
	cmd.Dir = root
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := t.exec.Run(cmd); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return fmt.Errorf("git apply: %v: %s", err, msg)
		}
		return fmt.Errorf("git apply: %w", err)
	}
	return nil
}

// Apply runs one spell against the working copy. No status it returns is
// fatal: missing payloads and conflicted patches are logged, recorded and
// skipped, and the build proceeds on whatever tree state resulted.
func (t *transformEngine) Apply(wc *WorkingCopy, name string) applyStatus {
	sp, ok := spellbook[name]
	if !ok {
		colArrow.Print("-> ")
		colWarn.Printf("Spell %q is not in the spellbook, skipping\n", name)
		t.record(spellOutcome{Spell: name, Status: spellNotFound.String(), Error: errUnknownSpell.Error()})
		return spellNotFound
	}

	var status applyStatus
	switch sp.Kind {
	case diffPatch:
		status = t.applyPatch(wc, sp)
	default:
		status = t.applyRewrite(wc, sp)
	}

	colArrow.Print("-> ")
	switch status {
	case spellApplied:
		colSuccess.Printf("Spell %s: applied\n", sp.Name)
	case spellAlreadyApplied:
		colSuccess.Printf("Spell %s: already applied\n", sp.Name)
	case spellPartiallyApplied:
		colWarn.Printf("Spell %s: partially applied, continuing\n", sp.Name)
	case spellNotFound:
		colWarn.Printf("Spell %s: payload or target missing, skipping\n", sp.Name)
	}
	return status
}

func (t *transformEngine) record(o spellOutcome) {
	o.Variant = t.variant
	t.outcomes = append(t.outcomes, o)
}

func (t *transformEngine) applyRewrite(wc *WorkingCopy, sp Spell) applyStatus {
	targetPath := filepath.Join(wc.Root, sp.Target)
	data, err := os.ReadFile(targetPath)
	if err != nil {
		t.record(spellOutcome{Spell: sp.Name, Status: spellNotFound.String(), Error: err.Error()})
		return spellNotFound
	}
	content := string(data)

	if strings.Contains(content, sp.marker()) {
		t.record(spellOutcome{Spell: sp.Name, Status: spellAlreadyApplied.String()})
		return spellAlreadyApplied
	}

	applied, skipped := 0, 0
	for _, rule := range sp.Rules {
		matches := len(rule.pattern.FindAllStringIndex(content, -1))
		if matches == 0 {
			// Best effort: upstream text may have shifted under this rule.
			debugf("Spell %s rule %s matched nothing\n", sp.Name, rule.name)
			skipped++
			continue
		}
		content = rule.pattern.ReplaceAllString(content, rule.replace)
		applied += matches
		debugf("Spell %s rule %s: %d replacement(s)\n", sp.Name, rule.name, matches)
	}

	// The marker goes in even when every rule skipped: re-running this exact
	// spell must short-circuit rather than re-scan.
	content += "\n" + sp.marker() + "\n"

	if t.dryRun {
		t.record(spellOutcome{Spell: sp.Name, Status: spellApplied.String(), Applied: applied, Skipped: skipped})
		return spellApplied
	}

	if err := os.WriteFile(targetPath, []byte(content), 0o644); err != nil {
		t.record(spellOutcome{Spell: sp.Name, Status: spellPartiallyApplied.String(), Applied: applied, Skipped: skipped, Error: err.Error()})
		return spellPartiallyApplied
	}

	t.record(spellOutcome{Spell: sp.Name, Status: spellApplied.String(), Applied: applied, Skipped: skipped})
	return spellApplied
}

// applyPatch drives the conflict-fallback ladder: reverse-check (already
// applied) -> strict check + exact apply -> three-way merge -> give up as
// partial.
func (t *transformEngine) applyPatch(wc *WorkingCopy, sp Spell) applyStatus {
	payload, err := embeddedSpells.ReadFile("assets/spells/" + sp.Patch)
	if err != nil {
		t.record(spellOutcome{Spell: sp.Name, Status: spellNotFound.String(), Error: err.Error()})
		return spellNotFound
	}

	patchFile, err := os.CreateTemp(tmpDir, "dragonforge-spell-*.patch")
	if err != nil {
		t.record(spellOutcome{Spell: sp.Name, Status: spellPartiallyApplied.String(), Error: err.Error()})
		return spellPartiallyApplied
	}
	patchPath := patchFile.Name()
	defer os.Remove(patchPath)
	if _, err := patchFile.Write(payload); err != nil {
		patchFile.Close()
		t.record(spellOutcome{Spell: sp.Name, Status: spellPartiallyApplied.String(), Error: err.Error()})
		return spellPartiallyApplied
	}
	patchFile.Close()

	if t.gitApply(wc.Root, "--reverse", "--check", patchPath) == nil {
		t.record(spellOutcome{Spell: sp.Name, Status: spellAlreadyApplied.String()})
		return spellAlreadyApplied
	}

	if t.dryRun {
		if err := t.gitApply(wc.Root, "--check", patchPath); err != nil {
			t.record(spellOutcome{Spell: sp.Name, Status: spellPartiallyApplied.String(), Error: err.Error()})
			return spellPartiallyApplied
		}
		t.record(spellOutcome{Spell: sp.Name, Status: spellApplied.String(), Applied: 1})
		return spellApplied
	}

	if t.gitApply(wc.Root, "--check", patchPath) == nil {
		if err := t.gitApply(wc.Root, patchPath); err != nil {
			t.record(spellOutcome{Spell: sp.Name, Status: spellPartiallyApplied.String(), Error: err.Error()})
			return spellPartiallyApplied
		}
		t.record(spellOutcome{Spell: sp.Name, Status: spellApplied.String(), Applied: 1})
		return spellApplied
	}

	if err := t.gitApply(wc.Root, "--3way", patchPath); err != nil {
		t.record(spellOutcome{Spell: sp.Name, Status: spellPartiallyApplied.String(), Error: err.Error()})
		return spellPartiallyApplied
	}
	t.record(spellOutcome{Spell: sp.Name, Status: spellApplied.String(), Applied: 1})
	return spellApplied
}

// writeReport dumps the per-spell accounting for this run as JSON.
func (t *transformEngine) writeReport(path string) error {
	report := struct {
		DryRun   bool           `json:"dryRun"`
		Outcomes []spellOutcome `json:"outcomes"`
	}{DryRun: t.dryRun, Outcomes: t.outcomes}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
