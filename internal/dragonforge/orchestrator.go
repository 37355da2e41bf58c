package dragonforge

import (
	"context"
	"fmt"
	"path/filepath"
)

// variantResult is one row of the end-of-run summary.
type variantResult struct {
	Variant string
	Archive string
	Err     error
}

// orchestrator drives acquire -> transform -> build -> package across the
// requested variants. A failed variant is recorded and the run moves on;
// only a run that ships nothing at all fails.
type orchestrator struct {
	exec   *Executor
	engine *transformEngine
	dryRun bool

	// Stage seams. Wired to the real components in newOrchestrator,
	// swappable in tests.
	acquireSource func(ctx context.Context, dest, revision string) (*WorkingCopy, error)
	resetTree     func(wc *WorkingCopy) error
	resolveNDK    func(ctx context.Context) (string, error)
	buildVariant  func(ndkRoot string, wc *WorkingCopy, v Variant) (*BuildResult, error)
	packageBuild  func(res *BuildResult, wc *WorkingCopy, v Variant) (string, error)
}

func newOrchestrator(ctx context.Context, dryRun bool) *orchestrator {
	e := &Executor{Context: ctx, ApplyIdlePriority: true}
	acq := newSourceAcquirer(e)
	pkg := newPackager(e)
	o := &orchestrator{
		exec:          e,
		engine:        newTransformEngine(e, dryRun),
		dryRun:        dryRun,
		acquireSource: acq.Acquire,
		resetTree:     acq.Reset,
		resolveNDK:    resolveToolchain,
		packageBuild:  pkg.Package,
	}
	o.buildVariant = func(ndkRoot string, wc *WorkingCopy, v Variant) (*BuildResult, error) {
		return newBuildExecutor(e, ndkRoot).Build(wc, v)
	}
	return o
}

// Run builds the named variants against one shared working copy. The copy
// is reset to pristine upstream state before each variant so spell sets
// never bleed between flavors.
func (o *orchestrator) Run(ctx context.Context, names []string, revision string) error {
	wc, err := o.acquireSource(ctx, WorkDir, revision)
	if err != nil {
		return err
	}

	ndkRoot := ""
	if !o.dryRun {
		ndkRoot, err = o.resolveNDK(ctx)
		if err != nil {
			return fmt.Errorf("toolchain unavailable: %w", err)
		}
	}

	results := make([]variantResult, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		v := resolveVariant(name)
		if seen[v.Name] {
			continue
		}
		seen[v.Name] = true

		colArrow.Print("-> ")
		colInfo.Printf("Variant %s (%s)\n", v.Name, v.Label)

		if err := o.resetTree(wc); err != nil {
			results = append(results, variantResult{Variant: v.Name, Err: err})
			continue
		}

		o.engine.variant = v.Name
		for _, spell := range v.Spells {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			o.engine.Apply(wc, spell)
		}

		if o.dryRun {
			results = append(results, variantResult{Variant: v.Name, Archive: "(dry run)"})
			continue
		}

		res, err := o.buildVariant(ndkRoot, wc, v)
		if err != nil {
			results = append(results, variantResult{Variant: v.Name, Err: err})
			continue
		}

		archive, err := o.packageBuild(res, wc, v)
		if err != nil {
			results = append(results, variantResult{Variant: v.Name, Err: err})
			continue
		}
		results = append(results, variantResult{Variant: v.Name, Archive: archive})
	}

	reportPath := filepath.Join(LogDir, "spell-report.json")
	if err := o.engine.writeReport(reportPath); err != nil {
		colArrow.Print("-> ")
		colWarn.Printf("Could not write spell report: %v\n", err)
	} else {
		debugf("Spell report written to %s\n", reportPath)
	}

	return summarize(results, o.dryRun)
}

func summarize(results []variantResult, dryRun bool) error {
	built, failed := 0, 0
	colInfo.Println("Run summary:")
	for _, r := range results {
		if r.Err != nil {
			failed++
			colError.Printf("  %-10s FAILED: %v\n", r.Variant, r.Err)
			continue
		}
		built++
		colSuccess.Printf("  %-10s %s\n", r.Variant, r.Archive)
	}
	colArrow.Print("-> ")
	colInfo.Printf("%d succeeded, %d failed\n", built, failed)
	if dryRun {
		return nil
	}
	if built == 0 {
		return fmt.Errorf("%w: no variant produced a package", errBuildFailed)
	}
	return nil
}
