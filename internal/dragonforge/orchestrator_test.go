package dragonforge

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStages struct {
	resets   int
	builds   []string
	packages []string

	buildErr   map[string]error
	packageErr map[string]error
}

func stubOrchestrator(t *testing.T, dryRun bool) (*orchestrator, *stubStages) {
	t.Helper()
	WorkDir = filepath.Join(t.TempDir(), "src", "mesa")
	LogDir = filepath.Join(t.TempDir(), "logs")
	OutDir = filepath.Join(t.TempDir(), "packages")

	s := &stubStages{buildErr: map[string]error{}, packageErr: map[string]error{}}
	o := newOrchestrator(context.Background(), dryRun)
	o.acquireSource = func(ctx context.Context, dest, revision string) (*WorkingCopy, error) {
		return &WorkingCopy{Root: dest, Revision: "abc1234", Version: "25.2.0"}, nil
	}
	o.resetTree = func(wc *WorkingCopy) error {
		s.resets++
		return nil
	}
	o.resolveNDK = func(ctx context.Context) (string, error) {
		return "/opt/ndk", nil
	}
	o.buildVariant = func(ndkRoot string, wc *WorkingCopy, v Variant) (*BuildResult, error) {
		s.builds = append(s.builds, v.Name)
		if err := s.buildErr[v.Name]; err != nil {
			return nil, err
		}
		return &BuildResult{Artifact: "/fake/" + v.Name + ".so", Variant: v.Name}, nil
	}
	o.packageBuild = func(res *BuildResult, wc *WorkingCopy, v Variant) (string, error) {
		s.packages = append(s.packages, v.Name)
		if err := s.packageErr[v.Name]; err != nil {
			return "", err
		}
		return filepath.Join(OutDir, v.Label+".zip"), nil
	}
	return o, s
}

func TestRunBuildsEachVariantOnFreshTree(t *testing.T) {
	o, s := stubOrchestrator(t, false)

	err := o.Run(context.Background(), []string{"vanilla", "tiger"}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, s.resets)
	assert.Equal(t, []string{"vanilla", "tiger"}, s.builds)
	assert.Equal(t, []string{"vanilla", "tiger"}, s.packages)
}

func TestRunContinuesPastFailedVariant(t *testing.T) {
	o, s := stubOrchestrator(t, false)
	s.buildErr["tiger"] = errors.New("compile exploded")

	err := o.Run(context.Background(), []string{"tiger", "wyvern"}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"tiger", "wyvern"}, s.builds)
	assert.Equal(t, []string{"wyvern"}, s.packages)
}

func TestRunFailsWhenNothingShips(t *testing.T) {
	o, s := stubOrchestrator(t, false)
	s.buildErr["tiger"] = errors.New("compile exploded")
	s.packageErr["wyvern"] = errors.New("disk full")

	err := o.Run(context.Background(), []string{"tiger", "wyvern"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBuildFailed)
}

func TestRunDeduplicatesVariants(t *testing.T) {
	o, s := stubOrchestrator(t, false)

	err := o.Run(context.Background(), []string{"tiger", "tiger", "TIGER"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"tiger"}, s.builds)
}

func TestRunUnknownVariantFallsBackToDefault(t *testing.T) {
	o, s := stubOrchestrator(t, false)

	err := o.Run(context.Background(), []string{"gryphon"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{defaultVariantName}, s.builds)
}

func TestRunDryRunSkipsBuildAndPackage(t *testing.T) {
	o, s := stubOrchestrator(t, true)
	o.resolveNDK = func(ctx context.Context) (string, error) {
		t.Fatal("dry run must not resolve the toolchain")
		return "", nil
	}

	err := o.Run(context.Background(), []string{"phoenix"}, "")
	require.NoError(t, err)
	assert.Empty(t, s.builds)
	assert.Empty(t, s.packages)
	assert.Equal(t, 1, s.resets)
}

func TestRunAcquisitionFailureIsFatal(t *testing.T) {
	o, s := stubOrchestrator(t, false)
	o.acquireSource = func(ctx context.Context, dest, revision string) (*WorkingCopy, error) {
		return nil, errAcquisition
	}

	err := o.Run(context.Background(), []string{"vanilla"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errAcquisition)
	assert.Empty(t, s.builds)
}

func TestRunWritesSpellReport(t *testing.T) {
	o, _ := stubOrchestrator(t, false)

	// The stub working copy has no real sources, so every spell records a
	// not-found outcome; the report must still land, with each outcome
	// attributed to the variant that cast it.
	err := o.Run(context.Background(), []string{"vanilla", "tiger"}, "")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(LogDir, "spell-report.json"))
	require.NoError(t, err)

	var report struct {
		Outcomes []spellOutcome `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	require.NotEmpty(t, report.Outcomes)

	variants := map[string]bool{}
	for _, outcome := range report.Outcomes {
		require.NotEmpty(t, outcome.Variant)
		variants[outcome.Variant] = true
	}
	assert.True(t, variants["vanilla"])
	assert.True(t, variants["tiger"])
}

func TestRunCancelledBetweenSpells(t *testing.T) {
	o, s := stubOrchestrator(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := o.Run(ctx, []string{"vanilla"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.builds)
}
