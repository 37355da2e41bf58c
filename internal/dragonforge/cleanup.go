package dragonforge

import (
	"flag"
	"fmt"
	"os/exec"
)

func handleCleanCommand(args []string) error {
	cleanCmd := flag.NewFlagSet("clean", flag.ExitOnError)
	cleanSources := cleanCmd.Bool("sources", false, "Remove the cached upstream working copy.")
	cleanToolchains := cleanCmd.Bool("toolchains", false, "Remove downloaded toolchains.")
	cleanPackages := cleanCmd.Bool("packages", false, "Remove built driver packages.")
	cleanLogs := cleanCmd.Bool("logs", false, "Remove build logs.")
	cleanAll := cleanCmd.Bool("all", false, "sources, toolchains, packages and logs.")

	if err := cleanCmd.Parse(args); err != nil {
		return err // Should not happen with flag.ExitOnError
	}

	if !*cleanSources && !*cleanToolchains && !*cleanPackages && !*cleanLogs && !*cleanAll {
		fmt.Println("Usage: dragonforge clean [flag]")
		fmt.Println("You must specify what to clean up. Use one of the following flags:")
		cleanCmd.PrintDefaults()
		return nil
	}

	if *cleanAll {
		*cleanSources = true
		*cleanToolchains = true
		*cleanPackages = true
		*cleanLogs = true
	}

	targets := []struct {
		enabled bool
		label   string
		dir     string
	}{
		{*cleanSources, "source working copy", WorkDir},
		{*cleanToolchains, "toolchain cache", ToolchainDir},
		{*cleanPackages, "package output", OutDir},
		{*cleanLogs, "build logs", LogDir},
	}

	for _, t := range targets {
		if !t.enabled {
			continue
		}
		colArrow.Print("-> ")
		cPrintf(colWarn, "Deleting %s at %s (%s).\n", t.label, t.dir, humanReadableSize(dirSize(t.dir)))
		if !askForConfirmation(colArrow, "Are you sure you want to proceed?") {
			colArrow.Print("-> ")
			colSuccess.Printf("Cleanup of %s canceled.\n", t.label)
			continue
		}
		debugf("Removing directory: %s\n", t.dir)
		rmCmd := exec.Command("rm", "-rf", t.dir)
		if err := UserExec.Run(rmCmd); err != nil {
			return fmt.Errorf("failed to remove %s: %w", t.label, err)
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Removed %s.\n", t.label)
	}

	return nil
}
