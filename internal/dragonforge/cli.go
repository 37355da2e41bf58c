package dragonforge

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: dragonforge <command> [arguments]")
	colSuccess.Println("Run 'dragonforge <command>' for advanced options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"version, --version", "", "Version information"},
		{"build, b", "[-r rev] [-n] [-j N] [variant...]", "Build and package driver variant(s)"},
		{"variants", "", "List build variants and their spells"},
		{"spells", "", "List the spellbook"},
		{"fetch", "[-r rev]", "Acquire or refresh the upstream source tree"},
		{"toolchain", "", "Resolve or download the cross toolchain"},
		{"log", "[variant]", "TUI build log viewer, or page one variant's compile log"},
		{"upload", "[-c]", "Upload local packages to R2 and update index"},
		{"clean", "[options]", "Cleanup caches"},
	}

	// Find the longest usage string to size the first column.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))

		color.Info.Println(c.Desc)
	}

	fmt.Println()
}

// Main is the CLI entrypoint for cmd/dragonforge.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					// Packaging is writing into the output dir. Block the
					// first signal, force exit on the second.
					colArrow.Print("\n-> ")
					colError.Printf("Critical operation in progress (packaging). Press Ctrl+C AGAIN to force exit NOW.\n")

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
					cancel()

					// Give the running tool a moment to die and flush.
					time.Sleep(100 * time.Millisecond)

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.")
						os.Exit(0)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if path := os.Getenv("DRAGONFORGE_CONF"); path != "" {
		configPath = path
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", configPath, err)
	}
	initConfig(cfg)

	UserExec = &Executor{Context: ctx, ApplyIdlePriority: true}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "version", "--version":
		colSuccess.Printf("dragonforge %s (built %s)\n", version, buildDate)
		fmt.Printf("  upstream:  %s (%s)\n", upstreamPrimaryURL, upstreamBranch)
		fmt.Printf("  toolchain: %s (api %d)\n", ndkRelease, androidAPI)

	case "build", "b":
		buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
		revision := buildCmd.String("r", "", "Pin the upstream revision to build.")
		dryRun := buildCmd.Bool("n", false, "Apply spells only, skip compile and package.")
		jobs := buildCmd.Int("j", 0, "Parallel compile jobs (default: CPU count).")
		if err := buildCmd.Parse(args); err != nil {
			os.Exit(1)
		}
		if *jobs > 0 {
			Jobs = *jobs
		}
		DryRun = *dryRun

		names := buildCmd.Args()
		if len(names) == 0 {
			names = []string{defaultVariantName}
		}

		o := newOrchestrator(ctx, DryRun)
		if err := o.Run(ctx, names, *revision); err != nil {
			if errors.Is(err, context.Canceled) {
				os.Exit(130)
			}
			colArrow.Print("-> ")
			colError.Printf("Build run failed: %v\n", err)
			os.Exit(1)
		}

	case "variants":
		printVariants()

	case "spells":
		printSpells()

	case "fetch":
		fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
		revision := fetchCmd.String("r", "", "Pin the upstream revision to fetch.")
		if err := fetchCmd.Parse(args); err != nil {
			os.Exit(1)
		}
		acq := newSourceAcquirer(UserExec)
		if _, err := acq.Acquire(ctx, WorkDir, *revision); err != nil {
			colArrow.Print("-> ")
			colError.Printf("Fetch failed: %v\n", err)
			os.Exit(1)
		}

	case "toolchain":
		ndkRoot, err := resolveToolchain(ctx)
		if err != nil {
			colArrow.Print("-> ")
			colError.Printf("Toolchain resolution failed: %v\n", err)
			os.Exit(1)
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Toolchain ready: %s\n", ndkRoot)

	case "log":
		// Bare 'log' opens the live TUI; 'log <variant>' pages that
		// variant's most recent compile log.
		if len(args) == 0 {
			os.Exit(runTUI())
		}
		if err := showVariantLog(args[0]); err != nil {
			colArrow.Print("-> ")
			colError.Printf("Log unavailable: %v\n", err)
			os.Exit(1)
		}

	case "upload":
		if err := handleUploadCommand(args, cfg); err != nil {
			colArrow.Print("-> ")
			colError.Printf("Upload failed: %v\n", err)
			os.Exit(1)
		}

	case "clean":
		if err := handleCleanCommand(args); err != nil {
			colArrow.Print("-> ")
			colError.Printf("Clean failed: %v\n", err)
			os.Exit(1)
		}

	default:
		colArrow.Print("-> ")
		colWarn.Printf("Unknown command %q\n", command)
		printHelp()
		os.Exit(1)
	}
}
