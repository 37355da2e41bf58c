package dragonforge

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/ulikunitz/xz"
)

type logInfo struct {
	path      string
	content   string
	buildDir  string // build dir the log belongs to, empty if gone
	canDelete bool
}

var (
	tuiApp          *tview.Application
	tuiLogs         []logInfo
	tuiActiveIdx    int
	tuiPrevIdx      int // track previous index to detect pane switches
	tuiHeaderBox    *tview.TextView
	tuiLogView      *tview.TextView
	tuiFooterBox    *tview.TextView
	tuiFlex         *tview.Flex
	tuiUpdateChan   chan []logInfo
	tuiPrevContent  map[string]string
	tuiShouldScroll bool
)

// runTUI shows a live viewer over the configure and compile logs in LogDir.
// Logs refresh while a build runs in another terminal.
func runTUI() int {
	tuiUpdateChan = make(chan []logInfo, 10)
	tuiPrevContent = make(map[string]string)
	tuiPrevIdx = -1

	tuiApp = tview.NewApplication()

	tuiHeaderBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	tuiHeaderBox.SetBorder(true)
	tuiHeaderBox.SetTitle("dragonforge Build Log Viewer")

	tuiLogView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true).
		SetChangedFunc(func() {
			tuiApp.Draw()
		})
	tuiLogView.SetBorder(true)

	tuiFooterBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	tuiFooterBox.SetBorder(true)

	tuiFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tuiHeaderBox, 3, 0, false).
		AddItem(tuiLogView, 0, 1, true).
		AddItem(tuiFooterBox, 4, 0, false)

	tuiFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			tuiApp.Stop()
			return nil
		case tcell.KeyLeft:
			switchPane(-1)
			return nil
		case tcell.KeyRight:
			switchPane(1)
			return nil
		case tcell.KeyHome:
			tuiLogView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			tuiLogView.ScrollToEnd()
			return nil
		case tcell.KeyUp:
			row, _ := tuiLogView.GetScrollOffset()
			if row > 0 {
				tuiLogView.ScrollTo(row-1, 0)
			}
			return nil
		case tcell.KeyDown:
			row, _ := tuiLogView.GetScrollOffset()
			tuiLogView.ScrollTo(row+1, 0)
			return nil
		case tcell.KeyPgUp:
			row, _ := tuiLogView.GetScrollOffset()
			if row > 10 {
				tuiLogView.ScrollTo(row-10, 0)
			} else {
				tuiLogView.ScrollToBeginning()
			}
			return nil
		case tcell.KeyPgDn:
			row, _ := tuiLogView.GetScrollOffset()
			tuiLogView.ScrollTo(row+10, 0)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				tuiApp.Stop()
				return nil
			case 'd':
				if tuiActiveIdx < len(tuiLogs) {
					log := tuiLogs[tuiActiveIdx]
					if log.canDelete {
						os.RemoveAll(log.buildDir)
						go func() {
							tuiUpdateChan <- readAllBuildLogs()
						}()
					}
				}
				return nil
			case 'h':
				switchPane(-1)
				return nil
			case 'l':
				switchPane(1)
				return nil
			}
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(400 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			logs := readAllBuildLogs()
			select {
			case tuiUpdateChan <- logs:
			default:
			}
		}
	}()

	go func() {
		for logs := range tuiUpdateChan {
			var currentLogPath string
			if tuiActiveIdx < len(tuiLogs) {
				currentLogPath = tuiLogs[tuiActiveIdx].path
			}

			tuiLogs = logs

			if currentLogPath != "" {
				found := false
				for i, log := range tuiLogs {
					if log.path == currentLogPath {
						tuiActiveIdx = i
						found = true
						break
					}
				}
				if !found && tuiActiveIdx >= len(tuiLogs) && len(tuiLogs) > 0 {
					tuiActiveIdx = len(tuiLogs) - 1
				}
			}

			tuiApp.QueueUpdateDraw(func() {
				updateTUI()
			})
		}
	}()

	tuiApp.SetRoot(tuiFlex, true).SetFocus(tuiLogView)

	tuiLogs = readAllBuildLogs()
	if len(tuiLogs) > 0 {
		tuiActiveIdx = 0
	}
	updateTUI()

	if err := tuiApp.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "tui:", err)
		return 1
	}
	return 0
}

func switchPane(delta int) {
	if len(tuiLogs) == 0 {
		return
	}
	tuiActiveIdx = (tuiActiveIdx + delta + len(tuiLogs)) % len(tuiLogs)
	tuiShouldScroll = true
	updateTUI()
}

func updateTUI() {
	if tuiApp == nil || tuiHeaderBox == nil || tuiLogView == nil || tuiFooterBox == nil {
		return
	}

	var headerText strings.Builder
	if len(tuiLogs) == 0 {
		headerText.WriteString("[gray]No build logs found[white]")
	} else if tuiActiveIdx < len(tuiLogs) {
		log := tuiLogs[tuiActiveIdx]
		titleText := fmt.Sprintf("Build Log %d/%d: %s", tuiActiveIdx+1, len(tuiLogs), log.path)
		if log.canDelete {
			titleText += fmt.Sprintf(" | [red]Press 'd' to delete: %s[white]", log.buildDir)
		}
		headerText.WriteString(fmt.Sprintf("[gray]%s[white]", titleText))
	} else {
		headerText.WriteString("[gray]No active log[white]")
	}
	tuiHeaderBox.SetText(headerText.String())

	if len(tuiLogs) == 0 {
		tuiLogView.SetText("No build log yet. Run 'dragonforge build <variant>' to start a build.")
	} else if tuiActiveIdx < len(tuiLogs) {
		log := tuiLogs[tuiActiveIdx]
		prevContent, hadPrevContent := tuiPrevContent[log.path]

		switchedPanes := (tuiPrevIdx != tuiActiveIdx)
		if switchedPanes {
			tuiPrevIdx = tuiActiveIdx
		}

		if log.content != prevContent || switchedPanes {
			row, _ := tuiLogView.GetScrollOffset()

			wasAtBottom := false
			if !switchedPanes && hadPrevContent {
				tuiLogView.ScrollTo(row+1, 0)
				newRow, _ := tuiLogView.GetScrollOffset()
				wasAtBottom = (newRow == row)
				tuiLogView.ScrollTo(row, 0)
			}

			tuiLogView.Clear()
			ansiWriter := tview.ANSIWriter(tuiLogView)
			ansiWriter.Write([]byte(log.content))

			if switchedPanes || tuiShouldScroll {
				tuiLogView.ScrollToEnd()
				tuiShouldScroll = false
			} else if wasAtBottom {
				tuiLogView.ScrollToEnd()
			} else if hadPrevContent {
				prevLines := strings.Count(prevContent, "\n")
				newLines := strings.Count(log.content, "\n")
				if newLines > prevLines {
					tuiLogView.ScrollTo(row+(newLines-prevLines), 0)
				} else {
					tuiLogView.ScrollTo(row, 0)
				}
			}

			tuiPrevContent[log.path] = log.content
		}
	} else {
		tuiLogView.SetText("")
	}

	footerSegments := []string{
		"Press 'q' or Ctrl+Q to quit",
		"← → (or h/l) to switch logs",
		"↑ ↓ to scroll",
		"Home/End to jump to start/end",
	}
	if len(tuiLogs) > 0 && tuiActiveIdx < len(tuiLogs) && tuiLogs[tuiActiveIdx].canDelete {
		footerSegments = append(footerSegments, "'d' to delete build dir")
	}
	tuiFooterBox.SetText(fmt.Sprintf("[gray]%s[white]", strings.Join(footerSegments, " | ")))
}

// readAllBuildLogs scans LogDir for configure and compile logs, live and
// archived, newest first.
func readAllBuildLogs() []logInfo {
	var allPaths []string
	for _, pattern := range []string{"*-configure.log", "*-compile.log", "*-configure.log.xz", "*-compile.log.xz"} {
		paths, _ := filepath.Glob(filepath.Join(LogDir, pattern))
		allPaths = append(allPaths, paths...)
	}

	if len(allPaths) == 0 {
		return []logInfo{{path: "No logs", content: "No build log yet. Run 'dragonforge build <variant>' to see logs here."}}
	}

	sort.Slice(allPaths, func(i, j int) bool {
		ai, err1 := os.Stat(allPaths[i])
		aj, err2 := os.Stat(allPaths[j])
		if err1 != nil || err2 != nil {
			return allPaths[i] > allPaths[j]
		}
		return ai.ModTime().After(aj.ModTime())
	})

	logs := make([]logInfo, 0, len(allPaths))
	for _, path := range allPaths {
		content, err := readLogFile(path)
		if err != nil {
			content = fmt.Sprintf("failed to read log: %v", err)
		}

		buildDir := buildDirForLog(path)
		canDelete := buildDir != "" && canDeleteBuildDir(buildDir)

		logs = append(logs, logInfo{
			path:      path,
			content:   content,
			buildDir:  buildDir,
			canDelete: canDelete,
		})
	}

	return logs
}

// buildDirForLog maps "<variant>-compile.log[.xz]" back to the variant's
// build directory, empty if that directory no longer exists.
func buildDirForLog(logPath string) string {
	base := strings.TrimSuffix(filepath.Base(logPath), ".xz")
	base = strings.TrimSuffix(base, ".log")
	idx := strings.LastIndex(base, "-")
	if idx <= 0 {
		return ""
	}
	dir := filepath.Join(WorkDir, "build-"+base[:idx])
	if !dirExists(dir) {
		return ""
	}
	return dir
}

// canDeleteBuildDir reports whether a build directory looks idle: nothing
// inside it touched in the last 5 minutes.
func canDeleteBuildDir(buildDir string) bool {
	info, err := os.Stat(buildDir)
	if err != nil {
		return false
	}

	mostRecentMod := info.ModTime()
	filepath.Walk(buildDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.ModTime().After(mostRecentMod) {
			mostRecentMod = info.ModTime()
		}
		return nil
	})

	return time.Since(mostRecentMod) >= 5*time.Minute
}

// showVariantLog pages the most recent compile log of one variant,
// preferring the live log over the archived one.
func showVariantLog(name string) error {
	v := resolveVariant(name)
	path := filepath.Join(LogDir, v.Name+"-compile.log")
	if !fileExists(path) {
		path += ".xz"
	}
	content, err := readLogFile(path)
	if err != nil {
		return err
	}
	return RunPager(v.Name+" compile log", strings.Split(strings.TrimRight(content, "\n"), "\n"))
}

// readLogFile reads a log, transparently decompressing archived ones.
func readLogFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			return "", err
		}
		r = xr
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
