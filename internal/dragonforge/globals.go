package dragonforge

import (
	"embed"
	"errors"
	"sync/atomic"

	"github.com/gookit/color"
)

// GLOBAL STATE
// We use a value of 1 for critical and 0 for non-critical/default.
var isCriticalAtomic atomic.Int32

// Fixed product identity. The package prefix and the canonical library
// name must never vary per variant: downstream loaders key on them.
const (
	packagePrefix = "Dragon"
	packageVendor = "dragonforge"
	packageAuthor = "dragonforge contributors"
	driverLibName = "vulkan.dragon.so"
	metaSchema    = 1
	packageMinAPI = 27

	// Single ninja target we compile. Building the full tree would take
	// hours and fill the disk with artifacts packaging never touches.
	artifactRelPath = "src/freedreno/vulkan/libvulkan_freedreno.so"

	upstreamPrimaryURL = "https://gitlab.freedesktop.org/mesa/mesa.git"
	upstreamMirrorURL  = "https://github.com/Mesa3D/mesa.git"
	upstreamBranch     = "main"
	versionMarkerFile  = "VERSION"

	ndkRelease = "android-ndk-r27c"
	ndkURL     = "https://dl.google.com/android/repository/android-ndk-r27c-linux.zip"
	androidAPI = 30
)

// Global variables
var (
	CacheDir     string
	WorkDir      string // the shared mesa working copy lives here
	ToolchainDir string
	LogDir       string
	OutDir       string
	tmpDir       string
	Debug        bool
	Verbose      bool
	DryRun       bool
	Jobs         int
	ConfigFile   = "/etc/dragonforge.conf"
	UploadMirror string
	version      = "dev"     // overridden at build time
	buildDate    = "unknown" // overridden at build time

	errAcquisition   = errors.New("all sources exhausted")
	errUnknownSpell  = errors.New("spell not found")
	errBuildFailed   = errors.New("build failed")
	errPackageFailed = errors.New("packaging failed")

	// Global executor (declared, to be assigned in Main)
	UserExec *Executor

	//go:embed assets/spells/*.patch
	embeddedSpells embed.FS
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
