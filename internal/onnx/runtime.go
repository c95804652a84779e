package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"github.com/gijzelaerr/poing/internal/config"
)

// DefaultAPIVersion is the ORT C API version requested when none is configured.
const DefaultAPIVersion = 23

// LibraryEnv is exported by Bootstrap so child processes and later runners
// agree on the resolved library.
const LibraryEnv = "POING_ORT_LIB"

var (
	// ErrRuntimeNotFound is returned when no ORT shared library can be located.
	ErrRuntimeNotFound = errors.New("onnx runtime library not found")
	// ErrRunnersOpen is returned by Shutdown while runners are still open.
	ErrRunnersOpen = errors.New("onnx runners still open")
)

// RuntimeInfo describes the resolved ORT shared library.
type RuntimeInfo struct {
	LibraryPath string
	Version     string
	// Source is where LibraryPath came from: "config", an environment
	// variable name, or "search".
	Source      string
	Initialized bool
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var (
	bootstrapMu   sync.Mutex
	bootstrapInfo RuntimeInfo
	errBootstrap  error
	bootstrapped  bool
	prevLibEnv    *string

	openRunners atomic.Int64
)

// Bootstrap resolves the ORT shared library once per process and exports it
// as LibraryEnv. Later calls return the first result until Shutdown.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	bootstrapMu.Lock()
	defer bootstrapMu.Unlock()

	if bootstrapped {
		return bootstrapInfo, errBootstrap
	}
	bootstrapped = true

	info, err := DetectRuntime(cfg)
	if err != nil {
		errBootstrap = err
		return RuntimeInfo{}, err
	}

	if prev, ok := os.LookupEnv(LibraryEnv); ok {
		prevLibEnv = &prev
	}
	if err := os.Setenv(LibraryEnv, info.LibraryPath); err != nil {
		errBootstrap = fmt.Errorf("set %s: %w", LibraryEnv, err)
		return RuntimeInfo{}, errBootstrap
	}

	info.Initialized = true
	bootstrapInfo = info

	return info, nil
}

// Shutdown undoes Bootstrap: it restores LibraryEnv and lets the next
// Bootstrap detect again. Every Runner must be closed first.
func Shutdown() error {
	bootstrapMu.Lock()
	defer bootstrapMu.Unlock()

	if n := openRunners.Load(); n > 0 {
		return fmt.Errorf("%w: %d", ErrRunnersOpen, n)
	}

	if !bootstrapped {
		return nil
	}

	var err error
	if bootstrapInfo.Initialized {
		if prevLibEnv != nil {
			err = os.Setenv(LibraryEnv, *prevLibEnv)
		} else {
			err = os.Unsetenv(LibraryEnv)
		}
	}

	bootstrapped = false
	bootstrapInfo = RuntimeInfo{}
	errBootstrap = nil
	prevLibEnv = nil

	if err != nil {
		return fmt.Errorf("restore %s: %w", LibraryEnv, err)
	}

	return nil
}

type libraryHint struct {
	source string
	path   string
}

// explicitHints are checked in order; the first non-empty one must exist.
func explicitHints(cfg config.RuntimeConfig) []libraryHint {
	return []libraryHint{
		{source: "config", path: cfg.ORTLibraryPath},
		{source: LibraryEnv, path: os.Getenv(LibraryEnv)},
		{source: "ORT_LIBRARY_PATH", path: os.Getenv("ORT_LIBRARY_PATH")},
	}
}

// DetectRuntime locates the ORT shared library without loading it. An
// explicitly configured path that does not exist is an error rather than a
// reason to fall back to the search paths.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	for _, h := range explicitHints(cfg) {
		if h.path == "" {
			continue
		}

		info := RuntimeInfo{LibraryPath: h.path, Version: "unknown", Source: h.source}
		if _, err := os.Stat(h.path); err != nil {
			return info, fmt.Errorf("%w: %s points at %s: %w", ErrRuntimeNotFound, h.source, h.path, err)
		}

		info.Version = libraryVersion(cfg, h.path)

		return info, nil
	}

	for _, p := range searchPaths(goruntime.GOOS) {
		if _, err := os.Stat(p); err == nil {
			return RuntimeInfo{LibraryPath: p, Version: libraryVersion(cfg, p), Source: "search"}, nil
		}
	}

	return RuntimeInfo{LibraryPath: "not found", Version: "unknown"},
		fmt.Errorf("%w: set --ort-lib or %s", ErrRuntimeNotFound, LibraryEnv)
}

func searchPaths(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{"C:/onnxruntime/lib/onnxruntime.dll"}
	default:
		return []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
			"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
		}
	}
}

func libraryVersion(cfg config.RuntimeConfig, path string) string {
	if cfg.ORTVersion != "" {
		return cfg.ORTVersion
	}
	if v := os.Getenv("ORT_VERSION"); v != "" {
		return v
	}
	if v := inferVersionFromPath(path); v != "" {
		return v
	}

	return "unknown"
}

func inferVersionFromPath(path string) string {
	name := filepath.Base(path)
	if m := versionPattern.FindStringSubmatch(name); len(m) == 2 {
		return m[1]
	}

	return ""
}
