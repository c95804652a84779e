package onnx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gijzelaerr/poing/internal/config"
)

func resetRuntimeStateForTest(t *testing.T) {
	t.Helper()

	openRunners.Store(0)
	if err := Shutdown(); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestDetectRuntimePrefersPOINGORTLIB(t *testing.T) {
	tmp := t.TempDir()
	lib := filepath.Join(tmp, "libonnxruntime.so")
	if err := os.WriteFile(lib, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fake lib: %v", err)
	}

	t.Setenv("POING_ORT_LIB", lib)
	t.Setenv("ORT_LIBRARY_PATH", filepath.Join(tmp, "does-not-exist"))

	info, err := DetectRuntime(config.RuntimeConfig{})
	if err != nil {
		t.Fatalf("DetectRuntime failed: %v", err)
	}
	if info.LibraryPath != lib {
		t.Fatalf("expected %q, got %q", lib, info.LibraryPath)
	}
	if info.Source != LibraryEnv {
		t.Fatalf("source = %q, want %s", info.Source, LibraryEnv)
	}
}

func TestDetectRuntimeInfersVersion(t *testing.T) {
	tmp := t.TempDir()
	lib := filepath.Join(tmp, "libonnxruntime.so.1.22.0")
	if err := os.WriteFile(lib, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fake lib: %v", err)
	}

	t.Setenv("ORT_VERSION", "")

	info, err := DetectRuntime(config.RuntimeConfig{ORTLibraryPath: lib})
	if err != nil {
		t.Fatalf("DetectRuntime failed: %v", err)
	}
	if info.Version != "1.22.0" {
		t.Fatalf("expected version 1.22.0, got %q", info.Version)
	}
}

func TestDetectRuntimeMissingPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.so")
	info, err := DetectRuntime(config.RuntimeConfig{ORTLibraryPath: missing})
	if !errors.Is(err, ErrRuntimeNotFound) {
		t.Fatalf("err = %v, want ErrRuntimeNotFound", err)
	}
	if info.LibraryPath != missing || info.Source != "config" {
		t.Fatalf("info = %+v, want the configured path reported", info)
	}
	if !strings.Contains(err.Error(), "config points at") {
		t.Fatalf("error %q does not name its source", err)
	}
}

func TestSearchPathsPerPlatform(t *testing.T) {
	for goos, suffix := range map[string]string{
		"linux":   ".so",
		"darwin":  ".dylib",
		"windows": ".dll",
	} {
		paths := searchPaths(goos)
		if len(paths) == 0 {
			t.Fatalf("%s: no search paths", goos)
		}
		for _, p := range paths {
			if !strings.HasSuffix(p, suffix) {
				t.Errorf("%s: search path %q lacks %s", goos, p, suffix)
			}
		}
	}
}

func TestBootstrapRunsOnce(t *testing.T) {
	resetRuntimeStateForTest(t)
	t.Setenv(LibraryEnv, "")

	tmp := t.TempDir()
	lib1 := filepath.Join(tmp, "lib1.so")
	lib2 := filepath.Join(tmp, "lib2.so")
	if err := os.WriteFile(lib1, []byte("one"), 0o644); err != nil {
		t.Fatalf("write lib1: %v", err)
	}
	if err := os.WriteFile(lib2, []byte("two"), 0o644); err != nil {
		t.Fatalf("write lib2: %v", err)
	}

	info1, err := Bootstrap(config.RuntimeConfig{ORTLibraryPath: lib1})
	if err != nil {
		t.Fatalf("first bootstrap failed: %v", err)
	}
	info2, err := Bootstrap(config.RuntimeConfig{ORTLibraryPath: lib2})
	if err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}

	if info1.LibraryPath != lib1 {
		t.Fatalf("expected first lib path %q, got %q", lib1, info1.LibraryPath)
	}
	if info2.LibraryPath != lib1 {
		t.Fatalf("expected once semantics to keep %q, got %q", lib1, info2.LibraryPath)
	}

	if err := Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestShutdownRestoresEnvironment(t *testing.T) {
	resetRuntimeStateForTest(t)

	lib := filepath.Join(t.TempDir(), "libonnxruntime.so")
	if err := os.WriteFile(lib, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write fake lib: %v", err)
	}

	t.Setenv(LibraryEnv, "previous")

	if _, err := Bootstrap(config.RuntimeConfig{ORTLibraryPath: lib}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if got := os.Getenv(LibraryEnv); got != lib {
		t.Fatalf("%s = %q after Bootstrap, want %q", LibraryEnv, got, lib)
	}

	if err := Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := os.Getenv(LibraryEnv); got != "previous" {
		t.Fatalf("%s = %q after Shutdown, want previous", LibraryEnv, got)
	}
}

func TestShutdownRefusesWithOpenRunners(t *testing.T) {
	resetRuntimeStateForTest(t)

	openRunners.Store(2)
	t.Cleanup(func() { openRunners.Store(0) })

	if err := Shutdown(); !errors.Is(err, ErrRunnersOpen) {
		t.Fatalf("Shutdown() = %v, want ErrRunnersOpen", err)
	}
}
