// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so integration tests remain runnable in partial
// environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    dir := testutil.RequireModelDir(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// DefaultModelDir is where the MusicGen export is looked for, relative to the
// repository root, when POING_MODEL_DIR is unset.
const DefaultModelDir = "models/musicgen-small"

// modelFiles must all be present for a model directory to be usable.
var modelFiles = []string{
	"text_encoder.onnx",
	"decoder_model_merged.onnx",
	"encodec_decode.onnx",
}

// tokenizerFiles are accepted alternatives; one must be present.
var tokenizerFiles = []string{"tokenizer.json", "spiece.model"}

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the POING_ORT_LIB env var, then the
// ORT_LIBRARY_PATH env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	for _, env := range []string{"POING_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- Integration tests intentionally accept explicit env-provided local library paths.
			if _, err := os.Stat(p); err == nil {
				return
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
			return
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set POING_ORT_LIB or ORT_LIBRARY_PATH")
}

// RequireModelDir returns a MusicGen model directory or skips the test. It
// uses POING_MODEL_DIR when set and otherwise searches DefaultModelDir in the
// working directory and its parents.
func RequireModelDir(tb testing.TB) string {
	tb.Helper()

	dir := os.Getenv("POING_MODEL_DIR")
	if dir == "" {
		dir = findUp(DefaultModelDir)
	}

	if dir == "" {
		tb.Skipf("model directory not found; set POING_MODEL_DIR or place an export under %s", DefaultModelDir)
		return ""
	}

	for _, f := range modelFiles {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			tb.Skipf("model directory %q is incomplete: %v", dir, err)
			return ""
		}
	}

	for _, f := range tokenizerFiles {
		if _, err := os.Stat(filepath.Join(dir, f)); err == nil {
			return dir
		}
	}

	tb.Skipf("model directory %q has no tokenizer (%v)", dir, tokenizerFiles)

	return ""
}

// findUp looks for rel in the working directory and each parent.
func findUp(rel string) string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(wd, rel)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}

		parent := filepath.Dir(wd)
		if parent == wd {
			return ""
		}
		wd = parent
	}
}
