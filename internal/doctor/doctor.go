// Package doctor provides environment preflight checks for poing.
package doctor

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"

	"github.com/gijzelaerr/poing/internal/musicgen"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
	InfoMark = "•"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// ORTRuntime locates the ONNX Runtime library and describes it.
	ORTRuntime VersionFunc
	// ModelDir is the MusicGen export to verify. Empty skips the model checks.
	ModelDir string
	// TokenizerFile overrides tokenizer discovery inside ModelDir.
	TokenizerFile string
	// CPUFeatures describes the host's SIMD support. Defaults to DetectCPUFeatures.
	CPUFeatures func() string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

type checkResult struct {
	name   string
	detail string
	err    error
	info   bool
}

// Run executes all configured checks concurrently and writes one line per
// check to w, in a fixed order. Each line is prefixed with PassMark,
// FailMark, or InfoMark.
func Run(ctx context.Context, cfg Config, w io.Writer) Result {
	checks := []func() checkResult{
		func() checkResult { return checkRuntime(cfg) },
	}
	if cfg.ModelDir != "" {
		checks = append(checks,
			func() checkResult { return checkModelDir(cfg) },
			func() checkResult { return checkModelConfig(cfg) },
		)
	}
	checks = append(checks, func() checkResult { return checkCPU(cfg) })

	results := make([]checkResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = checkResult{name: "doctor", err: err}
				return nil
			}
			results[i] = check()
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for _, r := range results {
		switch {
		case r.err != nil:
			res.AddFailure(fmt.Sprintf("%s: %v", r.name, r.err))
			fmt.Fprintf(w, "%s %s: %v\n", FailMark, r.name, r.err)
		case r.info:
			fmt.Fprintf(w, "%s %s: %s\n", InfoMark, r.name, r.detail)
		default:
			fmt.Fprintf(w, "%s %s: %s\n", PassMark, r.name, r.detail)
		}
	}

	return res
}

func checkRuntime(cfg Config) checkResult {
	r := checkResult{name: "onnx runtime"}
	if cfg.ORTRuntime == nil {
		r.err = fmt.Errorf("no runtime detector configured")
		return r
	}
	r.detail, r.err = cfg.ORTRuntime()
	return r
}

func checkModelDir(cfg Config) checkResult {
	r := checkResult{name: "model dir", detail: cfg.ModelDir}
	r.err = musicgen.ValidateModelDir(cfg.ModelDir, cfg.TokenizerFile)
	return r
}

func checkModelConfig(cfg Config) checkResult {
	r := checkResult{name: "model config"}

	mc, err := musicgen.LoadModelConfig(cfg.ModelDir)
	if err != nil {
		r.err = err
		return r
	}

	r.detail = fmt.Sprintf("%d codebooks, %d layers, %d Hz, max %d steps",
		mc.NumCodebooks, mc.NumLayers, mc.SampleRate, mc.MaxLength)
	return r
}

func checkCPU(cfg Config) checkResult {
	detect := cfg.CPUFeatures
	if detect == nil {
		detect = DetectCPUFeatures
	}
	return checkResult{name: "cpu features", detail: detect(), info: true}
}

// DetectCPUFeatures lists the SIMD extensions ONNX Runtime's CPU kernels use.
func DetectCPUFeatures() string {
	var feats []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for _, f := range []struct {
			name string
			ok   bool
		}{
			{"sse4.1", cpu.X86.HasSSE41},
			{"avx", cpu.X86.HasAVX},
			{"avx2", cpu.X86.HasAVX2},
			{"fma", cpu.X86.HasFMA},
			{"avx512f", cpu.X86.HasAVX512F},
		} {
			if f.ok {
				feats = append(feats, f.name)
			}
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			feats = append(feats, "neon")
		}
		if cpu.ARM64.HasFPHP {
			feats = append(feats, "fp16")
		}
	}

	if len(feats) == 0 {
		return runtime.GOARCH + " (no SIMD extensions detected)"
	}

	return runtime.GOARCH + " " + strings.Join(feats, " ")
}
