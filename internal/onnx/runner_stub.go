//go:build windows || (js && wasm)

package onnx

import (
	"context"
	"fmt"
)

// RunnerConfig holds ORT library settings for creating runners.
// Native ORT sessions are unavailable on this platform.
type RunnerConfig struct {
	LibraryPath    string
	APIVersion     uint32
	IntraOpThreads int
}

// Runner is unavailable on this platform. Supply a custom GraphRunner instead.
type Runner struct {
	name string
}

// NewRunner always returns an error on this platform.
func NewRunner(meta Session, _ RunnerConfig) (*Runner, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable on this platform for graph %q", meta.Name)
}

// Run always returns an error on this platform.
func (r *Runner) Run(_ context.Context, _ map[string]*Tensor) (map[string]*Tensor, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable on this platform for graph %q", r.name)
}

// InputNames returns nil on this platform.
func (r *Runner) InputNames() []string { return nil }

// OutputNames returns nil on this platform.
func (r *Runner) OutputNames() []string { return nil }

// Close is a no-op on this platform.
func (r *Runner) Close() {}

// Name returns the graph name.
func (r *Runner) Name() string {
	return r.name
}
