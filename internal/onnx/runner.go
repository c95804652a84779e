//go:build !windows && !(js && wasm)

package onnx

import (
	"context"
	"fmt"
	"slices"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
	// IntraOpThreads caps per-node parallelism. Zero keeps ORT's default.
	IntraOpThreads int
}

// Runner owns one ORT session and the runtime handle it was created from,
// so each graph can be closed on its own.
type Runner struct {
	name    string
	path    string
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session

	inputNames  []string
	outputNames []string
}

// NewRunner loads the graph described by meta.
func NewRunner(meta Session, cfg RunnerConfig) (*Runner, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = DefaultAPIVersion
	}

	r := &Runner{name: meta.Name, path: meta.Path}
	if err := r.open(cfg); err != nil {
		r.Close()
		return nil, fmt.Errorf("open %s (%s): %w", meta.Name, meta.Path, err)
	}

	openRunners.Add(1)

	return r, nil
}

func (r *Runner) open(cfg RunnerConfig) error {
	var err error

	r.runtime, err = ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}

	r.env, err = r.runtime.NewEnv("poing-"+r.name, ort.LoggingLevelWarning)
	if err != nil {
		return fmt.Errorf("env: %w", err)
	}

	var opts *ort.SessionOptions
	if cfg.IntraOpThreads > 0 {
		opts = &ort.SessionOptions{IntraOpNumThreads: cfg.IntraOpThreads}
	}

	r.session, err = r.runtime.NewSession(r.env, r.path, opts)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	r.inputNames = slices.Clone(r.session.InputNames())
	r.outputNames = slices.Clone(r.session.OutputNames())

	return nil
}

// Run executes the graph. Inputs must match the graph's declared input names
// exactly and every tensor must pass CheckBindable.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("run %q: %w", r.name, ErrRunnerClosed)
	}

	if err := MatchInputs(r.inputNames, inputs); err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}

	if err := CheckInputs(inputs); err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}

	values := make(map[string]*ort.Value, len(inputs))
	defer closeORTValues(values)

	for name, t := range inputs {
		v, err := tensorToORT(r.runtime, t)
		if err != nil {
			return nil, fmt.Errorf("run %q: input %q: %w", r.name, name, err)
		}
		values[name] = v
	}

	outputs, err := r.session.Run(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}
	defer closeORTValues(outputs)

	results := make(map[string]*Tensor, len(outputs))
	for name, v := range outputs {
		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("run %q: output %q: %w", r.name, name, err)
		}
		results[name] = t
	}

	return results, nil
}

// InputNames returns the graph's declared inputs in session order.
func (r *Runner) InputNames() []string { return slices.Clone(r.inputNames) }

// OutputNames returns the graph's declared outputs in session order.
func (r *Runner) OutputNames() []string { return slices.Clone(r.outputNames) }

// Close releases the session, env and runtime. Safe to call multiple times.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
		r.session = nil
		openRunners.Add(-1)
	}

	if r.env != nil {
		r.env.Close()
		r.env = nil
	}

	if r.runtime != nil {
		_ = r.runtime.Close()
		r.runtime = nil
	}
}

// Name returns the graph name.
func (r *Runner) Name() string {
	return r.name
}

// tensorToORT hands the backing slice to ORT without copying. Cache tensors
// are re-sent every decoder step.
func tensorToORT(runtime *ort.Runtime, t *Tensor) (*ort.Value, error) {
	if err := CheckBindable(t); err != nil {
		return nil, err
	}

	switch data := t.data.(type) {
	case []float32:
		return ort.NewTensorValue(runtime, data, t.shape)
	case []int64:
		return ort.NewTensorValue(runtime, data, t.shape)
	case []bool:
		return ort.NewTensorValue(runtime, data, t.shape)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", t.dtype)
	}
}

func ortToTensor(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		return fromORT[float32](v, DTypeFloat32)
	case ort.ONNXTensorElementDataTypeInt64:
		return fromORT[int64](v, DTypeInt64)
	case ort.ONNXTensorElementDataTypeBool:
		return fromORT[bool](v, DTypeBool)
	default:
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

// fromORT adopts the slice GetTensorData returns, which is already a copy of
// ORT's buffer.
func fromORT[T float32 | int64 | bool](v *ort.Value, dtype TensorDType) (*Tensor, error) {
	data, shape, err := ort.GetTensorData[T](v)
	if err != nil {
		return nil, err
	}

	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	return &Tensor{dtype: dtype, shape: shape, data: data}, nil
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
