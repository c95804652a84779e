package onnx

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrRunnerClosed is returned by Run after Close.
	ErrRunnerClosed = errors.New("runner is closed")
	// ErrInputMismatch is returned when the supplied input names differ from
	// the graph's declared inputs.
	ErrInputMismatch = errors.New("graph input mismatch")
)

// GraphRunner is the capability every model graph exposes: named tensors in,
// named tensors out. Runner implements it over ORT; tests supply fakes.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// CloseAll closes every runner in the map.
func CloseAll(runners map[string]GraphRunner) {
	for _, r := range runners {
		if r != nil {
			r.Close()
		}
	}
}

// MatchInputs checks inputs against a graph's declared input names. Both
// missing and unexpected names are reported. An empty declared list accepts
// anything.
func MatchInputs(declared []string, inputs map[string]*Tensor) error {
	if len(declared) == 0 {
		return nil
	}

	var missing, unexpected []string
	for _, name := range declared {
		if _, ok := inputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range inputs {
		if !slices.Contains(declared, name) {
			unexpected = append(unexpected, name)
		}
	}

	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}

	slices.Sort(unexpected)

	return fmt.Errorf("%w: missing %v, unexpected %v", ErrInputMismatch, missing, unexpected)
}
