//go:build !windows && !(js && wasm)

package onnx

import (
	"context"
	"errors"
	"testing"
)

// A zero-length cache must be rejected before the ORT binding sees it; the
// binding itself fails with an opaque "data cannot be empty".
func TestTensorToORT_RejectsEmptyCache(t *testing.T) {
	empty, err := NewZeroTensor("float32", []int64{2, 16, 0, 64})
	if err != nil {
		t.Fatalf("NewZeroTensor: %v", err)
	}

	if _, err := tensorToORT(nil, empty); !errors.Is(err, ErrEmptyTensor) {
		t.Fatalf("tensorToORT(empty) = %v, want ErrEmptyTensor", err)
	}

	if _, err := tensorToORT(nil, nil); err == nil {
		t.Fatal("tensorToORT(nil) succeeded")
	}
}

func TestRunner_RunAfterClose(t *testing.T) {
	r := &Runner{name: "decoder_model_merged"}
	r.Close()

	ids, _ := NewTensor([]int64{1}, []int64{1, 1})
	if _, err := r.Run(context.Background(), map[string]*Tensor{"input_ids": ids}); !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("Run after Close = %v, want ErrRunnerClosed", err)
	}

	if got := r.InputNames(); len(got) != 0 {
		t.Fatalf("InputNames() = %v, want none", got)
	}
}
