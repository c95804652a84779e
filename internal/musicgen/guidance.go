package musicgen

import (
	"fmt"

	"github.com/gijzelaerr/poing/internal/onnx"
)

// BuildBatch doubles the encoder batch for classifier-free guidance. The
// conditional half comes first; the unconditional half is all zeros for both
// hidden states and mask, not an encoding of an empty prompt.
func BuildBatch(condHidden, condMask *onnx.Tensor) (hidden, mask *onnx.Tensor, err error) {
	shape := condHidden.Shape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, nil, fmt.Errorf("%w: encoder hidden states %v, want [1, seq, dim]", ErrShape, shape)
	}

	maskData, err := onnx.Extract[int64](condMask)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: attention mask: %w", ErrShape, err)
	}

	if int64(len(maskData)) != shape[1] {
		return nil, nil, fmt.Errorf("%w: attention mask length %d, hidden sequence %d", ErrShape, len(maskData), shape[1])
	}

	uncond, err := onnx.NewZeroTensor("float32", shape)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrShape, err)
	}

	hidden, err = onnx.ConcatDim0(condHidden, uncond)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrShape, err)
	}

	batchMask := make([]int64, 2*len(maskData))
	copy(batchMask, maskData)

	mask, err = onnx.NewTensor(batchMask, []int64{2, shape[1]})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrShape, err)
	}

	return hidden, mask, nil
}

// Combine returns uncond + scale*(cond-uncond) elementwise.
func Combine(cond, uncond []float32, scale float32) ([]float32, error) {
	if len(cond) != len(uncond) {
		return nil, fmt.Errorf("%w: guidance over %d vs %d logits", ErrShape, len(cond), len(uncond))
	}

	out := make([]float32, len(cond))
	for i := range cond {
		out[i] = uncond[i] + scale*(cond[i]-uncond[i])
	}

	return out, nil
}
