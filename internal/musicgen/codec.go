package musicgen

import (
	"context"
	"fmt"

	"github.com/gijzelaerr/poing/internal/onnx"
)

// Codec wraps the EnCodec decoder graph.
type Codec struct {
	runner onnx.GraphRunner
}

func NewCodec(runner onnx.GraphRunner) *Codec {
	return &Codec{runner: runner}
}

// Decode converts aligned codebook tokens into mono samples at the codec's
// native rate.
func (c *Codec) Decode(ctx context.Context, aligned *Aligned) ([]float32, error) {
	if aligned == nil || aligned.Length < 1 || len(aligned.Tokens) != aligned.Codebooks*aligned.Length {
		return nil, fmt.Errorf("%w: codec input is empty or ragged", ErrShape)
	}

	codes, err := onnx.NewTensor(aligned.Tokens, []int64{1, 1, int64(aligned.Codebooks), int64(aligned.Length)})
	if err != nil {
		return nil, fmt.Errorf("%w: audio_codes: %w", ErrShape, err)
	}

	outputs, err := c.runner.Run(ctx, map[string]*onnx.Tensor{"audio_codes": codes})
	if err != nil {
		return nil, invocationError(GraphCodec, err)
	}

	values, ok := outputs["audio_values"]
	if !ok {
		return nil, missingOutput(GraphCodec, "audio_values")
	}

	samples, err := onnx.Extract[float32](values)
	if err != nil {
		return nil, invocationError(GraphCodec, err)
	}

	return samples, nil
}
