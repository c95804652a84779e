package musicgen

import (
	"context"
	"fmt"

	"github.com/gijzelaerr/poing/internal/onnx"
	"github.com/gijzelaerr/poing/internal/tokenizer"
)

// TextEncoder turns a prompt into T5 hidden states.
type TextEncoder struct {
	tok    tokenizer.Tokenizer
	runner onnx.GraphRunner
}

func NewTextEncoder(tok tokenizer.Tokenizer, runner onnx.GraphRunner) *TextEncoder {
	return &TextEncoder{tok: tok, runner: runner}
}

// Encode tokenizes prompt and runs the text encoder graph. It returns the
// [1, seq, hidden] hidden states together with the [1, seq] attention mask.
func (e *TextEncoder) Encode(ctx context.Context, prompt string) (hidden, mask *onnx.Tensor, err error) {
	ids, err := e.tok.Encode(prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrTokenization, err)
	}

	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("%w: prompt produced no tokens", ErrTokenization)
	}

	ones := make([]int64, len(ids))
	for i := range ones {
		ones[i] = 1
	}

	shape := []int64{1, int64(len(ids))}
	idsTensor, err := onnx.NewTensor(ids, shape)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: input_ids: %w", ErrShape, err)
	}

	mask, err = onnx.NewTensor(ones, shape)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: attention_mask: %w", ErrShape, err)
	}

	outputs, err := e.runner.Run(ctx, map[string]*onnx.Tensor{
		"input_ids":      idsTensor,
		"attention_mask": mask,
	})
	if err != nil {
		return nil, nil, invocationError(GraphTextEncoder, err)
	}

	hidden, ok := outputs["last_hidden_state"]
	if !ok {
		return nil, nil, missingOutput(GraphTextEncoder, "last_hidden_state")
	}

	if hidden.Dim(0) != 1 || hidden.Dim(1) != int64(len(ids)) || len(hidden.Shape()) != 3 {
		return nil, nil, fmt.Errorf("%w: %s: last_hidden_state %v for %d tokens", ErrShape, GraphTextEncoder, hidden.Shape(), len(ids))
	}

	return hidden, mask, nil
}
