package musicgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gijzelaerr/poing/internal/onnx"
)

type sessionState int

const (
	stateInit sessionState = iota
	stateStepping
	stateDone
)

func (s sessionState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateStepping:
		return "stepping"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("sessionState(%d)", int(s))
	}
}

const debugLogEvery = 50

// session is one run of the decoder loop. It is created per Generate call and
// discarded afterwards; nothing in it is shared between sessions.
type session struct {
	cfg       ModelConfig
	decoder   onnx.GraphRunner
	sampler   *Sampler
	guidance  float32
	topK      int
	maxLength int

	hidden *onnx.Tensor
	mask   *onnx.Tensor

	grid  *Grid
	cache *Cache
	step  int
	state sessionState
}

func newSession(cfg ModelConfig, names []layerNames, decoder onnx.GraphRunner, sampler *Sampler, params Params, hidden, mask *onnx.Tensor) (*session, error) {
	maxLength := params.MaxLength(cfg)

	grid, err := NewGrid(cfg.NumCodebooks, maxLength, cfg.PadToken, cfg.BOSToken)
	if err != nil {
		return nil, err
	}

	cache, err := newCache(cfg, 2, names)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:       cfg,
		decoder:   decoder,
		sampler:   sampler,
		guidance:  params.GuidanceScale,
		topK:      params.TopK,
		maxLength: maxLength,
		hidden:    hidden,
		mask:      mask,
		grid:      grid,
		cache:     cache,
		state:     stateInit,
	}, nil
}

// run steps the decoder maxLength-1 times and returns the filled grid.
// progress may be nil.
func (s *session) run(ctx context.Context, progress func(float32)) (*Grid, error) {
	if s.state != stateInit {
		return nil, fmt.Errorf("%w: session already %s", ErrGeneration, s.state)
	}

	s.state = stateStepping
	steps := s.maxLength - 1

	for s.step < steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w at step %d: %w", ErrCancelled, s.step, context.Cause(ctx))
		}

		if err := s.advance(ctx); err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: step %d: %w", ErrGeneration, s.step, err)
		}

		if progress != nil {
			progress(float32(s.step) / float32(steps))
		}

		if s.step%debugLogEvery == 0 {
			slog.Debug("decoder step", "step", s.step, "of", steps, "self_len", s.cache.SelfLen())
		}

		s.step++
	}

	s.state = stateDone
	if progress != nil {
		progress(1)
	}

	slog.Debug("decoder loop complete", "steps", steps, "codebooks", s.cfg.NumCodebooks)

	return s.grid, nil
}

// stepInputs assembles the decoder feed for the current step. Before the
// first update the cache holds placeholders and use_cache_branch is false.
func (s *session) stepInputs() (map[string]*onnx.Tensor, error) {
	ids, err := onnx.NewTensor(s.grid.Column(s.step), []int64{int64(s.grid.Rows()), 1})
	if err != nil {
		return nil, fmt.Errorf("%w: input_ids: %w", ErrShape, err)
	}

	useCache, err := onnx.NewBoolTensor([]bool{s.cache.Populated()}, []int64{1})
	if err != nil {
		return nil, fmt.Errorf("%w: use_cache_branch: %w", ErrShape, err)
	}

	inputs := make(map[string]*onnx.Tensor, 4+4*s.cache.NumLayers())
	inputs["encoder_attention_mask"] = s.mask
	inputs["encoder_hidden_states"] = s.hidden
	inputs["input_ids"] = ids
	inputs["use_cache_branch"] = useCache
	s.cache.AddInputs(inputs)

	return inputs, nil
}

// advance runs one decoder invocation and writes column step+1.
func (s *session) advance(ctx context.Context) error {
	rows := s.grid.Rows()

	inputs, err := s.stepInputs()
	if err != nil {
		return err
	}

	outputs, err := s.decoder.Run(ctx, inputs)
	if err != nil {
		// A graph aborted by cancellation is still a cancellation.
		if ctx.Err() != nil {
			return fmt.Errorf("%w at step %d: %w", ErrCancelled, s.step, context.Cause(ctx))
		}
		return invocationError(GraphDecoder, err)
	}

	if err := s.cache.Update(outputs); err != nil {
		return err
	}

	logitsTensor, ok := outputs["logits"]
	if !ok {
		return missingOutput(GraphDecoder, "logits")
	}

	logits, err := onnx.Extract[float32](logitsTensor)
	if err != nil {
		return invocationError(GraphDecoder, err)
	}

	vocab := s.cfg.VocabSize
	if len(logits) != rows*vocab {
		return fmt.Errorf("%w: logits has %d values, want %d rows of %d", ErrShape, len(logits), rows, vocab)
	}

	c := s.cfg.NumCodebooks
	t := s.step + 1
	for cb := range c {
		cond := logits[cb*vocab : (cb+1)*vocab]
		uncond := logits[(cb+c)*vocab : (cb+c+1)*vocab]

		guided, err := Combine(cond, uncond, s.guidance)
		if err != nil {
			return err
		}

		tok, err := s.sampler.Sample(guided, s.topK)
		if err != nil {
			return fmt.Errorf("sampling codebook %d: %w", cb, err)
		}

		if err := s.grid.WriteMirrored(cb, t, tok); err != nil {
			return err
		}
	}

	return nil
}
