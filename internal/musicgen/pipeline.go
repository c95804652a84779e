package musicgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gijzelaerr/poing/internal/config"
	"github.com/gijzelaerr/poing/internal/onnx"
	"github.com/gijzelaerr/poing/internal/prompt"
	"github.com/gijzelaerr/poing/internal/tokenizer"
)

// Graphs are the three model capabilities a pipeline drives.
type Graphs struct {
	TextEncoder onnx.GraphRunner
	Decoder     onnx.GraphRunner
	Codec       onnx.GraphRunner
}

func (g Graphs) validate() error {
	var errs []error
	if g.TextEncoder == nil {
		errs = append(errs, fmt.Errorf("%s graph is nil", GraphTextEncoder))
	}
	if g.Decoder == nil {
		errs = append(errs, fmt.Errorf("%s graph is nil", GraphDecoder))
	}
	if g.Codec == nil {
		errs = append(errs, fmt.Errorf("%s graph is nil", GraphCodec))
	}

	return errors.Join(errs...)
}

// Pipeline generates audio from text with one loaded set of graphs.
// Generate calls on the same Pipeline run one at a time.
type Pipeline struct {
	mu      sync.Mutex
	cfg     ModelConfig
	graphs  Graphs
	names   []layerNames
	encoder *TextEncoder
	codec   *Codec
}

// New builds a pipeline from already-loaded graphs and a tokenizer.
func New(cfg ModelConfig, graphs Graphs, tok tokenizer.Tokenizer) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	if err := graphs.validate(); err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, errors.New("tokenizer is nil")
	}

	return &Pipeline{
		cfg:     cfg,
		graphs:  graphs,
		names:   newLayerNames(cfg.NumLayers),
		encoder: NewTextEncoder(tok, graphs.TextEncoder),
		codec:   NewCodec(graphs.Codec),
	}, nil
}

// LoadOptions configure Load.
type LoadOptions struct {
	Runtime config.RuntimeConfig
	// TokenizerFile is resolved relative to the model directory. Empty picks
	// tokenizer.json, then spiece.model.
	TokenizerFile string
}

// Load opens a MusicGen ONNX export from dir.
func Load(dir string, opts LoadOptions) (*Pipeline, error) {
	if err := ValidateModelDir(dir, opts.TokenizerFile); err != nil {
		return nil, err
	}

	tokFile, err := ResolveTokenizer(dir, opts.TokenizerFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModelDir, err)
	}

	cfg, err := LoadModelConfig(dir)
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.Open(filepath.Join(dir, tokFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModelDir, err)
	}

	info, err := onnx.Bootstrap(opts.Runtime)
	if err != nil {
		return nil, fmt.Errorf("onnx runtime: %w", err)
	}

	var sessions []onnx.Session
	for _, g := range []struct{ name, file string }{
		{GraphTextEncoder, TextEncoderFile},
		{GraphDecoder, DecoderFile},
		{GraphCodec, CodecFile},
	} {
		s, err := onnx.NewSession(g.name, filepath.Join(dir, g.file))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidModelDir, err)
		}
		sessions = append(sessions, s)
	}

	runners, err := onnx.OpenRunners(sessions, onnx.RunnerConfig{
		LibraryPath:    info.LibraryPath,
		APIVersion:     opts.Runtime.APIVersion,
		IntraOpThreads: opts.Runtime.IntraOpThreads,
	})
	if err != nil {
		return nil, err
	}

	p, err := New(cfg, Graphs{
		TextEncoder: runners[GraphTextEncoder],
		Decoder:     runners[GraphDecoder],
		Codec:       runners[GraphCodec],
	}, tokenizer.WithEOS(tok, cfg.EOSToken))
	if err != nil {
		onnx.CloseAll(runners)
		return nil, err
	}

	slog.Info("loaded model", "dir", dir, "codebooks", cfg.NumCodebooks, "layers", cfg.NumLayers, "sample_rate", cfg.SampleRate)

	return p, nil
}

// Config returns the model configuration the pipeline runs with.
func (p *Pipeline) Config() ModelConfig { return p.cfg }

// SampleRate is the rate of the samples Generate returns.
func (p *Pipeline) SampleRate() int { return p.cfg.SampleRate }

// Generate turns text into mono samples at SampleRate. progress, if non-nil,
// receives non-decreasing values in [0, 1] ending with 1.
func (p *Pipeline) Generate(ctx context.Context, text string, params Params, progress func(float32)) ([]float32, error) {
	text, err := prompt.Normalize(text)
	if err != nil {
		return nil, err
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seed := params.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		slog.Debug("using time-derived seed", "seed", seed)
	}

	start := time.Now()

	hidden, mask, err := p.encoder.Encode(ctx, text)
	if err != nil {
		return nil, err
	}

	batchHidden, batchMask, err := BuildBatch(hidden, mask)
	if err != nil {
		return nil, err
	}

	s, err := newSession(p.cfg, p.names, p.graphs.Decoder, NewSampler(seed), params, batchHidden, batchMask)
	if err != nil {
		return nil, err
	}

	grid, err := s.run(ctx, progress)
	if err != nil {
		return nil, err
	}

	aligned, err := grid.Undelay(p.cfg.SilenceToken)
	if err != nil {
		return nil, err
	}

	samples, err := p.codec.Decode(ctx, aligned)
	if err != nil {
		return nil, err
	}

	slog.Info("generation complete",
		"frames", aligned.Length,
		"samples", len(samples),
		"seconds", float64(len(samples))/float64(p.cfg.SampleRate),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return samples, nil
}

// Close releases the graphs. The pipeline must not be used afterwards.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, g := range []onnx.GraphRunner{p.graphs.TextEncoder, p.graphs.Decoder, p.graphs.Codec} {
		g.Close()
	}
}

// Generate loads the models in modelDir, generates once, and releases them.
func Generate(ctx context.Context, text, modelDir string, params Params, progress func(float32)) ([]float32, error) {
	if _, err := prompt.Normalize(text); err != nil {
		return nil, err
	}

	p, err := Load(modelDir, LoadOptions{})
	if err != nil {
		return nil, err
	}
	defer p.Close()

	return p.Generate(ctx, text, params, progress)
}
