package musicgen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// Graph file names inside a MusicGen ONNX export.
const (
	TextEncoderFile = "text_encoder.onnx"
	DecoderFile     = "decoder_model_merged.onnx"
	CodecFile       = "encodec_decode.onnx"
)

// Tokenizer files looked for when none is configured, in order.
const (
	TokenizerJSONFile     = "tokenizer.json"
	SentencePieceFile     = "spiece.model"
	defaultTokenizerNames = TokenizerJSONFile + " or " + SentencePieceFile
)

// Graph names used for runners and log fields.
const (
	GraphTextEncoder = "text_encoder"
	GraphDecoder     = "decoder_model_merged"
	GraphCodec       = "encodec_decode"
)

// GraphFiles lists the ONNX graphs a model directory must contain.
func GraphFiles() []string {
	return []string{TextEncoderFile, DecoderFile, CodecFile}
}

// ResolveTokenizer returns the tokenizer file name to load from dir. A
// non-empty override must exist; otherwise tokenizer.json is preferred over
// spiece.model.
func ResolveTokenizer(dir, override string) (string, error) {
	candidates := []string{TokenizerJSONFile, SentencePieceFile}
	want := defaultTokenizerNames
	if override != "" {
		candidates = []string{override}
		want = override
	}

	for _, name := range candidates {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && !info.IsDir() {
			return name, nil
		}
	}

	return "", fmt.Errorf("missing tokenizer (%s)", want)
}

// ValidateModelDir checks that dir exists and holds every graph and a
// tokenizer. The returned error lists all missing files and wraps
// ErrInvalidModelDir.
func ValidateModelDir(dir, tokenizerFile string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidModelDir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidModelDir, dir)
	}

	var missing []error
	for _, name := range GraphFiles() {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, fmt.Errorf("missing %s", name))
		}
	}

	if _, err := ResolveTokenizer(dir, tokenizerFile); err != nil {
		missing = append(missing, err)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidModelDir, dir, errors.Join(missing...))
	}

	return nil
}

// ModelConfig carries the decoder geometry and generation defaults of a
// MusicGen checkpoint.
type ModelConfig struct {
	NumCodebooks int
	NumLayers    int
	NumHeads     int
	HeadDim      int
	VocabSize    int

	PadToken     int64
	BOSToken     int64
	EOSToken     int64
	SilenceToken int64

	SampleRate int
	FrameRate  float64
	MaxLength  int

	GuidanceScale float32
	TopK          int
}

// DefaultModelConfig returns the musicgen-small geometry.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		NumCodebooks:  4,
		NumLayers:     24,
		NumHeads:      16,
		HeadDim:       64,
		VocabSize:     2048,
		PadToken:      2048,
		BOSToken:      2048,
		EOSToken:      1,
		SilenceToken:  0,
		SampleRate:    32000,
		FrameRate:     50,
		MaxLength:     1500,
		GuidanceScale: 3.0,
		TopK:          50,
	}
}

// Validate rejects geometry the decoder loop cannot run with.
func (c ModelConfig) Validate() error {
	switch {
	case c.NumCodebooks < 1:
		return fmt.Errorf("num_codebooks must be >= 1, got %d", c.NumCodebooks)
	case c.NumLayers < 1:
		return fmt.Errorf("num_layers must be >= 1, got %d", c.NumLayers)
	case c.NumHeads < 1 || c.HeadDim < 1:
		return fmt.Errorf("attention geometry %dx%d is invalid", c.NumHeads, c.HeadDim)
	case c.VocabSize < 1:
		return fmt.Errorf("vocab_size must be >= 1, got %d", c.VocabSize)
	case c.SampleRate < 1:
		return fmt.Errorf("sampling_rate must be >= 1, got %d", c.SampleRate)
	case c.FrameRate <= 0:
		return fmt.Errorf("frame rate must be > 0, got %v", c.FrameRate)
	case c.MaxLength < c.NumCodebooks+1:
		return fmt.Errorf("max_length %d leaves no aligned frames for %d codebooks", c.MaxLength, c.NumCodebooks)
	}

	return nil
}

type rawModelConfig struct {
	Decoder struct {
		NumCodebooks      int    `json:"num_codebooks"`
		NumHiddenLayers   int    `json:"num_hidden_layers"`
		NumAttentionHeads int    `json:"num_attention_heads"`
		HiddenSize        int    `json:"hidden_size"`
		VocabSize         int    `json:"vocab_size"`
		PadTokenID        *int64 `json:"pad_token_id"`
		BOSTokenID        *int64 `json:"bos_token_id"`
	} `json:"decoder"`
	AudioEncoder struct {
		SamplingRate     int   `json:"sampling_rate"`
		UpsamplingRatios []int `json:"upsampling_ratios"`
	} `json:"audio_encoder"`
	TextEncoder struct {
		EOSTokenID *int64 `json:"eos_token_id"`
	} `json:"text_encoder"`
}

type rawGenerationConfig struct {
	GuidanceScale float32 `json:"guidance_scale"`
	MaxLength     int     `json:"max_length"`
}

// LoadModelConfig reads config.json and generation_config.json from dir.
// Both files are optional; absent fields keep the musicgen-small defaults.
func LoadModelConfig(dir string) (ModelConfig, error) {
	cfg := DefaultModelConfig()

	raw, err := readJSON[rawModelConfig](filepath.Join(dir, "config.json"))
	if err != nil {
		return ModelConfig{}, err
	}

	if raw != nil {
		d := raw.Decoder
		cfg.NumCodebooks = firstNonZero(d.NumCodebooks, cfg.NumCodebooks)
		cfg.NumLayers = firstNonZero(d.NumHiddenLayers, cfg.NumLayers)
		cfg.NumHeads = firstNonZero(d.NumAttentionHeads, cfg.NumHeads)
		if d.HiddenSize > 0 && cfg.NumHeads > 0 {
			cfg.HeadDim = d.HiddenSize / cfg.NumHeads
		}
		cfg.VocabSize = firstNonZero(d.VocabSize, cfg.VocabSize)
		if d.PadTokenID != nil {
			cfg.PadToken = *d.PadTokenID
		}
		if d.BOSTokenID != nil {
			cfg.BOSToken = *d.BOSTokenID
		}
		if raw.TextEncoder.EOSTokenID != nil {
			cfg.EOSToken = *raw.TextEncoder.EOSTokenID
		}

		cfg.SampleRate = firstNonZero(raw.AudioEncoder.SamplingRate, cfg.SampleRate)
		if hop := product(raw.AudioEncoder.UpsamplingRatios); hop > 0 {
			cfg.FrameRate = float64(cfg.SampleRate) / float64(hop)
		}
	}

	gen, err := readJSON[rawGenerationConfig](filepath.Join(dir, "generation_config.json"))
	if err != nil {
		return ModelConfig{}, err
	}

	if gen != nil {
		cfg.GuidanceScale = firstNonZero(gen.GuidanceScale, cfg.GuidanceScale)
		cfg.MaxLength = firstNonZero(gen.MaxLength, cfg.MaxLength)
	}

	if err := cfg.Validate(); err != nil {
		return ModelConfig{}, fmt.Errorf("%w: %s: %w", ErrInvalidModelDir, dir, err)
	}

	return cfg, nil
}

// readJSON returns nil without error when path does not exist.
func readJSON[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalidModelDir, filepath.Base(path), err)
	}

	return &v, nil
}

func firstNonZero[T int | float32](vals ...T) T {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}

	var zero T
	return zero
}

func product(vals []int) int {
	if len(vals) == 0 {
		return 0
	}

	p := 1
	for _, v := range vals {
		if v <= 0 {
			return 0
		}
		p *= v
	}

	return p
}
